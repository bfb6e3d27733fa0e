package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	require.NoError(t, store.Set(ctx, "conversation:a", []byte(`[1,2]`)))
	got, err := store.Get(ctx, "conversation:a")
	require.NoError(t, err)
	require.Equal(t, `[1,2]`, string(got))

	require.NoError(t, store.Set(ctx, "conversation:a", []byte(`[]`)))
	got, err = store.Get(ctx, "conversation:a")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(got))

	require.NoError(t, store.Delete(ctx, "conversation:a"))
	_, err = store.Get(ctx, "conversation:a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value))
	value[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseStore(t, NewRedisStore(client, time.Hour))
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, time.Minute)
	require.NoError(t, store.Set(context.Background(), "conversation:ttl", []byte("[]")))
	require.Equal(t, time.Minute, mr.TTL("conversation:ttl"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(context.Background(), "conversation:ttl")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStoreFromURLRejectsGarbage(t *testing.T) {
	_, err := NewRedisStoreFromURL("not a url", time.Hour)
	require.Error(t, err)
}
