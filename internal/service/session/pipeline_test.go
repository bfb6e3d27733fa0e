package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voyage/backend/internal/analysis/failure"
	"github.com/zhouzirui/voyage/backend/internal/analysis/intent"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	chatsvc "github.com/zhouzirui/voyage/backend/internal/service/chat"
	"github.com/zhouzirui/voyage/backend/internal/service/reply"
)

func newTestPipeline(t *testing.T, searcher *fakeSearcher, cfg PipelineConfig) (*Pipeline, *chatsvc.Store, *recorder) {
	t.Helper()
	store := chatsvc.NewStore("s-1", nil)
	rec := &recorder{}
	if cfg.SearchTimeout == 0 {
		cfg.SearchTimeout = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC) }
	}
	p := NewPipeline(store, searcher, newTestComposer(t), rec, cfg)
	t.Cleanup(p.Close)
	return p, store, rec
}

func TestHandleFlightSearchScenario(t *testing.T) {
	searcher := &fakeSearcher{result: oneFlight()}
	p, store, rec := newTestPipeline(t, searcher, PipelineConfig{})

	out, err := p.Handle(context.Background(), "Show me flights from Bangalore to Dubai")
	require.NoError(t, err)
	assert.Equal(t, intent.FlightSearch, out.Intent)
	assert.Equal(t, failure.None, out.FailureKind)

	msgs := store.Snapshot()
	require.Len(t, msgs, 2)
	requireNoEphemeral(t, msgs)
	requireIncreasing(t, msgs)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "Show me flights from Bangalore to Dubai", msgs[0].Text)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Text, "18000")
	assert.Contains(t, msgs[1].Text, "Emirates")
	assert.Equal(t, msgs[1], out.Reply)

	q := searcher.lastQuery()
	assert.Equal(t, "BLR", q.Origin)
	assert.Equal(t, "DXB", q.Destination)
	assert.Equal(t, "2025-12-08", q.DepartureDate)
	assert.Empty(t, rec.all())
}

func TestHandleTimeoutScenario(t *testing.T) {
	searcher := &fakeSearcher{delay: time.Second}
	p, store, rec := newTestPipeline(t, searcher, PipelineConfig{SearchTimeout: 30 * time.Millisecond})

	out, err := p.Handle(context.Background(), "flights to Goa")
	require.NoError(t, err)
	assert.Equal(t, failure.Timeout, out.FailureKind)

	msgs := store.Snapshot()
	require.Len(t, msgs, 2)
	requireNoEphemeral(t, msgs)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Text, "Sorry"))
	assert.Equal(t, []failure.Kind{failure.Timeout}, rec.all())
}

func TestHandleFailureKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"network", &url.Error{Op: "Post", URL: "http://search/api/search-flights", Err: errors.New("connection refused")}, failure.NetworkFailure},
		{"malformed", fmt.Errorf("search: decode /api/search-flights response: %w", errors.New("invalid character '<'")), failure.Unknown},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), failure.Timeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, store, rec := newTestPipeline(t, &fakeSearcher{err: tc.err}, PipelineConfig{})

			out, err := p.Handle(context.Background(), "hello")
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.FailureKind)
			assert.Equal(t, []failure.Kind{tc.want}, rec.all())
			assert.Contains(t, out.Reply.Text, failure.UserMessage(tc.want))
			requireNoEphemeral(t, store.Snapshot())
		})
	}
}

func TestHandleStaticIntents(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeSearcher{}, PipelineConfig{})

	cases := map[string]string{
		"hello there":             reply.GreetingText,
		"need a hotel in Riyadh":  reply.HotelText,
		"asdf":                    reply.FallbackText,
		"check my booking status": reply.BookingHelpText,
	}
	for utterance, want := range cases {
		out, err := p.Handle(context.Background(), utterance)
		require.NoError(t, err)
		assert.Equal(t, want, out.Reply.Text, utterance)
	}
}

func TestPlaceholderVisibleWhileSearching(t *testing.T) {
	gate := make(chan struct{})
	searcher := &fakeSearcher{result: oneFlight(), gate: gate}
	p, store, _ := newTestPipeline(t, searcher, PipelineConfig{})

	result, err := p.Submit("flights to Dubai")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.Len() == 2 }, time.Second, 5*time.Millisecond)
	msgs := store.Snapshot()
	assert.True(t, msgs[1].Ephemeral)
	assert.Equal(t, PlaceholderText, msgs[1].Text)

	close(gate)
	out := <-result
	assert.Contains(t, out.Reply.Text, "18000")
	requireNoEphemeral(t, store.Snapshot())
}

func TestQueuedInvocationsKeepOrder(t *testing.T) {
	searcher := &fakeSearcher{result: oneFlight(), delay: 5 * time.Millisecond}
	p, store, _ := newTestPipeline(t, searcher, PipelineConfig{})

	utterances := []string{"hello", "flights to Dubai", "asdf", "need a hotel", "hi again"}
	results := make([]<-chan Outcome, 0, len(utterances))
	for _, u := range utterances {
		ch, err := p.Submit(u)
		require.NoError(t, err)
		results = append(results, ch)
	}
	for _, ch := range results {
		<-ch
	}

	msgs := store.Snapshot()
	require.Len(t, msgs, 2*len(utterances))
	requireNoEphemeral(t, msgs)
	requireIncreasing(t, msgs)
	for i, u := range utterances {
		assert.Equal(t, chat.RoleUser, msgs[2*i].Role)
		assert.Equal(t, u, msgs[2*i].Text)
		assert.Equal(t, chat.RoleAssistant, msgs[2*i+1].Role)
	}
}

func TestThinkingDelayIsApplied(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeSearcher{}, PipelineConfig{ThinkingDelay: 40 * time.Millisecond})

	started := time.Now()
	_, err := p.Handle(context.Background(), "hello")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
}

func TestCallerContextDoesNotCancelInvocation(t *testing.T) {
	gate := make(chan struct{})
	p, store, _ := newTestPipeline(t, &fakeSearcher{result: oneFlight(), gate: gate}, PipelineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Handle(ctx, "flights to Dubai")
		done <- err
	}()

	require.Eventually(t, func() bool { return store.Len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool {
		msgs := store.Snapshot()
		return len(msgs) == 2 && !msgs[1].Ephemeral && strings.Contains(msgs[1].Text, "18000")
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitAfterClose(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeSearcher{}, PipelineConfig{})
	p.Close()

	_, err := p.Submit("hello")
	require.ErrorIs(t, err, ErrPipelineClosed)
	_, err = p.Handle(context.Background(), "hello")
	require.ErrorIs(t, err, ErrPipelineClosed)
}
