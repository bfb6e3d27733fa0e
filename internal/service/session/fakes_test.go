package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voyage/backend/internal/analysis/failure"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	"github.com/zhouzirui/voyage/backend/internal/model/travel"
	"github.com/zhouzirui/voyage/backend/internal/service/reply"
	"github.com/zhouzirui/voyage/backend/internal/service/voice"
)

type fakeSDK struct {
	*voice.Emitter

	mu             sync.Mutex
	readyOnConnect bool
	connectErr     error
	startErr       error
	stopErr        error
	connects       int
	starts         int
	stops          int
	lastStart      voice.StartOptions
	closed         bool
}

func newFakeSDK(readyOnConnect bool) *fakeSDK {
	return &fakeSDK{Emitter: voice.NewEmitter(), readyOnConnect: readyOnConnect}
}

func (f *fakeSDK) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	err, ready := f.connectErr, f.readyOnConnect
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if ready {
		f.Emit(voice.Event{Type: voice.EventReady})
	}
	return nil
}

func (f *fakeSDK) Start(_ context.Context, opts voice.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.lastStart = opts
	return f.startErr
}

func (f *fakeSDK) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeSDK) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSDK) counts() (connects, starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.starts, f.stops
}

type fakeSearcher struct {
	mu      sync.Mutex
	result  *travel.SearchResult
	err     error
	delay   time.Duration
	gate    chan struct{}
	queries []travel.FlightQuery
}

func (f *fakeSearcher) SearchFlights(ctx context.Context, q travel.FlightQuery) (*travel.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	result, err, delay, gate := f.result, f.err, f.delay, f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &travel.SearchResult{}
	}
	return result, nil
}

func (f *fakeSearcher) lastQuery() travel.FlightQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

type fakeCache struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCache) ClearCache(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type recorder struct {
	mu    sync.Mutex
	kinds []failure.Kind
}

func (r *recorder) RecordFailure(kind failure.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recorder) all() []failure.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]failure.Kind(nil), r.kinds...)
}

func oneFlight() *travel.SearchResult {
	return &travel.SearchResult{OutboundFlights: []travel.Flight{
		{Airline: "Emirates", FlightNumber: "EK 565", DepartureTime: "04:25", Price: 18000, Currency: "INR"},
	}}
}

func newTestComposer(t *testing.T) *reply.Composer {
	t.Helper()
	c, err := reply.NewComposer(context.Background(), nil, nil)
	require.NoError(t, err)
	return c
}

func systemTexts(msgs []chat.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Role == chat.RoleSystem {
			out = append(out, m.Text)
		}
	}
	return out
}

func requireNoEphemeral(t *testing.T, msgs []chat.Message) {
	t.Helper()
	for _, m := range msgs {
		require.False(t, m.Ephemeral, "unexpected ephemeral message %+v", m)
	}
}

func requireIncreasing(t *testing.T, msgs []chat.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		require.Greater(t, msgs[i].Sequence, msgs[i-1].Sequence)
	}
}
