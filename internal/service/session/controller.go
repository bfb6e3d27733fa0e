package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/voyage/backend/internal/analysis/failure"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	"github.com/zhouzirui/voyage/backend/internal/observability/metrics"
	chatsvc "github.com/zhouzirui/voyage/backend/internal/service/chat"
	"github.com/zhouzirui/voyage/backend/internal/service/search"
	"github.com/zhouzirui/voyage/backend/internal/service/voice"
)

var (
	ErrNotReady    = errors.New("session: voice assistant is not ready")
	ErrCallPending = errors.New("session: another call operation is in progress")
)

// System messages appended on lifecycle transitions.
const (
	ReadyText       = "Voice assistant is ready. Tap the call button to start talking."
	NotReadyText    = "The voice assistant is still starting up. Please wait a moment and try again."
	CallStartedText = "Call started. I'm listening."
	CallEndedText   = "Call ended."
)

const cacheClearTimeout = 5 * time.Second

// ControllerConfig carries the call credentials and collaborators of a
// Controller. Cache, Metrics, Logger, OnChange and Now are optional.
type ControllerConfig struct {
	SessionID    string
	APIKey       string
	AssistantID  string
	ReadyTimeout time.Duration

	Cache    search.CacheClearer
	Metrics  *metrics.SessionMetrics
	Logger   *slog.Logger
	OnChange func()
	Now      func() time.Time
}

// Controller drives the call lifecycle of one session:
//
//	IDLE -> INITIALIZING -> READY <-> LISTENING
//
// with ERROR reachable from anywhere on an SDK failure. Every transition
// appends at most one system message to the conversation store. SDK
// calls are made without holding the lock because SDK event handlers
// re-enter the controller.
type Controller struct {
	mu       sync.Mutex
	session  chat.Session
	sdk      voice.Client
	store    *chatsvc.Store
	cfg      ControllerConfig
	logger   *slog.Logger
	sdkReady bool
	pending  bool
	version  uint64
	changed  chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
	cancels   []func()
}

// NewController wires a controller to sdk and subscribes to its ready,
// error and ended events.
func NewController(sdk voice.Client, store *chatsvc.Store, cfg ControllerConfig) *Controller {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		session: chat.Session{
			ID:        cfg.SessionID,
			State:     chat.StateIdle,
			StartedAt: cfg.Now(),
		},
		sdk:     sdk,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "controller", "session_id", cfg.SessionID),
		changed: make(chan struct{}),
		ready:   make(chan struct{}),
	}

	c.cancels = append(c.cancels,
		sdk.Subscribe(voice.EventReady, c.onReady),
		sdk.Subscribe(voice.EventError, func(ev voice.Event) { c.OnSDKError(ev.Message) }),
		sdk.Subscribe(voice.EventEnded, c.onEnded),
	)
	return c
}

// Session returns a copy of the session record.
func (c *Controller) Session() chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.session
	if c.session.EndedAt != nil {
		ended := *c.session.EndedAt
		out.EndedAt = &ended
	}
	return out
}

// State returns the current lifecycle state.
func (c *Controller) State() chat.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State
}

// Ready is closed once the SDK has signalled readiness.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Initialize starts the SDK handshake and waits for readiness, bounded by
// the configured ready timeout. It runs from IDLE, or from ERROR while the
// SDK has never been ready; otherwise it is a no-op.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.sdkReady || c.session.State == chat.StateInitializing {
		c.mu.Unlock()
		return nil
	}
	if c.session.State != chat.StateIdle && c.session.State != chat.StateError {
		c.mu.Unlock()
		return nil
	}
	c.transitionLocked(chat.StateInitializing, "")
	c.mu.Unlock()
	c.notifyChange()

	if err := c.sdk.Connect(ctx); err != nil {
		c.failInitialization(failure.FromError(err))
		return fmt.Errorf("session: connect voice sdk: %w", err)
	}

	timer := time.NewTimer(c.cfg.ReadyTimeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		state, changed := c.session.State, c.changed
		c.mu.Unlock()

		switch state {
		case chat.StateInitializing:
		case chat.StateError:
			return fmt.Errorf("session: voice sdk failed to initialize: %s", c.Session().LastErrorKind)
		default:
			return nil
		}

		select {
		case <-changed:
		case <-timer.C:
			c.failInitialization(failure.Timeout)
			return fmt.Errorf("session: voice sdk not ready after %s", c.cfg.ReadyTimeout)
		case <-ctx.Done():
			c.failInitialization(failure.FromError(ctx.Err()))
			return ctx.Err()
		}
	}
}

// Start places a call. Before the SDK is ready it only appends the "not
// ready" message and returns ErrNotReady. From READY, or from ERROR once
// the SDK has been ready, a successful SDK start enters LISTENING and
// clears the last error; a rejection enters ERROR with the classified
// reason.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.sdkReady {
		c.store.Append(chat.Message{Role: chat.RoleSystem, Text: NotReadyText})
		c.mu.Unlock()
		c.notifyChange()
		return ErrNotReady
	}
	if c.pending {
		c.mu.Unlock()
		return ErrCallPending
	}
	if c.session.State != chat.StateReady && c.session.State != chat.StateError {
		c.mu.Unlock()
		return nil
	}
	c.pending = true
	version := c.version
	c.mu.Unlock()

	err := c.sdk.Start(ctx, voice.StartOptions{APIKey: c.cfg.APIKey, AssistantID: c.cfg.AssistantID})

	c.mu.Lock()
	c.pending = false
	if err != nil {
		kind := failure.FromError(err)
		c.failLocked(kind, "sdk")
		c.mu.Unlock()
		c.notifyChange()
		return fmt.Errorf("session: start call: %w", err)
	}
	if c.version != version {
		// an SDK event moved the session while the call was being placed
		c.mu.Unlock()
		return nil
	}
	c.session.LastErrorKind = ""
	c.session.StartedAt = c.cfg.Now()
	c.session.EndedAt = nil
	c.transitionLocked(chat.StateListening, CallStartedText)
	c.mu.Unlock()
	c.notifyChange()

	c.clearCache(ctx)
	return nil
}

// End hangs up the active call and returns to READY. Outside LISTENING it
// is a no-op. A failing stop is handled like an SDK error.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.session.State != chat.StateListening || c.pending {
		c.mu.Unlock()
		return nil
	}
	c.pending = true
	c.mu.Unlock()

	err := c.sdk.Stop(ctx)

	c.mu.Lock()
	c.pending = false
	if err != nil {
		c.failLocked(failure.FromError(err), "sdk")
		c.mu.Unlock()
		c.notifyChange()
		return fmt.Errorf("session: end call: %w", err)
	}
	if c.session.State == chat.StateListening {
		c.endCallLocked()
	}
	c.mu.Unlock()
	c.notifyChange()
	return nil
}

// OnSDKError classifies a raw SDK failure, enters ERROR and tells the user
// what happened. It may be called at any time, from any goroutine.
func (c *Controller) OnSDKError(raw string) {
	kind := failure.Classify(raw)
	c.logger.Warn("voice sdk error", "kind", kind, "raw", raw)

	c.mu.Lock()
	c.failLocked(kind, "sdk")
	c.mu.Unlock()
	c.notifyChange()
}

// RecordFailure stores kind as the session's last error without changing
// state. Used for recoverable pipeline failures.
func (c *Controller) RecordFailure(kind failure.Kind) {
	c.mu.Lock()
	c.session.LastErrorKind = string(kind)
	c.mu.Unlock()

	c.cfg.Metrics.ObserveFailure(string(kind), "pipeline")
	c.notifyChange()
}

// Close drops the SDK subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Controller) onReady(voice.Event) {
	c.mu.Lock()
	c.sdkReady = true
	c.readyOnce.Do(func() { close(c.ready) })
	if c.session.State != chat.StateInitializing {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(chat.StateReady, ReadyText)
	c.mu.Unlock()
	c.notifyChange()
}

// onEnded handles a hang-up from the remote side.
func (c *Controller) onEnded(voice.Event) {
	c.mu.Lock()
	if c.session.State != chat.StateListening || c.pending {
		c.mu.Unlock()
		return
	}
	c.endCallLocked()
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Controller) failInitialization(kind failure.Kind) {
	c.mu.Lock()
	if c.session.State != chat.StateInitializing {
		c.mu.Unlock()
		return
	}
	c.failLocked(kind, "sdk")
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Controller) failLocked(kind failure.Kind, source string) {
	c.session.LastErrorKind = string(kind)
	c.cfg.Metrics.ObserveFailure(string(kind), source)
	c.transitionLocked(chat.StateError, failure.UserMessage(kind))
}

func (c *Controller) endCallLocked() {
	ended := c.cfg.Now()
	c.session.EndedAt = &ended
	c.transitionLocked(chat.StateReady, CallEndedText)
}

func (c *Controller) transitionLocked(to chat.State, message string) {
	from := c.session.State
	c.session.State = to
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})

	if message != "" {
		c.store.Append(chat.Message{Role: chat.RoleSystem, Text: message})
	}

	c.cfg.Metrics.ObserveTransition(string(from), string(to))
	c.logger.Info("session state changed", "from", from, "to", to, "last_error_kind", c.session.LastErrorKind)
}

func (c *Controller) notifyChange() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange()
	}
}

func (c *Controller) clearCache(ctx context.Context) {
	if c.cfg.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheClearTimeout)
	defer cancel()

	if err := c.cfg.Cache.ClearCache(ctx); err != nil {
		c.logger.Warn("failed to clear search cache", "error", err)
	}
}
