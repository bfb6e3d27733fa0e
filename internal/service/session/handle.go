package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/voyage/backend/internal/analysis/intent"
	"github.com/zhouzirui/voyage/backend/internal/config"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	"github.com/zhouzirui/voyage/backend/internal/observability/metrics"
	chatsvc "github.com/zhouzirui/voyage/backend/internal/service/chat"
	"github.com/zhouzirui/voyage/backend/internal/service/reply"
	"github.com/zhouzirui/voyage/backend/internal/service/search"
	"github.com/zhouzirui/voyage/backend/internal/service/voice"
	"github.com/zhouzirui/voyage/backend/internal/storage/kv"
)

const persistTimeout = 5 * time.Second

// Config holds the per-session settings shared by every handle.
type Config struct {
	APIKey        string
	AssistantID   string
	ReadyTimeout  time.Duration
	SearchTimeout time.Duration
	ThinkingDelay time.Duration
	Defaults      intent.QueryDefaults
}

// ConfigFrom extracts the session settings from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	defaults := intent.DefaultQueryDefaults()
	defaults.Origin = cfg.Pipeline.DefaultOrigin
	defaults.Destination = cfg.Pipeline.DefaultDestination
	defaults.Passengers = cfg.Pipeline.DefaultPassengers

	return Config{
		APIKey:        cfg.Widget.PublicKey,
		AssistantID:   cfg.Widget.AssistantID,
		ReadyTimeout:  cfg.Voice.ReadyTimeout,
		SearchTimeout: cfg.Pipeline.SearchTimeout,
		ThinkingDelay: cfg.Pipeline.ThinkingDelay,
		Defaults:      defaults,
	}
}

// Dependencies are the collaborators shared by every handle. Cache and
// Metrics are optional; Persistence defaults to an in-memory store.
type Dependencies struct {
	Persistence  kv.Store
	Searcher     search.Searcher
	Cache        search.CacheClearer
	Composer     *reply.Composer
	VoiceFactory func(sessionID string) voice.Client
	Metrics      *metrics.SessionMetrics
	Logger       *slog.Logger
}

// Handle is one widget instance: its transcript, call lifecycle and
// response pipeline. All callers share the handle they were given.
type Handle struct {
	id         string
	store      *chatsvc.Store
	controller *Controller
	pipeline   *Pipeline
	sdk        voice.Client
	logger     *slog.Logger

	persistMu sync.Mutex
	closeOnce sync.Once
}

// Open restores the transcript stored for id and wires a new handle
// around it. The SDK is not contacted until Initialize.
func Open(ctx context.Context, id string, cfg Config, deps Dependencies) (*Handle, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	store := chatsvc.NewStore(id, deps.Persistence)
	if err := store.Restore(ctx); err != nil {
		return nil, fmt.Errorf("session: restore %s: %w", id, err)
	}

	h := &Handle{
		id:     id,
		store:  store,
		sdk:    deps.VoiceFactory(id),
		logger: logger,
	}

	h.controller = NewController(h.sdk, store, ControllerConfig{
		SessionID:    id,
		APIKey:       cfg.APIKey,
		AssistantID:  cfg.AssistantID,
		ReadyTimeout: cfg.ReadyTimeout,
		Cache:        deps.Cache,
		Metrics:      deps.Metrics,
		Logger:       logger,
		OnChange:     h.persist,
	})
	h.pipeline = NewPipeline(store, deps.Searcher, deps.Composer, h.controller, PipelineConfig{
		SearchTimeout: cfg.SearchTimeout,
		ThinkingDelay: cfg.ThinkingDelay,
		Defaults:      cfg.Defaults,
		Metrics:       deps.Metrics,
		Logger:        logger,
		OnComplete:    h.persist,
	})
	return h, nil
}

func (h *Handle) ID() string { return h.id }

// Session returns the session record.
func (h *Handle) Session() chat.Session { return h.controller.Session() }

// Messages returns the transcript, placeholder included.
func (h *Handle) Messages() []chat.Message { return h.store.Snapshot() }

// Watch signals every transcript change.
func (h *Handle) Watch() (<-chan struct{}, func()) { return h.store.Watch() }

// Ready is closed once the voice SDK is ready.
func (h *Handle) Ready() <-chan struct{} { return h.controller.Ready() }

func (h *Handle) Initialize(ctx context.Context) error { return h.controller.Initialize(ctx) }

func (h *Handle) StartCall(ctx context.Context) error { return h.controller.Start(ctx) }

func (h *Handle) EndCall(ctx context.Context) error { return h.controller.End(ctx) }

// ReportSDKError forwards an error raised by the client-side SDK.
func (h *Handle) ReportSDKError(raw string) { h.controller.OnSDKError(raw) }

// Send answers utterance, waiting for the reply.
func (h *Handle) Send(ctx context.Context, utterance string) (Outcome, error) {
	return h.pipeline.Handle(ctx, utterance)
}

// Submit queues utterance without waiting.
func (h *Handle) Submit(utterance string) (<-chan Outcome, error) {
	return h.pipeline.Submit(utterance)
}

// Clear empties the transcript and persists the empty state.
func (h *Handle) Clear(ctx context.Context) error {
	h.persistMu.Lock()
	defer h.persistMu.Unlock()
	return h.store.Clear(ctx)
}

// Close stops the pipeline, drops SDK subscriptions and persists the
// transcript one last time.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.pipeline.Close()
		h.controller.Close()
		if closer, ok := h.sdk.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				h.logger.Warn("failed to close voice client", "error", err)
			}
		}
		h.persist()
	})
}

func (h *Handle) persist() {
	h.persistMu.Lock()
	defer h.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := h.store.Persist(ctx); err != nil {
		h.logger.Error("failed to persist transcript", "error", err)
	}
}
