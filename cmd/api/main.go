package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zhouzirui/voyage/backend/internal/config"
	"github.com/zhouzirui/voyage/backend/internal/handler"
	"github.com/zhouzirui/voyage/backend/internal/observability/metrics"
	"github.com/zhouzirui/voyage/backend/internal/service/ai"
	"github.com/zhouzirui/voyage/backend/internal/service/reply"
	"github.com/zhouzirui/voyage/backend/internal/service/search"
	"github.com/zhouzirui/voyage/backend/internal/service/session"
	"github.com/zhouzirui/voyage/backend/internal/service/voice"
	"github.com/zhouzirui/voyage/backend/internal/storage/kv"
	"github.com/zhouzirui/voyage/backend/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("no .env file loaded, continuing with system environment variables only", "error", envErr)
	}
	if err := cfg.Widget.Validate(); err != nil {
		logger.Error("invalid widget configuration", "error", err)
		os.Exit(1)
	}

	persistence, closePersistence := newPersistence(ctx, cfg.Store, logger)
	defer closePersistence()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sessionMetrics := metrics.NewSessionMetrics(registry)

	searchClient := search.NewClient(cfg.Widget.APIURL, nil)

	// Initialize the optional rephrasing model
	var rephraser reply.Rephraser
	if cfg.AI.Enabled() && cfg.AI.Rephrase {
		aiService, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, replies will use templates only", "error", err)
		} else {
			rephraser = aiService
			logger.Info("AI rephrasing enabled", "model", cfg.AI.Model)
		}
	} else {
		logger.Info("Ark 凭证未配置或已关闭改写，使用模板回复")
	}

	composer, err := reply.NewComposer(ctx, rephraser, logger)
	if err != nil {
		logger.Error("failed to build reply composer", "error", err)
		os.Exit(1)
	}

	voiceFactory := newVoiceFactory(cfg, logger)

	sessions, err := session.NewService(session.ConfigFrom(cfg), session.Dependencies{
		Persistence:  persistence,
		Searcher:     searchClient,
		Cache:        searchClient,
		Composer:     composer,
		VoiceFactory: voiceFactory,
		Metrics:      sessionMetrics,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to initialize session service", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	router := handler.NewRouter(cfg, sessions, registry, logger)

	startServer(ctx, cfg.Server, router, logger)
}

// newPersistence picks Redis when REDIS_URL is set and falls back to memory.
func newPersistence(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (kv.Store, func()) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, conversations are kept in memory")
		return kv.NewMemoryStore(), func() {}
	}

	store, err := kv.NewRedisStoreFromURL(cfg.RedisURL, cfg.ConversationTTL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, falling back to memory store", "error", err)
		return kv.NewMemoryStore(), func() {}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, falling back to memory store", "error", err)
		_ = store.Close()
		return kv.NewMemoryStore(), func() {}
	}

	logger.Info("conversation persistence backed by redis", "ttl", cfg.ConversationTTL)
	return store, func() { _ = store.Close() }
}

func newVoiceFactory(cfg *config.Config, logger *slog.Logger) func(string) voice.Client {
	if cfg.Voice.SDKURL == "" || !cfg.Widget.VoiceEnabled() {
		logger.Info("语音助手未配置，通话功能不可用")
		return func(string) voice.Client { return voice.NewDisabledClient() }
	}

	return func(sessionID string) voice.Client {
		return voice.NewWSClient(voice.WSOptions{
			URL:       cfg.Voice.SDKURL,
			PublicKey: cfg.Widget.PublicKey,
		}, logger.With("session_id", sessionID))
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("voyage backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
