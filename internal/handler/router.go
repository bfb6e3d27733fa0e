package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/voyage/backend/internal/config"
	"github.com/zhouzirui/voyage/backend/internal/handler/chat"
	"github.com/zhouzirui/voyage/backend/internal/handler/stream"
	"github.com/zhouzirui/voyage/backend/internal/handler/widget"
	middlewarePkg "github.com/zhouzirui/voyage/backend/internal/middleware"
	sessionService "github.com/zhouzirui/voyage/backend/internal/service/session"
	"github.com/zhouzirui/voyage/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. A nil gatherer serves the
// default Prometheus registry.
func NewRouter(cfg *config.Config, sessions *sessionService.Service, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": sessions.Count(),
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Create handlers
	widgetHandler := widget.New(cfg.Widget)
	chatHandler := chat.New(sessions)
	streamHandler := stream.New(sessions, 0, logger)

	r.Route("/api", func(api chi.Router) {
		widgetHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
