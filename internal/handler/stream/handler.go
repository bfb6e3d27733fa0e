package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	sessionService "github.com/zhouzirui/voyage/backend/internal/service/session"
	"github.com/zhouzirui/voyage/backend/pkg/utils"
)

const (
	EventSnapshot  = "snapshot"
	EventHeartbeat = "heartbeat"

	defaultHeartbeat = 15 * time.Second
)

// Snapshot is the payload of a snapshot event.
type Snapshot struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
}

// Handler 通过 Server-Sent Events 推送会话状态与消息列表
type Handler struct {
	sessions  *sessionService.Service
	heartbeat time.Duration
	logger    *slog.Logger
}

// New creates a stream handler. A non-positive heartbeat uses the default.
func New(sessions *sessionService.Service, heartbeat time.Duration, logger *slog.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, heartbeat: heartbeat, logger: logger.With("component", "sse")}
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/stream", h.handleStream)
}

// handleStream 先发送一次完整快照，之后每次记录变化再发送一次，直到客户端断开
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	handle, err := h.sessions.Get(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	changes, stop := handle.Watch()
	defer stop()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	h.logger.Info("opening stream", "session", sessionID)
	defer h.logger.Info("closing stream", "session", sessionID)

	last, err := h.sendSnapshot(w, flusher, handle)
	if err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if last, err = h.sendSnapshot(w, flusher, handle); err != nil {
				return
			}
		case t := <-ticker.C:
			// state can change without a new message, e.g. a recorded failure
			if !sameSession(handle.Session(), last) {
				if last, err = h.sendSnapshot(w, flusher, handle); err != nil {
					return
				}
				continue
			}
			if err := utils.SendSSEEvent(w, flusher, EventHeartbeat, map[string]any{
				"time": t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendSnapshot(w http.ResponseWriter, flusher http.Flusher, handle *sessionService.Handle) (chat.Session, error) {
	snap := Snapshot{Session: handle.Session(), Messages: handle.Messages()}
	if err := utils.SendSSEEvent(w, flusher, EventSnapshot, snap); err != nil {
		h.logger.Debug("stream write failed", "session", snap.Session.ID, "error", err)
		return snap.Session, err
	}
	return snap.Session, nil
}

func sameSession(a, b chat.Session) bool {
	if a.State != b.State || a.LastErrorKind != b.LastErrorKind || !a.StartedAt.Equal(b.StartedAt) {
		return false
	}
	if a.EndedAt == nil || b.EndedAt == nil {
		return a.EndedAt == b.EndedAt
	}
	return a.EndedAt.Equal(*b.EndedAt)
}
