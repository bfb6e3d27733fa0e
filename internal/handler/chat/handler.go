package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	sessionService "github.com/zhouzirui/voyage/backend/internal/service/session"
	"github.com/zhouzirui/voyage/backend/pkg/utils"
)

const maxUtteranceLength = 2000

// Handler 会话与消息的HTTP处理器
type Handler struct {
	sessions *sessionService.Service
}

// New 创建会话处理器
func New(sessions *sessionService.Service) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
	r.Delete("/sessions/{sessionID}/messages", h.handleClearMessages)
	r.Post("/sessions/{sessionID}/call/start", h.handleStartCall)
	r.Post("/sessions/{sessionID}/call/end", h.handleEndCall)
	r.Post("/sessions/{sessionID}/sdk-error", h.handleSDKError)
}

// SessionView is the session record together with its transcript.
type SessionView struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
}

func viewOf(handle *sessionService.Handle) SessionView {
	return SessionView{Session: handle.Session(), Messages: handle.Messages()}
}

// handleCreateSession 创建会话，可通过 sessionId 恢复历史会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	handle, err := h.sessions.CreateSession(r.Context(), strings.TrimSpace(payload.SessionID))
	if err != nil {
		if errors.Is(err, sessionService.ErrInvalidID) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, viewOf(handle))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(handle))
}

// handleDeleteSession 清空记录并关闭会话
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Remove(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, sessionService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, handle.Messages())
}

// handleSendMessage 处理用户输入并返回助手回复。失败同样以助手消息的形式返回。
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(text) > maxUtteranceLength {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "text is too long")
		return
	}

	outcome, err := handle.Send(r.Context(), text)
	if err != nil {
		if errors.Is(err, sessionService.ErrPipelineClosed) {
			utils.RespondError(w, http.StatusGone, err.Error())
			return
		}
		// the client went away; the reply still lands in the transcript
		utils.RespondError(w, http.StatusRequestTimeout, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := handle.Clear(r.Context()); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to clear messages")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStartCall(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}

	err := handle.StartCall(r.Context())
	switch {
	case errors.Is(err, sessionService.ErrNotReady), errors.Is(err, sessionService.ErrCallPending):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case err != nil:
		utils.RespondJSON(w, http.StatusBadGateway, viewOf(handle))
	default:
		utils.RespondJSON(w, http.StatusOK, viewOf(handle))
	}
}

func (h *Handler) handleEndCall(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := handle.EndCall(r.Context()); err != nil {
		utils.RespondJSON(w, http.StatusBadGateway, viewOf(handle))
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(handle))
}

// handleSDKError 接收前端 SDK 上报的错误
func (h *Handler) handleSDKError(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	handle.ReportSDKError(payload.Message)
	utils.RespondJSON(w, http.StatusOK, viewOf(handle))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*sessionService.Handle, bool) {
	handle, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return handle, true
}
