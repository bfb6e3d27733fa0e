package widget

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voyage/backend/internal/config"
	"github.com/zhouzirui/voyage/backend/pkg/utils"
)

// Handler 嵌入式组件配置的HTTP处理器
type Handler struct {
	cfg config.WidgetConfig
}

// New 创建组件配置处理器
func New(cfg config.WidgetConfig) *Handler {
	return &Handler{cfg: cfg}
}

// RegisterRoutes 注册组件相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/widget/config", h.handleConfig)
}

type configResponse struct {
	config.WidgetConfig
	VoiceEnabled bool `json:"voiceEnabled"`
}

// handleConfig 返回前端组件的初始化参数
func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, configResponse{
		WidgetConfig: h.cfg,
		VoiceEnabled: h.cfg.VoiceEnabled(),
	})
}
