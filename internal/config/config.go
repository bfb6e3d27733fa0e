package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Widget   WidgetConfig
	Voice    VoiceConfig
	Pipeline PipelineConfig
	Store    StoreConfig
	AI       AIConfig
	LogLevel string
	CORS     []string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	widget, err := loadWidgetConfig()
	if err != nil {
		return nil, err
	}

	voice, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Widget:   widget,
		Voice:    voice,
		Pipeline: pipeline,
		Store:    store,
		AI:       ai,
		LogLevel: strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		CORS:     splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Widget positions accepted by WIDGET_POSITION.
const (
	PositionBottomRight = "bottom-right"
	PositionBottomLeft  = "bottom-left"
	PositionTopRight    = "top-right"
	PositionTopLeft     = "top-left"
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// WidgetConfig 描述嵌入式语音组件的外观与连接参数。
type WidgetConfig struct {
	APIURL       string `json:"apiUrl"`
	PublicKey    string `json:"publicKey,omitempty"`
	AssistantID  string `json:"assistantId,omitempty"`
	Position     string `json:"position"`
	PrimaryColor string `json:"primaryColor"`
}

// VoiceEnabled 表示是否配置了语音通话所需的凭证。
func (c WidgetConfig) VoiceEnabled() bool {
	return c.PublicKey != "" && c.AssistantID != ""
}

// Validate 校验组件位置与主题色。
func (c WidgetConfig) Validate() error {
	switch c.Position {
	case PositionBottomRight, PositionBottomLeft, PositionTopRight, PositionTopLeft:
	default:
		return fmt.Errorf("invalid WIDGET_POSITION value %q", c.Position)
	}
	if !hexColor.MatchString(c.PrimaryColor) {
		return fmt.Errorf("invalid WIDGET_PRIMARY_COLOR value %q", c.PrimaryColor)
	}
	return nil
}

func loadWidgetConfig() (WidgetConfig, error) {
	cfg := WidgetConfig{
		APIURL:       strings.TrimRight(getEnvOrDefault("WIDGET_API_URL", "http://localhost:8080"), "/"),
		PublicKey:    strings.TrimSpace(os.Getenv("VOICE_PUBLIC_KEY")),
		AssistantID:  strings.TrimSpace(os.Getenv("VOICE_ASSISTANT_ID")),
		Position:     strings.ToLower(getEnvOrDefault("WIDGET_POSITION", PositionBottomRight)),
		PrimaryColor: getEnvOrDefault("WIDGET_PRIMARY_COLOR", "#2563eb"),
	}
	if err := cfg.Validate(); err != nil {
		return WidgetConfig{}, err
	}
	return cfg, nil
}

// VoiceConfig 描述语音 SDK 网关。
type VoiceConfig struct {
	SDKURL       string
	ReadyTimeout time.Duration
}

func loadVoiceConfig() (VoiceConfig, error) {
	readyTimeout, err := parseDurationEnv("VOICE_READY_TIMEOUT", 15*time.Second)
	if err != nil {
		return VoiceConfig{}, err
	}
	return VoiceConfig{
		SDKURL:       strings.TrimSpace(os.Getenv("VOICE_SDK_URL")),
		ReadyTimeout: readyTimeout,
	}, nil
}

// PipelineConfig 描述对话处理流水线的超时与默认查询参数。
type PipelineConfig struct {
	SearchTimeout      time.Duration
	ThinkingDelay      time.Duration
	DefaultOrigin      string
	DefaultDestination string
	DefaultPassengers  int
}

func loadPipelineConfig() (PipelineConfig, error) {
	searchTimeout, err := parseDurationEnv("SEARCH_TIMEOUT", 10*time.Second)
	if err != nil {
		return PipelineConfig{}, err
	}

	thinkingDelay, err := parseDurationEnv("THINKING_DELAY", 600*time.Millisecond)
	if err != nil {
		return PipelineConfig{}, err
	}
	if thinkingDelay > searchTimeout {
		thinkingDelay = searchTimeout
	}

	passengers := 1
	if override, err := parseOptionalIntEnv("DEFAULT_PASSENGERS"); err != nil {
		return PipelineConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return PipelineConfig{}, fmt.Errorf("invalid DEFAULT_PASSENGERS value %d: must be at least 1", *override)
		}
		passengers = *override
	}

	return PipelineConfig{
		SearchTimeout:      searchTimeout,
		ThinkingDelay:      thinkingDelay,
		DefaultOrigin:      strings.ToUpper(getEnvOrDefault("DEFAULT_ORIGIN", "BLR")),
		DefaultDestination: strings.ToUpper(getEnvOrDefault("DEFAULT_DESTINATION", "DXB")),
		DefaultPassengers:  passengers,
	}, nil
}

// StoreConfig 描述会话记录的持久化方式。REDIS_URL 为空时使用内存存储。
type StoreConfig struct {
	RedisURL        string
	ConversationTTL time.Duration
}

func loadStoreConfig() (StoreConfig, error) {
	ttl, err := parseDurationEnv("CONVERSATION_TTL", 24*time.Hour)
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		ConversationTTL: ttl,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Rephrase    bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	rephrase, err := parseBoolEnv("AI_REPHRASE_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Rephrase:    rephrase,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 Go 时长格式（如 "10s"、"600ms"），必须为正数。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
