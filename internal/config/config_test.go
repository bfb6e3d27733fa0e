package config

import (
	"testing"
	"time"
)

var configEnvKeys = []string{
	"PORT", "WIDGET_API_URL", "VOICE_PUBLIC_KEY", "VOICE_ASSISTANT_ID", "WIDGET_POSITION",
	"WIDGET_PRIMARY_COLOR", "VOICE_SDK_URL", "VOICE_READY_TIMEOUT", "SEARCH_TIMEOUT",
	"THINKING_DELAY", "DEFAULT_ORIGIN", "DEFAULT_DESTINATION", "DEFAULT_PASSENGERS",
	"REDIS_URL", "CONVERSATION_TTL", "ARK_API_KEY", "ARK_MODEL", "ARK_TEMPERATURE",
	"LOG_LEVEL", "CORS_ALLOWED_ORIGINS", "AI_REPHRASE_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Widget.APIURL != "http://localhost:8080" {
		t.Fatalf("unexpected api url %s", cfg.Widget.APIURL)
	}
	if cfg.Widget.Position != PositionBottomRight {
		t.Fatalf("unexpected position %s", cfg.Widget.Position)
	}
	if cfg.Widget.PrimaryColor != "#2563eb" {
		t.Fatalf("unexpected color %s", cfg.Widget.PrimaryColor)
	}
	if cfg.Widget.VoiceEnabled() {
		t.Fatalf("expected voice disabled without credentials")
	}
	if cfg.Pipeline.SearchTimeout != 10*time.Second {
		t.Fatalf("unexpected search timeout %s", cfg.Pipeline.SearchTimeout)
	}
	if cfg.Pipeline.ThinkingDelay != 600*time.Millisecond {
		t.Fatalf("unexpected thinking delay %s", cfg.Pipeline.ThinkingDelay)
	}
	if cfg.Pipeline.DefaultOrigin != "BLR" || cfg.Pipeline.DefaultDestination != "DXB" || cfg.Pipeline.DefaultPassengers != 1 {
		t.Fatalf("unexpected pipeline defaults %+v", cfg.Pipeline)
	}
	if cfg.Store.RedisURL != "" || cfg.Store.ConversationTTL != 24*time.Hour {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
	if cfg.AI.Enabled() {
		t.Fatalf("expected AI disabled without credentials")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level %s", cfg.LogLevel)
	}
	if len(cfg.CORS) != 1 || cfg.CORS[0] != "*" {
		t.Fatalf("unexpected CORS origins %v", cfg.CORS)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("WIDGET_API_URL", "https://api.example.com/")
	t.Setenv("VOICE_PUBLIC_KEY", "pk")
	t.Setenv("VOICE_ASSISTANT_ID", "asst")
	t.Setenv("WIDGET_POSITION", "top-left")
	t.Setenv("WIDGET_PRIMARY_COLOR", "#fff")
	t.Setenv("SEARCH_TIMEOUT", "2s")
	t.Setenv("THINKING_DELAY", "5s")
	t.Setenv("DEFAULT_PASSENGERS", "3")
	t.Setenv("DEFAULT_ORIGIN", "del")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("ARK_MODEL", "doubao")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.Widget.APIURL != "https://api.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.Widget.APIURL)
	}
	if !cfg.Widget.VoiceEnabled() {
		t.Fatalf("expected voice enabled")
	}
	if cfg.Pipeline.ThinkingDelay != 2*time.Second {
		t.Fatalf("expected thinking delay clamped to search timeout, got %s", cfg.Pipeline.ThinkingDelay)
	}
	if cfg.Pipeline.DefaultPassengers != 3 || cfg.Pipeline.DefaultOrigin != "DEL" {
		t.Fatalf("unexpected pipeline config %+v", cfg.Pipeline)
	}
	if len(cfg.CORS) != 2 || cfg.CORS[1] != "https://b.example" {
		t.Fatalf("unexpected CORS origins %v", cfg.CORS)
	}
	if !cfg.AI.Enabled() || !cfg.AI.Rephrase {
		t.Fatalf("expected AI rephrasing enabled")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"WIDGET_POSITION":      "center",
		"WIDGET_PRIMARY_COLOR": "blue",
		"SEARCH_TIMEOUT":       "ten",
		"THINKING_DELAY":       "-1s",
		"DEFAULT_PASSENGERS":   "0",
		"PORT":                 "80 80",
		"ARK_TEMPERATURE":      "warm",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}
