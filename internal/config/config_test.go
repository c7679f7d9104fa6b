package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:     "missing api base url",
			mutate:   func(c *Config) { c.Backend.APIBaseURL = "" },
			errorMsg: "backend config",
		},
		{
			name:     "wrong sample rate",
			mutate:   func(c *Config) { c.Audio.SampleRate = 44100 },
			errorMsg: "audio config",
		},
		{
			name:     "stereo capture",
			mutate:   func(c *Config) { c.Audio.Channels = 2 },
			errorMsg: "audio config",
		},
		{
			name:     "signaling over http",
			mutate:   func(c *Config) { c.Signaling.BaseURL = "http://localhost:8080" },
			errorMsg: "signaling config",
		},
		{
			name:     "unknown log format",
			mutate:   func(c *Config) { c.Logging.Format = "xml" },
			errorMsg: "logging config",
		},
		{
			name: "metrics without address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			errorMsg: "metrics config",
		},
		{
			name:     "threshold out of range",
			mutate:   func(c *Config) { c.DevServer.SimilarityThreshold = 1.5 },
			errorMsg: "devserver config",
		},
		{
			name:     "unknown stt provider",
			mutate:   func(c *Config) { c.DevServer.STTProvider = "whisper" },
			errorMsg: "devserver config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
backend:
  api_base_url: https://api.example.com
  ai_base_url: https://ai.example.com
  timeout: 15s
signaling:
  base_url: wss://ai.example.com
logging:
  level: debug
devserver:
  answer_keys:
    "12/3": "팝콘 주세요"
    "2": "감사합니다"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.APIBaseURL != "https://api.example.com" {
		t.Errorf("Expected api base url from file, got %s", cfg.Backend.APIBaseURL)
	}
	if cfg.Backend.Timeout != 15*time.Second {
		t.Errorf("Expected timeout 15s, got %v", cfg.Backend.Timeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected default sample rate to survive, got %d", cfg.Audio.SampleRate)
	}

	if got := cfg.DevServer.AnswerFor(12, 3); got != "팝콘 주세요" {
		t.Errorf("Expected session specific answer, got %q", got)
	}
	if got := cfg.DevServer.AnswerFor(7, 2); got != "감사합니다" {
		t.Errorf("Expected sequence answer, got %q", got)
	}
	if got := cfg.DevServer.AnswerFor(7, 9); got != "안녕하세요" {
		t.Errorf("Expected default answer, got %q", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAJU_API_BASE_URL", "https://override.example.com")
	t.Setenv("MAJU_ACCESS_TOKEN", "token-123")
	t.Setenv("MAJU_HTTP_TIMEOUT", "5s")
	t.Setenv("MAJU_WS_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.APIBaseURL != "https://override.example.com" {
		t.Errorf("Expected env override, got %s", cfg.Backend.APIBaseURL)
	}
	if cfg.Backend.AccessToken != "token-123" {
		t.Errorf("Expected access token from env, got %s", cfg.Backend.AccessToken)
	}
	if cfg.Backend.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", cfg.Backend.Timeout)
	}
	if cfg.Signaling.Enabled {
		t.Error("Expected signaling to be disabled by env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestPingPeriod(t *testing.T) {
	s := SignalingConfig{PongWait: 60 * time.Second}
	if s.PingPeriod() != 54*time.Second {
		t.Errorf("Expected ping period 54s, got %v", s.PingPeriod())
	}
}
