package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete recorder configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Audio     AudioConfig     `yaml:"audio"`
	Signaling SignalingConfig `yaml:"signaling"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	DevServer DevServerConfig `yaml:"devserver"`
}

// BackendConfig locates the REST backend and the AI service
type BackendConfig struct {
	APIBaseURL  string        `yaml:"api_base_url" validate:"required,url"`
	AIBaseURL   string        `yaml:"ai_base_url" validate:"required,url"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	UserAgent   string        `yaml:"user_agent"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	SampleRate      int    `yaml:"sample_rate" validate:"eq=16000"`
	Channels        int    `yaml:"channels" validate:"eq=1"`
	ContentType     string `yaml:"content_type" validate:"eq=audio/wav"`
	FramesPerBuffer int    `yaml:"frames_per_buffer" validate:"min=64,max=16384"`
	FrameQueueSize  int    `yaml:"frame_queue_size" validate:"min=1"`
	Device          string `yaml:"device"`
}

// SignalingConfig contains the realtime channel parameters
type SignalingConfig struct {
	Enabled          bool          `yaml:"enabled"`
	BaseURL          string        `yaml:"base_url" validate:"required_if=Enabled true"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
	WriteWait        time.Duration `yaml:"write_wait" validate:"gt=0"`
	PongWait         time.Duration `yaml:"pong_wait" validate:"gt=0"`
}

// PingPeriod is derived from PongWait the same way the keepalive pumps expect.
func (s SignalingConfig) PingPeriod() time.Duration {
	return (s.PongWait * 9) / 10
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json console"`
	Output     string `yaml:"output" validate:"required"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint of the CLI
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
}

// DevServerConfig configures the local development backend
type DevServerConfig struct {
	ListenAddress       string            `yaml:"listen_address" validate:"required"`
	PublicBaseURL       string            `yaml:"public_base_url" validate:"required,url"`
	JWTSecret           string            `yaml:"jwt_secret" validate:"required,min=16"`
	PresignSecret       string            `yaml:"presign_secret" validate:"required,min=16"`
	TicketTTL           time.Duration     `yaml:"ticket_ttl" validate:"gt=0"`
	TokenTTL            time.Duration     `yaml:"token_ttl" validate:"gt=0"`
	PartialWindow       time.Duration     `yaml:"partial_window" validate:"gt=0"`
	SimilarityThreshold float64           `yaml:"similarity_threshold" validate:"gte=0,lte=1"`
	STTProvider         string            `yaml:"stt_provider" validate:"oneof=mock google"`
	Language            string            `yaml:"language" validate:"required"`
	TTSProvider         string            `yaml:"tts_provider" validate:"oneof=tone elevenlabs"`
	MongoDBURI          string            `yaml:"mongodb_uri" validate:"omitempty,uri"`
	MongoDatabase       string            `yaml:"mongodb_database" validate:"required_with=MongoDBURI"`
	DefaultAnswer       string            `yaml:"default_answer" validate:"required"`
	AnswerKeys          map[string]string `yaml:"answer_keys"`
}

// AnswerFor returns the reference text of a step. Keys are "session/sequence";
// a bare "sequence" key applies to every session.
func (d DevServerConfig) AnswerFor(sessionID int64, sequenceNumber int) string {
	if text, ok := d.AnswerKeys[fmt.Sprintf("%d/%d", sessionID, sequenceNumber)]; ok {
		return text
	}
	if text, ok := d.AnswerKeys[fmt.Sprintf("%d", sequenceNumber)]; ok {
		return text
	}
	return d.DefaultAnswer
}

// Default returns a configuration that runs against a local devserver.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			APIBaseURL: "http://localhost:8080",
			AIBaseURL:  "http://localhost:8080",
			Timeout:    30 * time.Second,
			UserAgent:  "majuclass-recorder/1.0",
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			ContentType:     "audio/wav",
			FramesPerBuffer: 1024,
			FrameQueueSize:  64,
		},
		Signaling: SignalingConfig{
			Enabled:          true,
			BaseURL:          "ws://localhost:8080",
			HandshakeTimeout: 10 * time.Second,
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9464",
		},
		DevServer: DevServerConfig{
			ListenAddress:       ":8080",
			PublicBaseURL:       "http://localhost:8080",
			JWTSecret:           "dev-jwt-secret-change-me",
			PresignSecret:       "dev-presign-secret-change-me",
			TicketTTL:           5 * time.Minute,
			TokenTTL:            24 * time.Hour,
			PartialWindow:       time.Second,
			SimilarityThreshold: 0.7,
			STTProvider:         "mock",
			Language:            "ko-KR",
			TTSProvider:         "tone",
			MongoDatabase:       "majuclass",
			DefaultAnswer:       "안녕하세요",
			AnswerKeys:          map[string]string{},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, a
// .env file in the working directory and MAJU_* environment variables, in
// increasing order of precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg, newEnv())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MAJU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv overrides file values with the MAJU_* variables that are set.
func applyEnv(cfg *Config, v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString("api_base_url", &cfg.Backend.APIBaseURL)
	setString("ai_base_url", &cfg.Backend.AIBaseURL)
	setString("access_token", &cfg.Backend.AccessToken)
	setDuration("http_timeout", &cfg.Backend.Timeout)

	setString("audio_device", &cfg.Audio.Device)

	setBool("ws_enabled", &cfg.Signaling.Enabled)
	setString("ws_base_url", &cfg.Signaling.BaseURL)

	setString("log_level", &cfg.Logging.Level)
	setString("log_format", &cfg.Logging.Format)
	setString("log_output", &cfg.Logging.Output)

	setBool("metrics_enabled", &cfg.Metrics.Enabled)
	setString("metrics_listen_address", &cfg.Metrics.ListenAddress)

	setString("devserver_listen_address", &cfg.DevServer.ListenAddress)
	setString("devserver_public_base_url", &cfg.DevServer.PublicBaseURL)
	setString("jwt_secret", &cfg.DevServer.JWTSecret)
	setString("presign_secret", &cfg.DevServer.PresignSecret)
	setString("stt_provider", &cfg.DevServer.STTProvider)
	setString("tts_provider", &cfg.DevServer.TTSProvider)
	setString("mongodb_uri", &cfg.DevServer.MongoDBURI)
	setString("mongodb_database", &cfg.DevServer.MongoDatabase)
	if v.IsSet("similarity_threshold") {
		cfg.DevServer.SimilarityThreshold = v.GetFloat64("similarity_threshold")
	}
}

var validate = validator.New()

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Signaling.Validate(); err != nil {
		return fmt.Errorf("signaling config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.DevServer.Validate(); err != nil {
		return fmt.Errorf("devserver config: %w", err)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	return validate.Struct(b)
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	return validate.Struct(a)
}

// Validate validates signaling configuration
func (s *SignalingConfig) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	if s.Enabled && !strings.HasPrefix(s.BaseURL, "ws://") && !strings.HasPrefix(s.BaseURL, "wss://") {
		return fmt.Errorf("base_url must use ws:// or wss://, got %q", s.BaseURL)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	return validate.Struct(l)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	return validate.Struct(m)
}

// Validate validates devserver configuration
func (d *DevServerConfig) Validate() error {
	return validate.Struct(d)
}
