package tts

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultOutputFormat = "pcm_16000"              // matches the recorder's sample rate
	defaultModelID      = "eleven_multilingual_v2" // Korean capable
	defaultStability    = 0.5
	defaultClarity      = 0.75
	defaultTimeout      = 30 * time.Second
)

// ElevenLabsConfig holds configuration for the ElevenLabs adapter.
// Only APIKey is required; every other field has a default.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string // must be a pcm_<rate> format
	Stability    float64
	Clarity      float64
	Timeout      time.Duration
}

// ElevenLabsTTS implements SpeechSynthesizer using the ElevenLabs API
type ElevenLabsTTS struct {
	client       *resty.Client
	voiceID      string
	modelID      string
	outputFormat string
	sampleRate   int
	stability    float64
	clarity      float64
	logger       *zap.Logger
}

var _ repositories.SpeechSynthesizer = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for ElevenLabs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// ElevenLabsRequest represents the request payload for ElevenLabs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}
	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}
	if config.Clarity < 0 || config.Clarity > 1 {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}
	if config.OutputFormat != "" {
		if _, err := pcmRate(config.OutputFormat); err != nil {
			return err
		}
	}
	return nil
}

func pcmRate(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("output format must be pcm_<rate>, got %s", format)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid pcm sample rate in %s", format)
	}
	return n, nil
}

// NewElevenLabsTTS creates a new ElevenLabs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	if config.VoiceID == "" {
		config.VoiceID = defaultVoiceID
	}
	if config.ModelID == "" {
		config.ModelID = defaultModelID
	}
	if config.OutputFormat == "" {
		config.OutputFormat = defaultOutputFormat
	}
	if config.Stability == 0 {
		config.Stability = defaultStability
	}
	if config.Clarity == 0 {
		config.Clarity = defaultClarity
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	sampleRate, _ := pcmRate(config.OutputFormat)

	logger.Info("ElevenLabs synthesizer configured",
		zap.String("voiceID", config.VoiceID),
		zap.String("modelID", config.ModelID),
		zap.String("outputFormat", config.OutputFormat))

	client := resty.New().
		SetBaseURL(config.APIBaseURL).
		SetTimeout(config.Timeout).
		SetHeader("xi-api-key", config.APIKey)

	return &ElevenLabsTTS{
		client:       client,
		voiceID:      config.VoiceID,
		modelID:      config.ModelID,
		outputFormat: config.OutputFormat,
		sampleRate:   sampleRate,
		stability:    config.Stability,
		clarity:      config.Clarity,
		logger:       logger,
	}, nil
}

// Synthesize requests raw PCM from ElevenLabs and wraps it in a WAV container
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	e.logger.Info("Converting text to speech",
		zap.String("text", text),
		zap.String("voiceID", e.voiceID),
		zap.String("modelID", e.modelID))

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/pcm").
		SetPathParam("voiceID", e.voiceID).
		SetQueryParam("output_format", e.outputFormat).
		SetQueryParam("enable_logging", "false").
		SetBody(ElevenLabsRequest{
			Text:                   text,
			ModelID:                e.modelID,
			ApplyTextNormalization: "auto",
			VoiceSettings: ElevenLabsVoiceSettings{
				Stability:       e.stability,
				SimilarityBoost: e.clarity,
				UseSpeakerBoost: true,
			},
		}).
		Post("/text-to-speech/{voiceID}")
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		e.logger.Error("ElevenLabs API returned error",
			zap.Int("statusCode", resp.StatusCode()),
			zap.String("response", resp.String()))
		return nil, fmt.Errorf("API returned error %d: %s", resp.StatusCode(), resp.String())
	}

	pcm := resp.Body()
	wav := audio.EncodeSamples(audio.SamplesFromPCM(pcm), e.sampleRate)

	e.logger.Info("Speech synthesized",
		zap.Int("pcmBytes", len(pcm)),
		zap.Int("sampleRate", e.sampleRate))
	return wav, nil
}

// SetVoiceSettings allows customization of voice parameters
func (e *ElevenLabsTTS) SetVoiceSettings(stability, clarity float64) {
	e.stability = stability
	e.clarity = clarity
	e.logger.Info("Updated voice settings",
		zap.Float64("stability", stability),
		zap.Float64("clarity", clarity))
}

// SetVoiceID allows changing the voice used for TTS
func (e *ElevenLabsTTS) SetVoiceID(voiceID string) {
	e.voiceID = voiceID
	e.logger.Info("Updated voice ID", zap.String("voiceID", voiceID))
}

// NewElevenLabsConfigFromEnv reads ELEVEN_LABS_* variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:       os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:   os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID:      os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID:      os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat: os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}

	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}
