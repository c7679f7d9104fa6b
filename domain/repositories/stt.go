package repositories

import (
	"context"

	"github.com/majuclass/recorder/domain/entities"
)

// ScoringDispatcher requests transcription and scoring of an uploaded answer
type ScoringDispatcher interface {
	RequestScoring(ctx context.Context, sessionID int64, sequenceNumber int, objectKey string) (*entities.ScoringResult, error)
}

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts audio data to text
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (string, error)
	// InitTranscribeStreaming initializes a streaming transcription session
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// SpeechToTextStreaming is one open recognition over raw PCM16
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	// Partial returns the transcript recognized so far
	Partial() string
	End() (string, error)
}
