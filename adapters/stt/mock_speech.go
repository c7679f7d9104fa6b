package stt

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
)

// MockSpeechToText is a deterministic recognizer for the development backend.
// With a fixed transcript it always returns that text; otherwise the result
// depends only on the length of the audio.
type MockSpeechToText struct {
	transcript string
	logger     *zap.Logger
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service. transcript may be empty.
func NewMockSpeechToText(transcript string, logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{transcript: transcript, logger: logger}
}

func (s *MockSpeechToText) transcribe(pcmBytes int, sampleRate int) string {
	if s.transcript != "" {
		return s.transcript
	}
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	duration := time.Duration(pcmBytes/audio.BytesPerSample) * time.Second / time.Duration(sampleRate)

	switch {
	case duration >= 2*time.Second:
		return "안녕하세요 만나서 반갑습니다"
	case duration >= 500*time.Millisecond:
		return "안녕하세요"
	case duration > 0:
		return "네"
	default:
		return ""
	}
}

// TranscribeAudio accepts a WAV clip or raw PCM16
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	pcmBytes := len(audioData)
	if samples, _, err := audio.DecodeWAV(audioData); err == nil {
		pcmBytes = len(samples) * audio.BytesPerSample
	}

	text := s.transcribe(pcmBytes, config.SampleRate)
	s.logger.Debug("Mock transcription",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("text", text))
	return text, nil
}

// InitTranscribeStreaming creates a new mock streaming session over raw PCM16
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	return &MockSpeechToTextStream{parent: s, sampleRate: config.SampleRate}, nil
}

// MockSpeechToTextStream accumulates PCM length and transcribes by duration
type MockSpeechToTextStream struct {
	parent     *MockSpeechToText
	sampleRate int
	received   int
}

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.received += len(data)
	return nil
}

// Partial transcribes what has been streamed so far
func (m *MockSpeechToTextStream) Partial() string {
	return m.parent.transcribe(m.received, m.sampleRate)
}

// End returns the mock transcription result
func (m *MockSpeechToTextStream) End() (string, error) {
	if m.received == 0 {
		return "", errors.New("no audio data received")
	}
	return m.parent.transcribe(m.received, m.sampleRate), nil
}
