package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
)

// ReplayConfig configures a source that plays back stored audio as if it were captured
type ReplayConfig struct {
	// Path of a mono 16-bit WAV file; ignored when Samples is set
	Path string
	// Samples replays in-memory PCM instead of a file
	Samples []int16
	// FrameSize is the number of samples per delivered frame
	FrameSize int
	// Realtime paces frames at the capture rate instead of as fast as possible
	Realtime bool
}

// ReplaySource feeds frames from a WAV file or memory. The frame channel is
// closed when the input is exhausted or the handle is released.
type ReplaySource struct {
	config ReplayConfig
	logger *zap.Logger
}

var _ repositories.CaptureSource = (*ReplaySource)(nil)

// NewReplaySource creates a replay capture source
func NewReplaySource(config ReplayConfig, logger *zap.Logger) *ReplaySource {
	if config.FrameSize <= 0 {
		config.FrameSize = defaultFramesPerBuffer
	}
	return &ReplaySource{config: config, logger: logger}
}

// Open loads the input and starts delivering frames
func (s *ReplaySource) Open(ctx context.Context) (*repositories.CaptureHandle, error) {
	samples, sampleRate, err := s.load()
	if err != nil {
		return nil, &domain.CaptureUnavailableError{Stage: "open", Err: err}
	}
	if sampleRate != audio.SampleRate {
		return nil, &domain.CaptureUnavailableError{
			Stage: "open",
			Err:   fmt.Errorf("replay input must be %d Hz, got %d", audio.SampleRate, sampleRate),
		}
	}

	frames := make(chan []float32)
	stop := make(chan struct{})
	done := make(chan struct{})

	interval := time.Duration(s.config.FrameSize) * time.Second / time.Duration(audio.SampleRate)

	go func() {
		defer close(done)
		defer close(frames)

		var ticker *time.Ticker
		if s.config.Realtime {
			ticker = time.NewTicker(interval)
			defer ticker.Stop()
		}

		for offset := 0; offset < len(samples); offset += s.config.FrameSize {
			end := min(offset+s.config.FrameSize, len(samples))
			frame := audio.DequantizeFrame(samples[offset:end])

			if ticker != nil {
				select {
				case <-ticker.C:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}

			select {
			case frames <- frame:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}

		s.logger.Debug("Replay input exhausted", zap.Int("samples", len(samples)))
	}()

	var once sync.Once
	release := func() {
		once.Do(func() { close(stop) })
		<-done
	}

	s.logger.Info("Replay capture started",
		zap.String("processor", ProcessorName),
		zap.Int("samples", len(samples)),
		zap.Bool("realtime", s.config.Realtime))

	return repositories.NewCaptureHandle(frames, release), nil
}

func (s *ReplaySource) load() ([]int16, int, error) {
	if s.config.Samples != nil {
		return s.config.Samples, audio.SampleRate, nil
	}
	if s.config.Path == "" {
		return nil, 0, fmt.Errorf("replay source has no input")
	}

	data, err := os.ReadFile(s.config.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read replay file: %w", err)
	}

	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode replay file: %w", err)
	}
	return samples, sampleRate, nil
}
