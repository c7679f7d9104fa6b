package capture

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/metrics"
)

// ProcessorName identifies the capture stage in logs.
const ProcessorName = "pcm16-processor"

const (
	defaultFramesPerBuffer = 1024
	defaultQueueSize       = 64
)

// PortAudioConfig holds configuration for the microphone source
type PortAudioConfig struct {
	SampleRate      int
	FramesPerBuffer int
	QueueSize       int
	// Device selects an input device by name; empty uses the system default
	Device string
}

// PortAudioSource captures mono float frames from a microphone
type PortAudioSource struct {
	config  PortAudioConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ repositories.CaptureSource = (*PortAudioSource)(nil)

// NewPortAudioSource creates a microphone capture source
func NewPortAudioSource(config PortAudioConfig, logger *zap.Logger, m *metrics.Metrics) *PortAudioSource {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = defaultFramesPerBuffer
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &PortAudioSource{config: config, logger: logger, metrics: m}
}

// Open initializes PortAudio, opens the input stream and starts delivering frames.
// The realtime callback only copies the frame and attempts a non-blocking send;
// a full queue drops the frame.
func (s *PortAudioSource) Open(ctx context.Context) (*repositories.CaptureHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.CaptureUnavailableError{Stage: "register", Err: err}
	}

	if err := portaudio.Initialize(); err != nil {
		s.logger.Error("Failed to register capture processor",
			zap.String("processor", ProcessorName),
			zap.Error(err))
		return nil, &domain.CaptureUnavailableError{Stage: "register", Err: err}
	}

	frames := make(chan []float32, s.config.QueueSize)
	var stopped atomic.Bool

	callback := func(in []float32) {
		if len(in) == 0 || stopped.Load() {
			return
		}
		frame := make([]float32, len(in))
		copy(frame, in)
		select {
		case frames <- frame:
		default:
			s.metrics.FramesDropped.Inc()
		}
	}

	stream, err := s.openStream(callback)
	if err != nil {
		portaudio.Terminate()
		s.logger.Error("Failed to open microphone stream", zap.Error(err))
		return nil, &domain.CaptureUnavailableError{Stage: "open", Err: err}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		s.logger.Error("Failed to start microphone stream", zap.Error(err))
		return nil, &domain.CaptureUnavailableError{Stage: "start", Err: err}
	}

	s.logger.Info("Microphone capture started",
		zap.String("processor", ProcessorName),
		zap.Int("sampleRate", s.config.SampleRate),
		zap.Int("framesPerBuffer", s.config.FramesPerBuffer))

	release := func() {
		stopped.Store(true)
		if err := stream.Stop(); err != nil {
			s.logger.Warn("Failed to stop microphone stream", zap.Error(err))
		}
		if err := stream.Close(); err != nil {
			s.logger.Warn("Failed to close microphone stream", zap.Error(err))
		}
		if err := portaudio.Terminate(); err != nil {
			s.logger.Warn("Failed to terminate PortAudio", zap.Error(err))
		}
		close(frames)
		s.logger.Info("Microphone released", zap.String("processor", ProcessorName))
	}

	return repositories.NewCaptureHandle(frames, release), nil
}

func (s *PortAudioSource) openStream(callback func(in []float32)) (*portaudio.Stream, error) {
	if s.config.Device == "" {
		return portaudio.OpenDefaultStream(1, 0, float64(s.config.SampleRate), s.config.FramesPerBuffer, callback)
	}

	device, err := findInputDevice(s.config.Device)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(s.config.SampleRate)
	params.FramesPerBuffer = s.config.FramesPerBuffer

	return portaudio.OpenStream(params, callback)
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}
