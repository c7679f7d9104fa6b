package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/internal/audio"
)

const framesPerBuffer = 1024

// PortAudioPlayer plays mono 16-bit WAV clips on the default output device
type PortAudioPlayer struct {
	logger *zap.Logger
	// one clip at a time
	mu sync.Mutex
}

// NewPortAudioPlayer creates a speaker output
func NewPortAudioPlayer(logger *zap.Logger) *PortAudioPlayer {
	return &PortAudioPlayer{logger: logger}
}

// Play decodes wav and writes it to the speaker in blocking mode
func (p *PortAudioPlayer) Play(ctx context.Context, wav []byte) error {
	samples, sampleRate, err := audio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("failed to decode narration audio: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}
	defer portaudio.Terminate()

	buffer := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buffer), &buffer)
	if err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio output: %w", err)
	}
	defer stream.Stop()

	for offset := 0; offset < len(samples); offset += len(buffer) {
		if err := ctx.Err(); err != nil {
			p.logger.Debug("Narration playback cancelled", zap.Error(err))
			return err
		}

		end := offset + len(buffer)
		if end > len(samples) {
			end = len(samples)
		}
		frame := audio.DequantizeFrame(samples[offset:end])
		n := copy(buffer, frame)
		for i := n; i < len(buffer); i++ {
			buffer[i] = 0
		}

		if err := stream.Write(); err != nil {
			return fmt.Errorf("failed to write audio output: %w", err)
		}
	}

	return nil
}

// Discard drops every clip; used when no output device is wanted
type Discard struct{}

func (Discard) Play(context.Context, []byte) error { return nil }
