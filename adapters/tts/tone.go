package tts

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
)

const (
	toneFrequency = 440.0
	toneAmplitude = 0.3
	tonePerRune   = 60 * time.Millisecond
	toneMin       = 200 * time.Millisecond
	toneMax       = 3 * time.Second
)

// ToneSynthesizer stands in for a real voice: it returns a sine tone whose
// length grows with the text.
type ToneSynthesizer struct {
	sampleRate int
}

var _ repositories.SpeechSynthesizer = (*ToneSynthesizer)(nil)

// NewToneSynthesizer creates a placeholder synthesizer
func NewToneSynthesizer() *ToneSynthesizer {
	return &ToneSynthesizer{sampleRate: audio.SampleRate}
}

// Duration returns the length of the tone produced for text
func (s *ToneSynthesizer) Duration(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * tonePerRune
	if d < toneMin {
		d = toneMin
	}
	if d > toneMax {
		d = toneMax
	}
	return d
}

func (s *ToneSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := int(s.Duration(text) * time.Duration(s.sampleRate) / time.Second)
	frame := make([]float32, n)
	for i := range frame {
		phase := 2 * math.Pi * toneFrequency * float64(i) / float64(s.sampleRate)
		frame[i] = float32(toneAmplitude * math.Sin(phase))
	}
	return audio.EncodeSamples(audio.QuantizeFrame(frame), s.sampleRate), nil
}
