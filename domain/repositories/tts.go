package repositories

import "context"

// SpeechSynthesizer turns narration text into playable WAV audio
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
