package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/repositories"
)

// Player plays a WAV clip and returns once playback finished or ctx is done
type Player interface {
	Play(ctx context.Context, wav []byte) error
}

// Narrator reads prompts aloud. Only the most recent request is played;
// audio for superseded requests is dropped.
type Narrator struct {
	synthesizer repositories.SpeechSynthesizer
	player      Player
	logger      *zap.Logger
	guard       RequestGuard
}

// NewNarrator creates a new narrator
func NewNarrator(synthesizer repositories.SpeechSynthesizer, player Player, logger *zap.Logger) *Narrator {
	return &Narrator{
		synthesizer: synthesizer,
		player:      player,
		logger:      logger,
	}
}

// Speak synthesizes text and plays it. It returns ErrStaleResult when a newer
// Speak or Cancel arrived while the audio was being fetched.
func (n *Narrator) Speak(ctx context.Context, text string) error {
	id := n.guard.Next()

	audio, err := n.synthesizer.Synthesize(ctx, text)
	if err != nil {
		n.logger.Error("Failed to synthesize narration", zap.Uint64("requestID", id), zap.Error(err))
		return err
	}

	if !n.guard.IsCurrent(id) {
		n.logger.Debug("Dropping superseded narration", zap.Uint64("requestID", id))
		return domain.ErrStaleResult
	}

	n.logger.Info("Playing narration", zap.Uint64("requestID", id), zap.Int("audioSize", len(audio)))
	return n.player.Play(ctx, audio)
}

// Cancel discards any narration still being fetched
func (n *Narrator) Cancel() {
	n.guard.Invalidate()
}
