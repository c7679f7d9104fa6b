package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/internal/signaling"
)

// DefaultMaxAttempts is the number of tries a learner gets per step
const DefaultMaxAttempts = 3

// Feedback shown after an attempt
const (
	FeedbackCorrect = "정답"
	FeedbackRetry   = "한번 더"
	FeedbackWrong   = "오답"
)

// AttemptOutcome is the result of one submitted answer
type AttemptOutcome struct {
	Result *entities.ScoringResult
	// Retry is true when the answer was wrong and attempts remain
	Retry   bool
	Message string
}

// StepController binds one scenario step to a recorder and its live channel.
type StepController struct {
	step        entities.ScenarioStep
	token       string
	recorder    *RecorderService
	signals     *signaling.Manager
	maxAttempts int
	attempts    int
	logger      *zap.Logger
}

// NewStepController creates a controller for step. signals may be nil.
func NewStepController(
	step entities.ScenarioStep,
	token string,
	recorder *RecorderService,
	signals *signaling.Manager,
	maxAttempts int,
	logger *zap.Logger,
) (*StepController, error) {
	if err := step.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario step: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &StepController{
		step:        step,
		token:       token,
		recorder:    recorder,
		signals:     signals,
		maxAttempts: maxAttempts,
		logger: logger.With(
			zap.Int64("sessionID", step.SessionID),
			zap.Int("sequenceNumber", step.SequenceNumber),
			zap.String("difficulty", string(step.Difficulty))),
	}, nil
}

// Enter brings up the live channel when the step records answers. A channel
// that fails to connect is logged and the step continues without it.
func (c *StepController) Enter(ctx context.Context) {
	if c.signals == nil {
		return
	}
	_, err := c.signals.Mount(ctx, signaling.MountParams{
		Active:         c.step.RecordingEnabled(),
		SessionID:      c.step.SessionID,
		SequenceNumber: c.step.SequenceNumber,
		Token:          c.token,
	})
	if err != nil {
		c.logger.Warn("Live channel unavailable, continuing without partial results", zap.Error(err))
	}
}

// Attempts returns the number of answers submitted so far
func (c *StepController) Attempts() int {
	return c.attempts
}

// RemainingAttempts returns how many answers may still be submitted
func (c *StepController) RemainingAttempts() int {
	return c.maxAttempts - c.attempts
}

// BeginAnswer starts recording an answer
func (c *StepController) BeginAnswer(ctx context.Context) error {
	if !c.step.RecordingEnabled() {
		return domain.ErrRecordingDisabled
	}
	if c.attempts >= c.maxAttempts {
		return domain.ErrAttemptsExhausted
	}
	return c.recorder.Start(ctx, StartParams{
		SessionID:      c.step.SessionID,
		SequenceNumber: c.step.SequenceNumber,
	})
}

// SubmitAnswer stops the recording and scores it. Failed submissions do not
// consume an attempt.
func (c *StepController) SubmitAnswer(ctx context.Context) (*AttemptOutcome, error) {
	result, err := c.recorder.Stop(ctx)
	if err != nil {
		return nil, err
	}

	c.attempts++
	outcome := &AttemptOutcome{Result: result}
	switch {
	case result.IsCorrect:
		outcome.Message = FeedbackCorrect
	case c.attempts < c.maxAttempts:
		outcome.Retry = true
		outcome.Message = FeedbackRetry
	default:
		outcome.Message = FeedbackWrong
	}

	c.logger.Info("Attempt evaluated",
		zap.Int("attempt", c.attempts),
		zap.Bool("isCorrect", result.IsCorrect),
		zap.Bool("retry", outcome.Retry))

	return outcome, nil
}

// Leave tears the step down: microphone, buffered audio and live channel.
func (c *StepController) Leave() {
	c.recorder.Close()
}
