package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
	"github.com/majuclass/recorder/internal/metrics"
	"github.com/majuclass/recorder/internal/signaling"
)

// Failure stages used as metric labels and log fields
const (
	StageCapture = "capture"
	StageEncode  = "encode"
	StageTicket  = "ticket"
	StageUpload  = "upload"
	StageScoring = "scoring"
)

// StartParams identifies the step being answered
type StartParams struct {
	SessionID      int64
	SequenceNumber int
}

// RecorderService owns at most one active recording and drives it through
// capture, encoding, upload and scoring.
type RecorderService struct {
	capture repositories.CaptureSource
	uploads repositories.UploadBroker
	scoring repositories.ScoringDispatcher
	signals *signaling.Manager
	logger  *zap.Logger
	metrics *metrics.Metrics

	guard RequestGuard

	mu     sync.Mutex
	active *activeRecording
}

type activeRecording struct {
	id       uint64
	session  *entities.RecordingSession
	handle   *repositories.CaptureHandle
	pumpDone chan struct{}
	logger   *zap.Logger
}

// NewRecorderService creates a new recorder service. signals may be nil when
// no live side channel is used.
func NewRecorderService(
	capture repositories.CaptureSource,
	uploads repositories.UploadBroker,
	scoring repositories.ScoringDispatcher,
	signals *signaling.Manager,
	logger *zap.Logger,
	m *metrics.Metrics,
) *RecorderService {
	if m == nil {
		m = metrics.Discard()
	}
	return &RecorderService{
		capture: capture,
		uploads: uploads,
		scoring: scoring,
		signals: signals,
		logger:  logger,
		metrics: m,
	}
}

// Start begins a new recording. Any previous recording is torn down first and
// its audio discarded.
func (s *RecorderService) Start(ctx context.Context, params StartParams) error {
	session := entities.NewRecordingSession(params.SessionID, params.SequenceNumber)
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid recording parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.active; prev != nil {
		s.active = nil
		prev.logger.Info("Tearing down previous recording before starting a new one")
		prev.teardown()
	}

	id := s.guard.Next()
	logger := s.logger.With(
		zap.Int64("sessionID", params.SessionID),
		zap.Int("sequenceNumber", params.SequenceNumber),
		zap.Uint64("requestID", id))

	handle, err := s.capture.Open(ctx)
	if err != nil {
		var captureErr *domain.CaptureUnavailableError
		if !errors.As(err, &captureErr) {
			err = &domain.CaptureUnavailableError{Stage: "open", Err: err}
		}
		return s.fail(logger, StageCapture, err)
	}

	rec := &activeRecording{
		id:       id,
		session:  session,
		handle:   handle,
		pumpDone: make(chan struct{}),
		logger:   logger,
	}
	s.active = rec
	go s.pump(rec)

	s.metrics.RecordingsStarted.Inc()
	logger.Info("Recording started", zap.Int("sampleRate", session.SampleRate))
	return nil
}

// pump moves captured frames into the session in arrival order and streams
// each one to the live channel when it is open.
func (s *RecorderService) pump(rec *activeRecording) {
	defer close(rec.pumpDone)

	for frame := range rec.handle.Frames() {
		samples := audio.QuantizeFrame(frame)
		if err := rec.session.Append(samples); err != nil {
			rec.logger.Debug("Dropping frame after session was drained", zap.Error(err))
			continue
		}
		s.metrics.FramesCaptured.Inc()
		s.forward(samples)
	}
}

func (s *RecorderService) forward(samples []int16) {
	ch := s.openChannel()
	if ch == nil {
		return
	}
	if err := ch.SendChunk(audio.EncodePCMBase64(samples)); err != nil {
		s.logger.Debug("Live chunk not delivered", zap.Error(err))
	}
}

func (s *RecorderService) openChannel() *signaling.Channel {
	if s.signals == nil {
		return nil
	}
	ch := s.signals.Current()
	if ch == nil || ch.State() != signaling.StateOpen {
		return nil
	}
	return ch
}

// Recording reports whether a recording is in progress
func (s *RecorderService) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Stop ends the current recording, encodes it, uploads it, announces the
// object on the live channel and requests scoring. The stages run sequentially and the first failure is returned
// typed; nothing is retried. If Close or a newer Start supersedes this
// recording while a request is in flight, ErrStaleResult is returned and the
// remaining stages are skipped.
func (s *RecorderService) Stop(ctx context.Context) (*entities.ScoringResult, error) {
	s.mu.Lock()
	rec := s.active
	s.active = nil
	s.mu.Unlock()

	if rec == nil {
		return nil, domain.ErrNotRecording
	}

	rec.handle.Release()
	<-rec.pumpDone

	artifact, err := rec.session.Drain()
	if err != nil {
		return nil, s.fail(rec.logger, StageEncode, err)
	}
	s.metrics.WAVBytes.Observe(float64(artifact.Size()))

	logger := rec.logger
	logger.Info("Recording stopped",
		zap.Int("samples", artifact.SampleCount),
		zap.Int("bytes", artifact.Size()),
		zap.Duration("duration", artifact.Duration()))

	sessionID, seq := rec.session.SessionID, rec.session.SequenceNumber

	ticket, err := s.uploads.RequestUploadTicket(ctx, sessionID, seq, artifact.ContentType())
	if err != nil {
		return nil, s.fail(logger, StageTicket, err)
	}
	if !s.guard.IsCurrent(rec.id) {
		return nil, s.stale(logger, StageTicket)
	}

	logger = logger.With(zap.String("objectKey", ticket.ObjectKey))

	if err := s.uploads.Upload(ctx, ticket, artifact.Data, artifact.ContentType()); err != nil {
		return nil, s.fail(logger, StageUpload, err)
	}
	if !s.guard.IsCurrent(rec.id) {
		return nil, s.stale(logger, StageUpload)
	}

	if ch := s.openChannel(); ch != nil {
		if err := ch.SendEndOfStream(ticket.ObjectKey, seq); err != nil {
			logger.Warn("Failed to announce end of stream", zap.Error(err))
		}
	}

	started := time.Now()
	result, err := s.scoring.RequestScoring(ctx, sessionID, seq, ticket.ObjectKey)
	if err != nil {
		return nil, s.fail(logger, StageScoring, err)
	}
	if !s.guard.IsCurrent(rec.id) {
		return nil, s.stale(logger, StageScoring)
	}

	s.metrics.RecordingsCompleted.Inc()
	logger.Info("Answer scored",
		zap.Int64("answerID", result.AnswerID),
		zap.Float64("similarityScore", result.SimilarityScore),
		zap.Bool("isCorrect", result.IsCorrect),
		zap.Int("attemptNumber", result.AttemptNumber),
		zap.Duration("scoringLatency", time.Since(started)))

	return result, nil
}

// Close releases the microphone, discards buffered audio, closes the live
// channel and invalidates any Stop still in flight. It is safe to call more
// than once.
func (s *RecorderService) Close() {
	s.guard.Invalidate()

	s.mu.Lock()
	rec := s.active
	s.active = nil
	s.mu.Unlock()

	if rec != nil {
		rec.logger.Info("Discarding recording on close")
		rec.teardown()
	}

	if s.signals != nil {
		s.signals.Unmount()
	}
}

func (r *activeRecording) teardown() {
	r.handle.Release()
	<-r.pumpDone
	r.session.Discard()
}

func (s *RecorderService) fail(logger *zap.Logger, stage string, err error) error {
	s.metrics.RecordingsFailed.WithLabelValues(stage).Inc()
	logger.Error("Recording pipeline failed", zap.String("stage", stage), zap.Error(err))
	return err
}

func (s *RecorderService) stale(logger *zap.Logger, stage string) error {
	logger.Info("Discarding superseded result", zap.String("stage", stage))
	return domain.ErrStaleResult
}
