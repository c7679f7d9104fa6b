package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
	"github.com/majuclass/recorder/internal/metrics"
)

// DefaultSimilarityThreshold is the score at or above which an answer counts as correct
const DefaultSimilarityThreshold = 0.7

// ReferenceSource resolves the expected answer of a step
type ReferenceSource interface {
	AnswerFor(sessionID int64, sequenceNumber int) string
}

// EvaluatorConfig holds configuration for answer scoring
type EvaluatorConfig struct {
	Threshold float64
	Language  string
}

// AnswerEvaluator transcribes uploaded answers and scores them against the
// reference text of the step.
type AnswerEvaluator struct {
	config     EvaluatorConfig
	objects    repositories.ObjectStore
	stt        repositories.SpeechToText
	answers    repositories.AnswerRepository
	references ReferenceSource
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// inflight collapses concurrent scoring of one object key
	inflight singleflight.Group
}

// NewAnswerEvaluator creates a new answer evaluator
func NewAnswerEvaluator(
	config EvaluatorConfig,
	objects repositories.ObjectStore,
	stt repositories.SpeechToText,
	answers repositories.AnswerRepository,
	references ReferenceSource,
	logger *zap.Logger,
	m *metrics.Metrics,
) *AnswerEvaluator {
	if config.Threshold <= 0 {
		config.Threshold = DefaultSimilarityThreshold
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &AnswerEvaluator{
		config:     config,
		objects:    objects,
		stt:        stt,
		answers:    answers,
		references: references,
		logger:     logger,
		metrics:    m,
	}
}

// ScoreObject loads an uploaded WAV from the object store and scores it.
// An object key is scored at most once: later calls return the stored attempt.
func (e *AnswerEvaluator) ScoreObject(ctx context.Context, sessionID int64, sequenceNumber int, objectKey string) (*entities.ScoringResult, error) {
	v, err, shared := e.inflight.Do(objectKey, func() (interface{}, error) {
		previous, err := e.answers.ListByStep(ctx, sessionID, sequenceNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to list answers: %w", err)
		}
		for _, record := range previous {
			if record.ObjectKey == objectKey {
				e.logger.Debug("Reusing scored answer",
					zap.String("objectKey", objectKey),
					zap.Int64("answerID", record.ID))
				return record.Result(), nil
			}
		}

		data, _, err := e.objects.Get(ctx, objectKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load answer audio: %w", err)
		}
		return e.ScoreAudio(ctx, sessionID, sequenceNumber, objectKey, data)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*entities.ScoringResult)
	if shared {
		copied := *result
		result = &copied
	}
	return result, nil
}

// OpenStream starts a streaming recognition over raw PCM16 at sampleRate
func (e *AnswerEvaluator) OpenStream(ctx context.Context, sampleRate int) (repositories.SpeechToTextStreaming, error) {
	stream, err := e.stt.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate: sampleRate,
		Encoding:   "LINEAR16",
		Language:   e.config.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open transcription stream: %w", err)
	}
	return stream, nil
}

// ScoreAudio transcribes a WAV clip and scores the transcript
func (e *AnswerEvaluator) ScoreAudio(ctx context.Context, sessionID int64, sequenceNumber int, objectKey string, wav []byte) (*entities.ScoringResult, error) {
	transcript, err := e.Transcribe(ctx, wav)
	if err != nil {
		return nil, err
	}
	return e.ScoreTranscript(ctx, sessionID, sequenceNumber, objectKey, transcript)
}

// Transcribe runs speech recognition on a WAV clip
func (e *AnswerEvaluator) Transcribe(ctx context.Context, wav []byte) (string, error) {
	_, sampleRate, err := audio.DecodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("invalid answer audio: %w", err)
	}

	transcript, err := e.stt.TranscribeAudio(ctx, wav, repositories.AudioConfig{
		SampleRate: sampleRate,
		Encoding:   "LINEAR16",
		Language:   e.config.Language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return transcript, nil
}

// ScoreTranscript compares transcript with the step's reference text and
// records the attempt.
func (e *AnswerEvaluator) ScoreTranscript(ctx context.Context, sessionID int64, sequenceNumber int, objectKey, transcript string) (*entities.ScoringResult, error) {
	reference := e.references.AnswerFor(sessionID, sequenceNumber)
	score := Similarity(transcript, reference)

	record := &entities.AnswerRecord{
		SessionID:       sessionID,
		SequenceNumber:  sequenceNumber,
		ObjectKey:       objectKey,
		TranscribedText: transcript,
		ReferenceText:   reference,
		SimilarityScore: score,
		IsCorrect:       score >= e.config.Threshold,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.answers.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}

	e.metrics.AnswersScored.WithLabelValues(fmt.Sprint(record.IsCorrect)).Inc()
	e.metrics.SimilarityScore.Observe(score)

	e.logger.Info("Answer evaluated",
		zap.Int64("sessionID", sessionID),
		zap.Int("sequenceNumber", sequenceNumber),
		zap.Int64("answerID", record.ID),
		zap.Int("attemptNumber", record.AttemptNumber),
		zap.String("transcript", transcript),
		zap.Float64("similarityScore", score),
		zap.Bool("isCorrect", record.IsCorrect))

	return record.Result(), nil
}

// Normalize trims, lowercases, strips punctuation and collapses whitespace.
// Letters of any script, digits and underscores are kept.
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity returns 1 minus the edit distance of the normalized texts divided
// by the longer length, in [0, 1]. Two empty texts are identical.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}
