package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
)

const scoringPath = "/stt-analyze/{sessionId}/{sequenceNumber}"

var _ repositories.ScoringDispatcher = (*Client)(nil)

type scoringRequest struct {
	ObjectKey string `json:"audio_s3_key"`
}

// RequestScoring asks the AI service to transcribe and score an uploaded answer
func (c *Client) RequestScoring(ctx context.Context, sessionID int64, sequenceNumber int, objectKey string) (result *entities.ScoringResult, err error) {
	started := time.Now()
	defer func() { c.metrics.ObserveRequest("scoring", started, err) }()

	resp, err := c.ai.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"sessionId":      strconv.FormatInt(sessionID, 10),
			"sequenceNumber": strconv.Itoa(sequenceNumber),
		}).
		SetBody(scoringRequest{ObjectKey: objectKey}).
		Post(scoringPath)
	if err != nil {
		c.logger.Error("Scoring request failed",
			zap.Int64("sessionID", sessionID),
			zap.Int("sequenceNumber", sequenceNumber),
			zap.Error(err))
		return nil, &domain.ScoringRequestError{Err: err}
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		c.logger.Error("AI service refused scoring request",
			zap.Int64("sessionID", sessionID),
			zap.Int("sequenceNumber", sequenceNumber),
			zap.Int("statusCode", resp.StatusCode()),
			zap.String("response", truncateBody(body)))
		return nil, &domain.ScoringRequestError{StatusCode: resp.StatusCode(), Body: truncateBody(body)}
	}

	result, err = decodeScoringResult(body)
	if err != nil {
		return nil, &domain.ScoringRequestError{StatusCode: resp.StatusCode(), Body: truncateBody(body), Err: err}
	}

	c.logger.Info("Answer scored",
		zap.Int64("sessionID", sessionID),
		zap.Int("sequenceNumber", sequenceNumber),
		zap.Float64("similarityScore", result.SimilarityScore),
		zap.Bool("isCorrect", result.IsCorrect),
		zap.Int("attemptNo", result.AttemptNumber))

	return result, nil
}

// decodeScoringResult accepts either the {status, message, data} envelope or a
// bare result. The envelope wins whenever data is present and not null.
func decodeScoringResult(body []byte) (*entities.ScoringResult, error) {
	var envelope apiResponse[json.RawMessage]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode scoring response: %w", err)
	}

	payload := body
	if envelope.Data != nil && !bytes.Equal(bytes.TrimSpace(*envelope.Data), []byte("null")) {
		if envelope.Status == "ERROR" {
			return nil, fmt.Errorf("scoring failed: %s", envelope.Message)
		}
		payload = *envelope.Data
	} else if envelope.Status == "ERROR" {
		return nil, fmt.Errorf("scoring failed: %s", envelope.Message)
	}

	var result entities.ScoringResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode scoring result: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring result: %w", err)
	}

	return &result, nil
}
