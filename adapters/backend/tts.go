package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain/repositories"
)

var _ repositories.SpeechSynthesizer = (*Client)(nil)

// Synthesize fetches narration audio for text from the AI service
func (c *Client) Synthesize(ctx context.Context, text string) (audio []byte, err error) {
	started := time.Now()
	defer func() { c.metrics.ObserveRequest("tts", started, err) }()

	resp, err := c.ai.R().
		SetContext(ctx).
		SetQueryParam("text", text).
		Get("/tts")
	if err != nil {
		return nil, fmt.Errorf("failed to request narration: %w", err)
	}
	if !resp.IsSuccess() {
		c.logger.Warn("Narration request rejected",
			zap.Int("statusCode", resp.StatusCode()),
			zap.String("response", truncateBody(resp.Body())))
		return nil, fmt.Errorf("narration request failed with status %d", resp.StatusCode())
	}

	return resp.Body(), nil
}
