package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
)

const uploadTicketPath = "/scenario-sessions/audio-upload-url"

var _ repositories.UploadBroker = (*Client)(nil)

type ticketRequest struct {
	SessionID      int64  `json:"sessionId"`
	SequenceNumber int    `json:"sequenceNumber"`
	ContentType    string `json:"contentType"`
}

// RequestUploadTicket asks the backend for a presigned upload location
func (c *Client) RequestUploadTicket(ctx context.Context, sessionID int64, sequenceNumber int, contentType string) (ticket *entities.UploadTicket, err error) {
	started := time.Now()
	defer func() { c.metrics.ObserveRequest("upload_ticket", started, err) }()

	resp, err := c.api.R().
		SetContext(ctx).
		SetBody(ticketRequest{
			SessionID:      sessionID,
			SequenceNumber: sequenceNumber,
			ContentType:    contentType,
		}).
		Post(uploadTicketPath)
	if err != nil {
		c.logger.Error("Upload ticket request failed",
			zap.Int64("sessionID", sessionID),
			zap.Int("sequenceNumber", sequenceNumber),
			zap.Error(err))
		return nil, &domain.TicketRequestError{Err: err}
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		c.logger.Error("Backend refused upload ticket",
			zap.Int64("sessionID", sessionID),
			zap.Int("sequenceNumber", sequenceNumber),
			zap.Int("statusCode", resp.StatusCode()),
			zap.String("response", truncateBody(body)))
		return nil, &domain.TicketRequestError{StatusCode: resp.StatusCode(), Body: truncateBody(body)}
	}

	var envelope apiResponse[entities.UploadTicket]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &domain.TicketRequestError{
			StatusCode: resp.StatusCode(),
			Body:       truncateBody(body),
			Err:        fmt.Errorf("failed to decode upload ticket: %w", err),
		}
	}
	if envelope.Data == nil {
		return nil, &domain.TicketRequestError{
			StatusCode: resp.StatusCode(),
			Body:       truncateBody(body),
			Err:        fmt.Errorf("upload ticket response has no data"),
		}
	}
	if err := envelope.Data.Validate(); err != nil {
		return nil, &domain.TicketRequestError{
			StatusCode: resp.StatusCode(),
			Body:       truncateBody(body),
			Err:        fmt.Errorf("invalid upload ticket: %w", err),
		}
	}

	c.logger.Info("Upload ticket issued",
		zap.Int64("sessionID", sessionID),
		zap.Int("sequenceNumber", sequenceNumber),
		zap.String("objectKey", envelope.Data.ObjectKey))

	return envelope.Data, nil
}

// Upload transfers data directly to the presigned URL
func (c *Client) Upload(ctx context.Context, ticket *entities.UploadTicket, data []byte, contentType string) (err error) {
	started := time.Now()
	defer func() { c.metrics.ObserveRequest("upload", started, err) }()

	if ticket == nil {
		return &domain.UploadError{Err: fmt.Errorf("upload ticket is required")}
	}

	resp, err := c.storage.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put(ticket.PresignedURL)
	if err != nil {
		c.logger.Error("Audio upload failed",
			zap.String("objectKey", ticket.ObjectKey),
			zap.Error(err))
		return &domain.UploadError{Err: err}
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		c.logger.Info("Audio uploaded",
			zap.String("objectKey", ticket.ObjectKey),
			zap.Int("bytes", len(data)),
			zap.Int("statusCode", resp.StatusCode()))
		return nil
	default:
		c.logger.Error("Storage rejected audio upload",
			zap.String("objectKey", ticket.ObjectKey),
			zap.Int("statusCode", resp.StatusCode()),
			zap.String("response", truncateBody(resp.Body())))
		return &domain.UploadError{StatusCode: resp.StatusCode(), Body: truncateBody(resp.Body())}
	}
}
