package api

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/majuclass/recorder/domain/entities"
)

// Envelope statuses
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// Response is the {status, message, data} envelope shared by every JSON endpoint
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func success(message string, data interface{}) Response {
	return Response{Status: StatusSuccess, Message: message, Data: data}
}

func failure(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// UploadTicketRequest represents the request payload for an upload ticket
type UploadTicketRequest struct {
	SessionID      int64  `json:"sessionId" validate:"required,gt=0"`
	SequenceNumber int    `json:"sequenceNumber" validate:"required,gt=0"`
	ContentType    string `json:"contentType" validate:"required,eq=audio/wav"`
}

// ScoringRequest represents the request payload for answer scoring
type ScoringRequest struct {
	ObjectKey string `json:"audio_s3_key" validate:"required"`
}

// TokenRequest represents the request payload for a development token
type TokenRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// TokenResponse represents the response payload for a development token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AnswerList is returned by the answer history endpoint
type AnswerList struct {
	SessionID      int64                    `json:"sessionId"`
	SequenceNumber int                      `json:"sequenceNumber"`
	Answers        []*entities.AnswerRecord `json:"answers"`
}

// RequestValidator adapts validator/v10 to echo's Validator interface
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a request validator
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

// Validate validates a bound request struct
func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
