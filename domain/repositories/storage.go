package repositories

import (
	"context"

	"github.com/majuclass/recorder/domain/entities"
)

// UploadBroker moves an encoded recording into object storage through a
// presigned URL exchange. Implementations never retry on their own.
type UploadBroker interface {
	// RequestUploadTicket asks the backend for a single-use upload location
	RequestUploadTicket(ctx context.Context, sessionID int64, sequenceNumber int, contentType string) (*entities.UploadTicket, error)
	// Upload transfers data to the ticket's presigned URL
	Upload(ctx context.Context, ticket *entities.UploadTicket, data []byte, contentType string) error
}

// ObjectStore is the storage behind presigned uploads on the development backend
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// AnswerRepository persists scored answers
type AnswerRepository interface {
	// Save assigns the record an ID and the next attempt number for its step
	Save(ctx context.Context, record *entities.AnswerRecord) error
	GetByID(ctx context.Context, id int64) (*entities.AnswerRecord, error)
	// ListByStep returns the attempts for one step ordered by attempt number
	ListByStep(ctx context.Context, sessionID int64, sequenceNumber int) ([]*entities.AnswerRecord, error)
}
