package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
)

const (
	answersCollection  = "session_stt_answers"
	countersCollection = "counters"
	answerIDCounter    = "session_stt_answer_id"
)

// MongoAnswerRepository implements AnswerRepository using MongoDB. Numeric IDs
// and per-step attempt numbers come from atomic counters.
type MongoAnswerRepository struct {
	answers  *mongo.Collection
	counters *mongo.Collection
	logger   *zap.Logger
}

var _ repositories.AnswerRepository = (*MongoAnswerRepository)(nil)

// NewMongoAnswerRepository creates a new MongoDB answer repository
func NewMongoAnswerRepository(db *mongo.Database, logger *zap.Logger) *MongoAnswerRepository {
	collection := db.Collection(answersCollection)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stepIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "sequence_number", Value: 1},
				{Key: "attempt_no", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		}

		if _, err := collection.Indexes().CreateOne(ctx, stepIndex); err != nil {
			logger.Error("Failed to create answer indexes", zap.Error(err))
		} else {
			logger.Info("Answer indexes created successfully")
		}
	}()

	return &MongoAnswerRepository{
		answers:  collection,
		counters: db.Collection(countersCollection),
		logger:   logger,
	}
}

func (r *MongoAnswerRepository) next(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", name, err)
	}
	return counter.Value, nil
}

// Save assigns the record an ID and the next attempt number for its step
func (r *MongoAnswerRepository) Save(ctx context.Context, record *entities.AnswerRecord) error {
	if record == nil {
		return errors.New("answer record cannot be nil")
	}

	id, err := r.next(ctx, answerIDCounter)
	if err != nil {
		return err
	}
	attempt, err := r.next(ctx, fmt.Sprintf("attempt:%d/%d", record.SessionID, record.SequenceNumber))
	if err != nil {
		return err
	}

	record.ID = id
	record.AttemptNumber = int(attempt)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if _, err := r.answers.InsertOne(ctx, record); err != nil {
		r.logger.Error("Failed to save answer", zap.Error(err),
			zap.Int64("sessionID", record.SessionID),
			zap.Int("sequenceNumber", record.SequenceNumber))
		return err
	}

	r.logger.Info("Answer saved",
		zap.Int64("answerID", record.ID),
		zap.Int("attemptNumber", record.AttemptNumber))
	return nil
}

// GetByID retrieves an answer by its numeric ID
func (r *MongoAnswerRepository) GetByID(ctx context.Context, id int64) (*entities.AnswerRecord, error) {
	var record entities.AnswerRecord
	err := r.answers.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("answer %d not found", id)
		}
		r.logger.Error("Failed to get answer by ID", zap.Error(err), zap.Int64("answerID", id))
		return nil, err
	}
	return &record, nil
}

// ListByStep returns the attempts for a step ordered by attempt number
func (r *MongoAnswerRepository) ListByStep(ctx context.Context, sessionID int64, sequenceNumber int) ([]*entities.AnswerRecord, error) {
	filter := bson.M{"session_id": sessionID, "sequence_number": sequenceNumber}
	opts := options.Find().SetSort(bson.D{{Key: "attempt_no", Value: 1}})

	cursor, err := r.answers.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*entities.AnswerRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode answers: %w", err)
	}
	return records, nil
}
