package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
)

type stepKey struct {
	sessionID      int64
	sequenceNumber int
}

// MemoryAnswerRepository keeps scored answers in process memory
type MemoryAnswerRepository struct {
	mu      sync.RWMutex
	nextID  int64
	answers map[int64]*entities.AnswerRecord
	steps   map[stepKey][]*entities.AnswerRecord
}

var _ repositories.AnswerRepository = (*MemoryAnswerRepository)(nil)

// NewMemoryAnswerRepository creates a new in-memory answer repository
func NewMemoryAnswerRepository() *MemoryAnswerRepository {
	return &MemoryAnswerRepository{
		answers: make(map[int64]*entities.AnswerRecord),
		steps:   make(map[stepKey][]*entities.AnswerRecord),
	}
}

// Save assigns the record an ID and the next attempt number for its step
func (m *MemoryAnswerRepository) Save(ctx context.Context, record *entities.AnswerRecord) error {
	if record == nil {
		return errors.New("answer record cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := stepKey{record.SessionID, record.SequenceNumber}

	m.nextID++
	record.ID = m.nextID
	record.AttemptNumber = len(m.steps[key]) + 1

	stored := *record
	m.answers[stored.ID] = &stored
	m.steps[key] = append(m.steps[key], &stored)
	return nil
}

// GetByID returns a copy of the stored record
func (m *MemoryAnswerRepository) GetByID(ctx context.Context, id int64) (*entities.AnswerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.answers[id]
	if !exists {
		return nil, fmt.Errorf("answer %d not found", id)
	}
	result := *record
	return &result, nil
}

// ListByStep returns the attempts for a step ordered by attempt number
func (m *MemoryAnswerRepository) ListByStep(ctx context.Context, sessionID int64, sequenceNumber int) ([]*entities.AnswerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.steps[stepKey{sessionID, sequenceNumber}]
	result := make([]*entities.AnswerRecord, 0, len(stored))
	for _, record := range stored {
		r := *record
		result = append(result, &r)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AttemptNumber < result[j].AttemptNumber
	})
	return result, nil
}
