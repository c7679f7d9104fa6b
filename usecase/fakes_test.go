package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
)

// fakeCapture hands out handles whose frames are queued up front
type fakeCapture struct {
	frames   [][]float32
	err      error
	opened   atomic.Int32
	released atomic.Int32
}

func (f *fakeCapture) Open(ctx context.Context) (*repositories.CaptureHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opened.Add(1)

	ch := make(chan []float32, len(f.frames)+1)
	for _, frame := range f.frames {
		ch <- frame
	}
	return repositories.NewCaptureHandle(ch, func() {
		f.released.Add(1)
		close(ch)
	}), nil
}

func constantFrame(n int, value float32) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = value
	}
	return frame
}

type fakeBroker struct {
	mu           sync.Mutex
	ticketErr    error
	uploadErr    error
	ticketCalls  int
	uploads      [][]byte
	contentTypes []string
}

func (f *fakeBroker) RequestUploadTicket(ctx context.Context, sessionID int64, sequenceNumber int, contentType string) (*entities.UploadTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticketCalls++
	if f.ticketErr != nil {
		return nil, f.ticketErr
	}
	return &entities.UploadTicket{
		PresignedURL: "http://storage.local/put",
		ObjectKey:    "session_answers/12/seq_3.wav",
	}, nil
}

func (f *fakeBroker) Upload(ctx context.Context, ticket *entities.UploadTicket, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, data)
	f.contentTypes = append(f.contentTypes, contentType)
	return nil
}

func (f *fakeBroker) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type fakeScoring struct {
	mu      sync.Mutex
	results []*entities.ScoringResult
	err     error
	keys    []string
	// when set, RequestScoring signals started and waits for proceed
	started chan struct{}
	proceed chan struct{}
}

func (f *fakeScoring) RequestScoring(ctx context.Context, sessionID int64, sequenceNumber int, objectKey string) (*entities.ScoringResult, error) {
	if f.started != nil {
		close(f.started)
		<-f.proceed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, objectKey)
	if f.err != nil {
		return nil, f.err
	}
	attempt := len(f.keys)
	if len(f.results) == 0 {
		return &entities.ScoringResult{AnswerID: int64(attempt), SimilarityScore: 0.92, IsCorrect: true, AttemptNumber: attempt}, nil
	}
	idx := attempt - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	result := *f.results[idx]
	result.AttemptNumber = attempt
	return &result, nil
}

func (f *fakeScoring) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}
