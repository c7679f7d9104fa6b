package entities

import (
	"errors"
	"sync"
	"time"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/internal/audio"
)

// RecordingSession accumulates the PCM captured during one recording action.
// Chunks are only ever appended and are drained into a WAV buffer at most once.
type RecordingSession struct {
	SessionID      int64     `json:"session_id"`
	SequenceNumber int       `json:"sequence_number"`
	SampleRate     int       `json:"sample_rate"`
	StartedAt      time.Time `json:"started_at"`

	mu      sync.Mutex
	chunks  [][]int16
	samples int
	drained bool
}

// NewRecordingSession creates an empty session at the fixed capture rate.
func NewRecordingSession(sessionID int64, sequenceNumber int) *RecordingSession {
	return &RecordingSession{
		SessionID:      sessionID,
		SequenceNumber: sequenceNumber,
		SampleRate:     audio.SampleRate,
		StartedAt:      time.Now(),
		chunks:         make([][]int16, 0, 64),
	}
}

// Validate checks the identifying fields.
func (r *RecordingSession) Validate() error {
	if r.SessionID <= 0 {
		return errors.New("session id must be positive")
	}
	if r.SequenceNumber < 1 {
		return errors.New("sequence number must be 1-based")
	}
	if r.SampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}
	return nil
}

// Append adds a chunk in arrival order. The session keeps the slice as given,
// callers must not modify it afterwards. Appending to a drained session fails.
func (r *RecordingSession) Append(chunk []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return domain.ErrAlreadyDrained
	}
	if len(chunk) == 0 {
		return nil
	}
	r.chunks = append(r.chunks, chunk)
	r.samples += len(chunk)
	return nil
}

// SampleCount returns the total number of samples appended so far.
func (r *RecordingSession) SampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// ChunkCount returns the number of non-empty chunks appended so far.
func (r *RecordingSession) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Drain encodes every chunk into a WAV artifact and clears the session.
func (r *RecordingSession) Drain() (*WavArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return nil, domain.ErrAlreadyDrained
	}

	artifact := &WavArtifact{
		Data:        audio.EncodeWAV(r.chunks, r.SampleRate),
		SampleCount: r.samples,
		SampleRate:  r.SampleRate,
	}

	r.drained = true
	r.chunks = nil
	r.samples = 0
	return artifact, nil
}

// Discard drops buffered PCM without encoding it. The session cannot be drained afterwards.
func (r *RecordingSession) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drained = true
	r.chunks = nil
	r.samples = 0
}

// WavArtifact is an encoded recording ready for upload. Data must not be modified.
type WavArtifact struct {
	Data        []byte
	SampleCount int
	SampleRate  int
}

// Duration returns the playback length of the artifact.
func (w *WavArtifact) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(w.SampleCount) * time.Second / time.Duration(w.SampleRate)
}

// ContentType is the MIME type sent with the upload.
func (w *WavArtifact) ContentType() string {
	return audio.ContentTypeWAV
}

// Size returns the encoded length in bytes.
func (w *WavArtifact) Size() int {
	return len(w.Data)
}
