package entities

import (
	"errors"
	"time"
)

// ScoringResult is the scored transcript for one uploaded answer.
type ScoringResult struct {
	AnswerID        int64   `json:"session_stt_answer_id"`
	TranscribedText string  `json:"transcribed_text"`
	ReferenceText   string  `json:"answer_text"`
	SimilarityScore float64 `json:"similarity_score"`
	IsCorrect       bool    `json:"is_correct"`
	AttemptNumber   int     `json:"attempt_no"`
}

// Validate checks the value ranges returned by the scoring service.
func (r *ScoringResult) Validate() error {
	if r.SimilarityScore < 0 || r.SimilarityScore > 1 {
		return errors.New("similarity score must be within [0, 1]")
	}
	if r.AttemptNumber < 1 {
		return errors.New("attempt number must be at least 1")
	}
	return nil
}

// AnswerRecord is a persisted scoring attempt kept by the development backend.
type AnswerRecord struct {
	ID              int64     `json:"id" bson:"_id"`
	SessionID       int64     `json:"session_id" bson:"session_id"`
	SequenceNumber  int       `json:"sequence_number" bson:"sequence_number"`
	AttemptNumber   int       `json:"attempt_no" bson:"attempt_no"`
	ObjectKey       string    `json:"audio_s3_key" bson:"audio_s3_key"`
	TranscribedText string    `json:"transcribed_text" bson:"transcribed_text"`
	ReferenceText   string    `json:"answer_text" bson:"answer_text"`
	SimilarityScore float64   `json:"similarity_score" bson:"similarity_score"`
	IsCorrect       bool      `json:"is_correct" bson:"is_correct"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// Result projects the record into the response returned to clients.
func (a *AnswerRecord) Result() *ScoringResult {
	return &ScoringResult{
		AnswerID:        a.ID,
		TranscribedText: a.TranscribedText,
		ReferenceText:   a.ReferenceText,
		SimilarityScore: a.SimilarityScore,
		IsCorrect:       a.IsCorrect,
		AttemptNumber:   a.AttemptNumber,
	}
}
