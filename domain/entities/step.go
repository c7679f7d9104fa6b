package entities

import (
	"errors"
	"strings"
)

// Difficulty of a scenario run. Spoken answers are only collected on HARD.
type Difficulty string

const (
	DifficultyEasy Difficulty = "EASY"
	DifficultyHard Difficulty = "HARD"
)

// ParseDifficulty normalizes a difficulty flag received from the scenario layer.
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(strings.ToUpper(strings.TrimSpace(s))) {
	case DifficultyEasy:
		return DifficultyEasy, nil
	case DifficultyHard:
		return DifficultyHard, nil
	default:
		return "", errors.New("difficulty must be EASY or HARD")
	}
}

// ScenarioStep identifies the question currently being answered.
type ScenarioStep struct {
	SessionID      int64      `json:"session_id"`
	SequenceNumber int        `json:"sequence_number"`
	Difficulty     Difficulty `json:"difficulty"`
}

// Validate checks the identifiers handed over by the scenario layer.
func (s *ScenarioStep) Validate() error {
	if s.SessionID <= 0 {
		return errors.New("session id must be positive")
	}
	if s.SequenceNumber < 1 {
		return errors.New("sequence number must be 1-based")
	}
	return nil
}

// RecordingEnabled reports whether the step collects a spoken answer.
func (s *ScenarioStep) RecordingEnabled() bool {
	return s.Difficulty == DifficultyHard
}
