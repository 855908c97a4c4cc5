package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a practice session.
type SessionStatus string

const (
	// SessionActive means the session is running and accepts messages.
	SessionActive SessionStatus = "active"
	// SessionFinished means the session is over; it can never restart.
	SessionFinished SessionStatus = "finished"
)

// PracticeSession is one timed roleplay window for a trainee.
// A trainee gets exactly one session; a finished session is terminal.
type PracticeSession struct {
	ID              string        `json:"id"`
	TraineeID       string        `json:"trainee_id"`
	DurationSeconds int           `json:"duration_seconds"`
	StartedAt       time.Time     `json:"started_at"`
	EndsAt          time.Time     `json:"ends_at"`
	Status          SessionStatus `json:"status"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
}

// IsActive returns true while the session accepts messages.
func (s *PracticeSession) IsActive() bool {
	return s.Status == SessionActive
}

// Overdue returns true if the session is still active past its end time.
func (s *PracticeSession) Overdue(now time.Time) bool {
	return s.IsActive() && now.After(s.EndsAt)
}

// Remaining returns the time left until the session expires.
// Returns 0 once the end time has passed or the session is finished.
func (s *PracticeSession) Remaining(now time.Time) time.Duration {
	if !s.IsActive() {
		return 0
	}
	left := s.EndsAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
