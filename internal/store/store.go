// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pitchlab/pitchlab/internal/domain"
)

// ErrSessionExists is returned by CreateSession when the trainee has
// already consumed their practice session.
var ErrSessionExists = errors.New("trainee already has a session")

// Repository defines the interface for persisting trainees, sessions and turns.
type Repository interface {
	// EnsureTrainee creates the trainee record if it does not exist and
	// touches its updated_at timestamp if it does.
	EnsureTrainee(ctx context.Context, traineeID string) error

	// CreateSession inserts a new practice session. Returns ErrSessionExists
	// if the trainee already has one (active or finished).
	CreateSession(ctx context.Context, session *domain.PracticeSession) error

	// GetSessionByTrainee retrieves the trainee's session, or nil if none exists.
	GetSessionByTrainee(ctx context.Context, traineeID string) (*domain.PracticeSession, error)

	// FinishSession marks a session finished and records its end time.
	// Finishing an already-finished session is a no-op.
	FinishSession(ctx context.Context, sessionID string, endedAt time.Time) error

	// GetOverdueSessions retrieves sessions still active past their end time.
	GetOverdueSessions(ctx context.Context, now time.Time) ([]*domain.PracticeSession, error)

	// CountTurns returns the number of turns recorded for a session.
	CountTurns(ctx context.Context, sessionID string) (int, error)

	// AppendTurn inserts a completed exchange turn.
	AppendTurn(ctx context.Context, turn *domain.Turn) error

	// LatestTurn retrieves the most recent turn of a session, or nil if none.
	LatestTurn(ctx context.Context, sessionID string) (*domain.Turn, error)

	// SetTurnAdvice attaches coach advice to a turn.
	SetTurnAdvice(ctx context.Context, sessionID string, seq int, advice string) error

	// MarkLatestAdviceOpened flags the newest advice-bearing turn as opened.
	// Returns false if the session has no advice to mark.
	MarkLatestAdviceOpened(ctx context.Context, sessionID string) (bool, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
