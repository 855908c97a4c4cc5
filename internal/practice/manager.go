// Package practice manages practice sessions on the server side.
//
// A trainee gets exactly one timed session. The manager enforces that rule
// against the store, records exchange turns, attaches coach advice, and
// feeds completed turns to the transcript logger.
package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchlab/pitchlab/internal/domain"
	"github.com/pitchlab/pitchlab/internal/scenario"
	"github.com/pitchlab/pitchlab/internal/store"
	"github.com/pitchlab/pitchlab/internal/transcript"
)

var (
	// ErrAlreadyUsed means the trainee has consumed their one session.
	ErrAlreadyUsed = errors.New("practice session already consumed")
	// ErrNoActiveSession means there is no active session to act on.
	ErrNoActiveSession = errors.New("no active practice session")
	// ErrStartInProgress means another start request holds the trainee lock.
	ErrStartInProgress = errors.New("session start already in progress")
)

// startLocks serializes start-session per trainee.
var startLocks sync.Map

// Manager coordinates sessions, turns, and coach advice.
type Manager struct {
	repo      store.Repository
	responder scenario.Responder
	duration  time.Duration
	log       transcript.Logger
}

// NewManager creates a practice session manager.
func NewManager(repo store.Repository, responder scenario.Responder, duration time.Duration, log transcript.Logger) *Manager {
	return &Manager{
		repo:      repo,
		responder: responder,
		duration:  duration,
		log:       log,
	}
}

// StartSession creates the trainee's one practice session.
// Returns ErrAlreadyUsed if a session already exists, active or not.
func (m *Manager) StartSession(ctx context.Context, traineeID string) (*domain.PracticeSession, error) {
	lock, _ := startLocks.LoadOrStore(traineeID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("session start already in progress", "trainee_id", traineeID)
		return nil, ErrStartInProgress
	}
	defer func() {
		mutex.Unlock()
		startLocks.Delete(traineeID)
	}()

	existing, err := m.repo.GetSessionByTrainee(ctx, traineeID)
	if err != nil {
		return nil, fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyUsed
	}

	now := time.Now()
	session := &domain.PracticeSession{
		ID:              uuid.NewString(),
		TraineeID:       traineeID,
		DurationSeconds: int(m.duration.Seconds()),
		StartedAt:       now,
		EndsAt:          now.Add(m.duration),
		Status:          domain.SessionActive,
	}

	if err := m.repo.CreateSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrSessionExists) {
			return nil, ErrAlreadyUsed
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("practice session started",
		"session_id", session.ID,
		"trainee_id", traineeID,
		"duration_s", session.DurationSeconds)
	return session, nil
}

// activeSession fetches the trainee's session and verifies it is usable.
// An overdue session is finished on the spot, so expiry holds between
// sweeper passes too.
func (m *Manager) activeSession(ctx context.Context, traineeID string) (*domain.PracticeSession, error) {
	session, err := m.repo.GetSessionByTrainee(ctx, traineeID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil || !session.IsActive() {
		return nil, ErrNoActiveSession
	}

	now := time.Now()
	if session.Overdue(now) {
		if err := m.repo.FinishSession(ctx, session.ID, now); err != nil {
			slog.Warn("failed to finish overdue session", "session_id", session.ID, "error", err)
		} else {
			slog.Info("finished overdue session on access", "session_id", session.ID)
		}
		return nil, ErrNoActiveSession
	}

	return session, nil
}

// PostMessage records one trainee message and returns the customer's reply.
func (m *Manager) PostMessage(ctx context.Context, traineeID, query string) (string, error) {
	session, err := m.activeSession(ctx, traineeID)
	if err != nil {
		return "", err
	}

	count, err := m.repo.CountTurns(ctx, session.ID)
	if err != nil {
		return "", fmt.Errorf("count turns: %w", err)
	}
	seq := count + 1

	reply, err := m.responder.Reply(ctx, scenario.ReplyRequest{
		TraineeID: traineeID,
		SessionID: session.ID,
		Seq:       seq,
		Query:     query,
	})
	if err != nil {
		return "", fmt.Errorf("produce reply: %w", err)
	}

	turn := &domain.Turn{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Seq:       seq,
		UserText:  query,
		ReplyText: reply,
		CreatedAt: time.Now(),
	}
	if err := m.repo.AppendTurn(ctx, turn); err != nil {
		return "", fmt.Errorf("append turn: %w", err)
	}

	return reply, nil
}

// CoachAdvice reviews the latest exchange and returns advice for it.
// Before the first completed turn the standing greeting is returned; an
// exchange with no matching advice returns "" and the client stays silent.
func (m *Manager) CoachAdvice(ctx context.Context, traineeID string) (string, error) {
	session, err := m.activeSession(ctx, traineeID)
	if err != nil {
		return "", err
	}

	turn, err := m.repo.LatestTurn(ctx, session.ID)
	if err != nil {
		return "", fmt.Errorf("latest turn: %w", err)
	}
	if turn == nil {
		return scenario.CoachGreetingText, nil
	}
	if turn.HasAdvice() {
		return turn.AdviceText, nil
	}

	advice, err := m.responder.Advice(ctx, scenario.AdviceRequest{
		TraineeID: traineeID,
		SessionID: session.ID,
		Seq:       turn.Seq,
		UserText:  turn.UserText,
		ReplyText: turn.ReplyText,
	})
	if err != nil {
		slog.Warn("coach advice lookup failed", "session_id", session.ID, "error", err)
		return scenario.CoachUnavailableText, nil
	}

	if advice != "" {
		if err := m.repo.SetTurnAdvice(ctx, session.ID, turn.Seq, advice); err != nil {
			slog.Warn("failed to persist advice", "session_id", session.ID, "seq", turn.Seq, "error", err)
		}
	}

	m.log.LogTurn(transcript.Row{
		SessionID: session.ID,
		UserText:  turn.UserText,
		ReplyText: turn.ReplyText,
		Advice:    advice,
	})

	return advice, nil
}

// MarkAdviceOpened flags the latest advice as seen by the trainee.
func (m *Manager) MarkAdviceOpened(ctx context.Context, traineeID string) error {
	session, err := m.repo.GetSessionByTrainee(ctx, traineeID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return ErrNoActiveSession
	}

	marked, err := m.repo.MarkLatestAdviceOpened(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("mark advice opened: %w", err)
	}
	if !marked {
		slog.Debug("coach-opened with no advice to mark", "session_id", session.ID)
	}
	return nil
}

// EndSession finishes the trainee's session. Ending an already-finished
// session is a no-op so late end notifications stay harmless.
func (m *Manager) EndSession(ctx context.Context, traineeID string) error {
	session, err := m.repo.GetSessionByTrainee(ctx, traineeID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return ErrNoActiveSession
	}
	if !session.IsActive() {
		return nil
	}

	if err := m.repo.FinishSession(ctx, session.ID, time.Now()); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}

	slog.Info("practice session ended", "session_id", session.ID, "trainee_id", traineeID)
	return nil
}
