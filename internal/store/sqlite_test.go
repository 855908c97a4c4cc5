package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pitchlab/pitchlab/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close repository: %v", err)
		}
	})
	return repo
}

func newSession(traineeID string, now time.Time) *domain.PracticeSession {
	return &domain.PracticeSession{
		ID:              uuid.NewString(),
		TraineeID:       traineeID,
		DurationSeconds: 1200,
		StartedAt:       now,
		EndsAt:          now.Add(20 * time.Minute),
		Status:          domain.SessionActive,
	}
}

func TestCreateSessionOnePerTrainee(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.EnsureTrainee(ctx, "tr_a"); err != nil {
		t.Fatalf("EnsureTrainee failed: %v", err)
	}
	if err := repo.CreateSession(ctx, newSession("tr_a", time.Now())); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	err := repo.CreateSession(ctx, newSession("tr_a", time.Now()))
	if !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists for a second session, got %v", err)
	}
}

func TestGetSessionByTraineeRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetSessionByTrainee(ctx, "tr_missing")
	if err != nil {
		t.Fatalf("GetSessionByTrainee failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for a trainee without a session, got %+v", got)
	}

	now := time.Now()
	session := newSession("tr_a", now)
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err = repo.GetSessionByTrainee(ctx, "tr_a")
	if err != nil {
		t.Fatalf("GetSessionByTrainee failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected the stored session back")
	}
	if got.ID != session.ID || got.TraineeID != "tr_a" {
		t.Errorf("unexpected identity: %+v", got)
	}
	if got.DurationSeconds != 1200 || got.Status != domain.SessionActive {
		t.Errorf("unexpected fields: %+v", got)
	}
	if got.EndsAt.Unix() != session.EndsAt.Unix() {
		t.Errorf("ends_at changed across the round trip: %v != %v", got.EndsAt, session.EndsAt)
	}
	if got.EndedAt != nil {
		t.Errorf("an active session must have no ended_at, got %v", got.EndedAt)
	}
}

func TestFinishSessionIdempotent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	session := newSession("tr_a", time.Now())
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	first := time.Now().Add(time.Minute)
	if err := repo.FinishSession(ctx, session.ID, first); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}

	got, err := repo.GetSessionByTrainee(ctx, "tr_a")
	if err != nil {
		t.Fatalf("GetSessionByTrainee failed: %v", err)
	}
	if got.Status != domain.SessionFinished {
		t.Errorf("expected finished status, got %s", got.Status)
	}
	if got.EndedAt == nil || got.EndedAt.Unix() != first.Unix() {
		t.Errorf("expected ended_at %v, got %v", first.Unix(), got.EndedAt)
	}

	// A repeat finish is a no-op: the original end time survives.
	if err := repo.FinishSession(ctx, session.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("repeated FinishSession failed: %v", err)
	}
	got, err = repo.GetSessionByTrainee(ctx, "tr_a")
	if err != nil {
		t.Fatalf("GetSessionByTrainee failed: %v", err)
	}
	if got.EndedAt == nil || got.EndedAt.Unix() != first.Unix() {
		t.Errorf("repeat finish must not move ended_at, got %v", got.EndedAt)
	}
}

func TestGetOverdueSessions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	overdue := newSession("tr_late", now.Add(-30*time.Minute))
	if err := repo.CreateSession(ctx, overdue); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := repo.CreateSession(ctx, newSession("tr_current", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := repo.GetOverdueSessions(ctx, now)
	if err != nil {
		t.Fatalf("GetOverdueSessions failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != overdue.ID {
		t.Fatalf("expected only the overdue session, got %+v", got)
	}

	// Once finished it stops showing up.
	if err := repo.FinishSession(ctx, overdue.ID, now); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}
	got, err = repo.GetOverdueSessions(ctx, now)
	if err != nil {
		t.Fatalf("GetOverdueSessions failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no overdue sessions after finishing, got %+v", got)
	}
}

func TestTurnsAppendCountLatest(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	session := newSession("tr_a", time.Now())
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	latest, err := repo.LatestTurn(ctx, session.ID)
	if err != nil {
		t.Fatalf("LatestTurn failed: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no latest turn yet, got %+v", latest)
	}

	for seq := 1; seq <= 2; seq++ {
		turn := &domain.Turn{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Seq:       seq,
			UserText:  "hello",
			ReplyText: "go on",
			CreatedAt: time.Now(),
		}
		if err := repo.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn seq %d failed: %v", seq, err)
		}
	}

	count, err := repo.CountTurns(ctx, session.ID)
	if err != nil {
		t.Fatalf("CountTurns failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 turns, got %d", count)
	}

	latest, err = repo.LatestTurn(ctx, session.ID)
	if err != nil {
		t.Fatalf("LatestTurn failed: %v", err)
	}
	if latest == nil || latest.Seq != 2 {
		t.Fatalf("expected the seq 2 turn, got %+v", latest)
	}
	if latest.AdviceText != "" || latest.AdviceOpened {
		t.Errorf("a fresh turn must carry no advice, got %+v", latest)
	}
}

func TestSetTurnAdviceAndMarkOpened(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	session := newSession("tr_a", time.Now())
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Nothing to mark before any advice exists.
	marked, err := repo.MarkLatestAdviceOpened(ctx, session.ID)
	if err != nil {
		t.Fatalf("MarkLatestAdviceOpened failed: %v", err)
	}
	if marked {
		t.Error("expected nothing to mark before advice exists")
	}

	for seq := 1; seq <= 2; seq++ {
		turn := &domain.Turn{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Seq:       seq,
			UserText:  "hello",
			ReplyText: "go on",
			CreatedAt: time.Now(),
		}
		if err := repo.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn seq %d failed: %v", seq, err)
		}
	}
	if err := repo.SetTurnAdvice(ctx, session.ID, 1, "slow down"); err != nil {
		t.Fatalf("SetTurnAdvice failed: %v", err)
	}
	if err := repo.SetTurnAdvice(ctx, session.ID, 2, "ask a question"); err != nil {
		t.Fatalf("SetTurnAdvice failed: %v", err)
	}

	marked, err = repo.MarkLatestAdviceOpened(ctx, session.ID)
	if err != nil {
		t.Fatalf("MarkLatestAdviceOpened failed: %v", err)
	}
	if !marked {
		t.Fatal("expected the newest advice to be marked")
	}

	latest, err := repo.LatestTurn(ctx, session.ID)
	if err != nil {
		t.Fatalf("LatestTurn failed: %v", err)
	}
	if latest.Seq != 2 || latest.AdviceText != "ask a question" || !latest.AdviceOpened {
		t.Errorf("expected the seq 2 advice marked opened, got %+v", latest)
	}
}
