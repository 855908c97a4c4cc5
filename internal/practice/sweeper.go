package practice

import (
	"context"
	"log/slog"
	"time"

	"github.com/pitchlab/pitchlab/internal/store"
)

// StartSweeper runs a background goroutine that periodically finishes
// sessions still marked active past their end time. The client normally ends
// its own session when the countdown hits zero; the sweeper covers clients
// that disappeared mid-session.
func StartSweeper(ctx context.Context, repo store.Repository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				sweepOverdueSessions(ctx, repo)
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOverdueSessions(ctx context.Context, repo store.Repository) {
	overdue, err := repo.GetOverdueSessions(ctx, time.Now())
	if err != nil {
		slog.Error("sweeper failed to list overdue sessions", "error", err)
		return
	}

	if len(overdue) == 0 {
		return
	}

	slog.Info("sweeper found overdue sessions", "count", len(overdue))

	for _, session := range overdue {
		if err := repo.FinishSession(ctx, session.ID, time.Now()); err != nil {
			slog.Error("sweeper failed to finish session",
				"error", err,
				"session_id", session.ID,
				"trainee_id", session.TraineeID)
			continue
		}
		slog.Info("sweeper finished overdue session",
			"session_id", session.ID,
			"trainee_id", session.TraineeID)
	}
}
