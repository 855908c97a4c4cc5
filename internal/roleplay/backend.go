package roleplay

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed reports the server's forbidden answer: the session is
// over (or was never available to begin with) and nothing more can be
// sent. It overrides whatever the controller believed locally.
var ErrSessionClosed = errors.New("session closed by server")

// Backend is the server side of a practice session as the controller sees
// it. EndSession and CoachOpened are best-effort notifications; callers
// are permitted to ignore their errors.
type Backend interface {
	// StartSession claims the trainee's one practice session and returns
	// its length. ErrSessionClosed means the session was already consumed.
	StartSession(ctx context.Context) (time.Duration, error)

	// PostMessage sends one trainee message and returns the simulated
	// customer's answer.
	PostMessage(ctx context.Context, query string) (string, error)

	// CoachAdvice fetches advice for the latest exchange. An empty string
	// means the coach has nothing to say.
	CoachAdvice(ctx context.Context) (string, error)

	// CoachOpened reports that the trainee opened the current advice.
	CoachOpened(ctx context.Context) error

	// EndSession reports that the trainee finished the session.
	EndSession(ctx context.Context) error
}
