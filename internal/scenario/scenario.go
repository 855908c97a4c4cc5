// Package scenario implements the scripted customer and coach responder.
//
// Replies are driven by a JSON script instead of a language model: keyword
// rules pick the simulated customer's answer and the coach's advice, with
// rotating fallbacks when nothing matches. Scripts can be edited at runtime;
// a Watcher hot-reloads the active script on file change.
package scenario

import (
	"context"
)

// Coach texts with fixed meaning across all scripts.
const (
	// NoAdviceSentinel in a script rule means "explicitly no advice here".
	NoAdviceSentinel = "NO_ADVICE"
	// NoAdviceText replaces the sentinel before advice leaves the server.
	NoAdviceText = "✅ Great job! No advice needed."
	// CoachGreetingText is returned before the first completed turn.
	CoachGreetingText = "🕒 Say hello to the customer and I'll jump in!"
	// CoachUnavailableText is returned when the coach lookup fails.
	CoachUnavailableText = "⚠️ Coach temporarily unavailable – please continue."
)

// ReplyRequest asks the simulated customer for an answer to one message.
type ReplyRequest struct {
	TraineeID string
	SessionID string
	Seq       int
	Query     string
}

// AdviceRequest asks the coach to review one completed exchange.
type AdviceRequest struct {
	TraineeID string
	SessionID string
	Seq       int
	UserText  string
	ReplyText string
}

// Responder produces customer replies and coach advice.
type Responder interface {
	// Reply returns the simulated customer's answer to the trainee's message.
	Reply(ctx context.Context, req ReplyRequest) (string, error)

	// Advice reviews a completed exchange and returns coach advice.
	// An empty string means the coach has nothing to say.
	Advice(ctx context.Context, req AdviceRequest) (string, error)
}

// Ensure ScriptResponder implements Responder.
var _ Responder = (*ScriptResponder)(nil)
