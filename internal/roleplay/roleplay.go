// Package roleplay implements the trainee-side session controller.
//
// The controller owns the full lifecycle of one practice session: starting
// it, counting it down, exchanging messages with the simulated customer,
// and surfacing coach advice. It is UI-agnostic: a frontend renders
// Snapshot values, calls the action methods on user input, and gets an
// OnChange callback whenever the visible state moved.
//
// A session walks NotStarted -> Active -> Finished and never leaves
// Finished. The server can force that last transition at any time by
// answering forbidden; the controller treats such an answer as
// authoritative no matter which request triggered it.
package roleplay

import (
	"fmt"
	"time"
)

// State is the lifecycle phase of the session.
type State int

const (
	// StateNotStarted is the idle phase before the one session begins.
	StateNotStarted State = iota
	// StateActive is the timed conversation phase.
	StateActive
	// StateFinished is terminal. No action or tick leaves it.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// EntryKind tags a transcript entry.
type EntryKind int

const (
	// EntryUser is a message the trainee sent.
	EntryUser EntryKind = iota
	// EntryCustomer is an answer from the simulated customer.
	EntryCustomer
	// EntryPending is the transitional placeholder shown while an answer
	// is in flight.
	EntryPending
	// EntryError is an inline failure marker left where an answer should
	// have been.
	EntryError
	// EntryNotice is a session-level line such as the terminal ended
	// notice.
	EntryNotice
)

// Entry is one line of the conversation transcript.
type Entry struct {
	Kind EntryKind
	Text string
}

// String renders the entry the way the transcript shows it.
func (e Entry) String() string {
	switch e.Kind {
	case EntryUser:
		return "You: " + e.Text
	case EntryCustomer:
		return "Customer: " + e.Text
	case EntryPending:
		return "Customer is typing…"
	default:
		return e.Text
	}
}

// Transcript and alert texts.
const (
	emptyReplyMarker = "(no answer)"
	replyFailedText  = "⚠️ No reply from the customer – please try again."
	noticeEnded      = "Session ended."
	noticeConsumed   = "Session already completed."
	startFailedText  = "Could not start the session. Please try again."
)

// Snapshot is a copy of everything a frontend needs to render. Entries is
// an independent slice; mutating it does not touch the controller.
type Snapshot struct {
	State        State
	Entries      []Entry
	Clock        string
	InputEnabled bool
	CanStart     bool
	CanEnd       bool
	CoachVisible bool
	CoachAdvice  string
	CoachUnread  bool
	Alert        string
}

// formatClock renders a countdown as MM:SS, rounding part seconds up so a
// fresh 20 minute session reads 20:00 and 00:00 appears only at expiry.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
