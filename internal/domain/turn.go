package domain

import (
	"time"
)

// Turn is one completed exchange within a session: the trainee's message,
// the simulated customer's reply, and the coach advice attached later.
type Turn struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Seq          int       `json:"seq"`
	UserText     string    `json:"user_text"`
	ReplyText    string    `json:"reply_text"`
	AdviceText   string    `json:"advice_text,omitempty"`
	AdviceOpened bool      `json:"advice_opened"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasAdvice returns true once coach advice has been attached to the turn.
func (t *Turn) HasAdvice() bool {
	return t.AdviceText != ""
}
