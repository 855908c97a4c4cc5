package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pitchlab/pitchlab/internal/roleplay"
)

// stubBackend is configured at construction and never mutated afterwards.
type stubBackend struct {
	answer   string
	advice   string
	startErr error
}

func (s stubBackend) StartSession(context.Context) (time.Duration, error) {
	if s.startErr != nil {
		return 0, s.startErr
	}
	return 20 * time.Minute, nil
}
func (s stubBackend) PostMessage(context.Context, string) (string, error) { return s.answer, nil }
func (s stubBackend) CoachAdvice(context.Context) (string, error)         { return s.advice, nil }
func (stubBackend) CoachOpened(context.Context) error                     { return nil }
func (stubBackend) EndSession(context.Context) error                      { return nil }

func newTestModel(t *testing.T, backend roleplay.Backend) (Model, *roleplay.Controller) {
	t.Helper()
	ctrl := roleplay.New(backend, roleplay.Config{
		TickInterval: time.Hour,
		CoachDelay:   time.Millisecond,
	})
	t.Cleanup(ctrl.Close)

	m := New(ctrl)
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	return m, ctrl
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned a %T, not a Model", next)
	}
	return model
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestViewBeforeFirstSizeShowsLoading(t *testing.T) {
	ctrl := roleplay.New(stubBackend{}, roleplay.Config{TickInterval: time.Hour})
	t.Cleanup(ctrl.Close)

	if got := New(ctrl).View(); got != "Loading…" {
		t.Errorf("expected the loading placeholder, got %q", got)
	}
}

func TestIdleViewOffersStart(t *testing.T) {
	m, _ := newTestModel(t, stubBackend{})

	view := m.View()
	if !strings.Contains(view, "PitchLab Trainer") {
		t.Error("expected the header in the view")
	}
	if !strings.Contains(view, "s start session") {
		t.Error("expected the start hint in the view")
	}
}

func TestStartKeyActivatesSession(t *testing.T) {
	m, ctrl := newTestModel(t, stubBackend{answer: "Go on."})

	m = update(t, m, keyRune('s'))
	waitFor(t, func() bool { return ctrl.Snapshot().State == roleplay.StateActive },
		"start key never activated the session")

	m = update(t, m, RefreshMsg{})
	view := m.View()
	if !strings.Contains(view, "20:00") {
		t.Errorf("expected the full clock in the view, got:\n%s", view)
	}
	if !strings.Contains(view, "enter send") {
		t.Error("expected the active-session hints in the view")
	}
}

func TestEnterSubmitsInputAndClearsIt(t *testing.T) {
	m, ctrl := newTestModel(t, stubBackend{answer: "Why should I care?"})

	m = update(t, m, keyRune('s'))
	waitFor(t, func() bool { return ctrl.Snapshot().State == roleplay.StateActive },
		"session never activated")
	m = update(t, m, RefreshMsg{})

	m.input.SetValue("hello there")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if got := m.input.Value(); got != "" {
		t.Errorf("expected the input cleared after submit, got %q", got)
	}

	waitFor(t, func() bool {
		snap := ctrl.Snapshot()
		for _, e := range snap.Entries {
			if e.Kind == roleplay.EntryCustomer {
				return true
			}
		}
		return false
	}, "answer never arrived")

	m = update(t, m, RefreshMsg{})
	if view := m.View(); !strings.Contains(view, "Why should I care?") {
		t.Errorf("expected the answer in the transcript, got:\n%s", view)
	}
}

func TestTabShowsCoachAdvice(t *testing.T) {
	m, ctrl := newTestModel(t, stubBackend{answer: "Go on.", advice: "Lead with value."})

	m = update(t, m, keyRune('s'))
	waitFor(t, func() bool { return ctrl.Snapshot().State == roleplay.StateActive },
		"session never activated")
	m = update(t, m, RefreshMsg{})

	m.input.SetValue("hello")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	waitFor(t, func() bool { return ctrl.Snapshot().CoachUnread }, "advice never arrived")

	m = update(t, m, RefreshMsg{})
	if view := m.View(); !strings.Contains(view, "new coach advice") {
		t.Error("expected the unread badge before opening the panel")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if view := m.View(); !strings.Contains(view, "Coach: Lead with value.") {
		t.Errorf("expected the advice panel after tab, got:\n%s", view)
	}
}

func TestPastedTextIsDropped(t *testing.T) {
	m, ctrl := newTestModel(t, stubBackend{answer: "Go on."})

	m = update(t, m, keyRune('s'))
	waitFor(t, func() bool { return ctrl.Snapshot().State == roleplay.StateActive },
		"session never activated")
	m = update(t, m, RefreshMsg{})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("pasted pitch"), Paste: true})
	if got := m.input.Value(); got != "" {
		t.Errorf("expected pasted text dropped, got %q", got)
	}

	m = update(t, m, keyRune('h'))
	if got := m.input.Value(); got != "h" {
		t.Errorf("expected typed text accepted, got %q", got)
	}
}

func TestStartFailureShowsAlertUntilDismissed(t *testing.T) {
	m, ctrl := newTestModel(t, stubBackend{startErr: errors.New("connection refused")})

	m = update(t, m, keyRune('s'))
	waitFor(t, func() bool { return ctrl.Snapshot().Alert != "" }, "start failure never raised an alert")

	m = update(t, m, RefreshMsg{})
	if view := m.View(); !strings.Contains(view, "Could not start the session.") {
		t.Errorf("expected the alert box, got:\n%s", view)
	}

	// Any other key is swallowed while the alert is up.
	m = update(t, m, keyRune('s'))
	if ctrl.Snapshot().Alert == "" {
		t.Fatal("a random key must not dismiss the alert")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if ctrl.Snapshot().Alert != "" {
		t.Error("enter should dismiss the alert")
	}
	if view := m.View(); !strings.Contains(view, "s start session") {
		t.Error("expected the start hint back after dismissing the alert")
	}
}

func TestFinishedViewClosesInput(t *testing.T) {
	m, ctrl := newTestModel(t, stubBackend{})

	m = update(t, m, keyRune('s'))
	waitFor(t, func() bool { return ctrl.Snapshot().State == roleplay.StateActive },
		"session never activated")
	m = update(t, m, RefreshMsg{})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	view := m.View()
	if !strings.Contains(view, "Session ended.") {
		t.Errorf("expected the ended notice in the transcript, got:\n%s", view)
	}
	if !strings.Contains(view, "input closed") {
		t.Error("expected the closed input line after the session ended")
	}
	if !strings.Contains(view, "q quit") {
		t.Error("expected the finished hints")
	}
}
