package roleplay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Config adjusts controller timing. Zero values get defaults.
type Config struct {
	// TickInterval is how often the countdown recomputes. Default 1s.
	TickInterval time.Duration

	// CoachDelay is the pause between an answer resolving and the coach
	// advice request, giving the server time to settle the turn.
	// Default 600ms.
	CoachDelay time.Duration

	// OnChange is called after every visible state change, always outside
	// the controller's lock. May be nil and may be replaced later with
	// SetOnChange.
	OnChange func()
}

// Controller drives one practice session against a Backend.
//
// All methods are safe for concurrent use; a single mutex serializes user
// actions, countdown ticks, and request resolutions. Requests already in
// flight are never cancelled by a session ending - their resolutions are
// simply dropped by the state guards.
type Controller struct {
	mu      sync.Mutex
	backend Backend

	state        State
	entries      []Entry
	endAt        time.Time
	remaining    time.Duration
	inFlight     bool
	startPending bool
	alert        string

	coachAdvice  string
	coachUnread  bool
	coachVisible bool
	openedSent   bool

	tickInterval time.Duration
	coachDelay   time.Duration
	onChange     func()

	ctx        context.Context
	cancel     context.CancelFunc
	stopTicker context.CancelFunc
}

// New creates a controller in NotStarted over the given backend.
func New(backend Backend, cfg Config) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.CoachDelay <= 0 {
		cfg.CoachDelay = 600 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend:      backend,
		state:        StateNotStarted,
		tickInterval: cfg.TickInterval,
		coachDelay:   cfg.CoachDelay,
		onChange:     cfg.OnChange,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetOnChange replaces the change callback. Handy when the frontend is
// constructed after the controller.
func (c *Controller) SetOnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Controller) changed() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Snapshot returns a render-ready copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)

	return Snapshot{
		State:        c.state,
		Entries:      entries,
		Clock:        formatClock(c.remaining),
		InputEnabled: c.inputEnabledLocked(),
		CanStart:     c.state == StateNotStarted && !c.startPending && c.alert == "",
		CanEnd:       c.state == StateActive,
		CoachVisible: c.coachVisible,
		CoachAdvice:  c.coachAdvice,
		CoachUnread:  c.coachUnread,
		Alert:        c.alert,
	}
}

// The message box is usable exactly when the session runs and no exchange
// is in flight.
func (c *Controller) inputEnabledLocked() bool {
	return c.state == StateActive && !c.inFlight
}

// Start requests the trainee's one practice session. Ignored unless the
// controller is in NotStarted with no attempt already pending and no
// undismissed alert. A forbidden answer seals the session for good: the
// trainee consumed their attempt in some earlier tab or visit.
func (c *Controller) Start() {
	defer c.changed()
	c.mu.Lock()
	if c.state != StateNotStarted || c.startPending || c.alert != "" {
		c.mu.Unlock()
		return
	}
	c.startPending = true
	c.mu.Unlock()

	go func() {
		duration, err := c.backend.StartSession(c.ctx)

		defer c.changed()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.startPending = false
		if c.state != StateNotStarted {
			return
		}
		if errors.Is(err, ErrSessionClosed) {
			c.finishLocked(noticeConsumed, false)
			return
		}
		if err != nil {
			slog.Debug("session start failed", "error", err)
			c.alert = startFailedText
			return
		}

		c.state = StateActive
		c.endAt = time.Now().Add(duration)
		c.remaining = duration
		c.startCountdownLocked()
	}()
}

// DismissAlert clears the blocking start failure alert, re-enabling the
// start control for another attempt.
func (c *Controller) DismissAlert() {
	defer c.changed()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alert = ""
}

// End finishes the session on the trainee's request. Ignored unless the
// session is active.
func (c *Controller) End() {
	defer c.changed()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}
	c.finishLocked(noticeEnded, true)
}

// Submit sends one trainee message. Blank text and submissions while the
// input is unavailable are ignored outright: no transcript entry, no
// request. A valid submission locks the input, drops any stale coach
// advice, and shows a typing placeholder until the answer resolves.
func (c *Controller) Submit(text string) {
	trimmed := strings.TrimSpace(text)

	defer c.changed()
	c.mu.Lock()
	defer c.mu.Unlock()
	if trimmed == "" || !c.inputEnabledLocked() {
		return
	}

	c.inFlight = true
	c.clearCoachLocked()
	c.entries = append(c.entries,
		Entry{Kind: EntryUser, Text: trimmed},
		Entry{Kind: EntryPending},
	)

	go c.resolveReply(len(c.entries)-1, trimmed)
}

// resolveReply finishes one exchange. The placeholder index stays valid
// for the whole flight: nothing else appends entries while an exchange is
// in flight and the session is active, and the finished path never touches
// entries by index.
func (c *Controller) resolveReply(placeholder int, query string) {
	answer, err := c.backend.PostMessage(c.ctx, query)

	defer c.changed()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight = false
	// The session may have ended while the request was out. The result no
	// longer matters; the terminal notice already told the trainee.
	if c.state != StateActive {
		return
	}

	switch {
	case errors.Is(err, ErrSessionClosed):
		c.finishLocked(noticeEnded, false)
		return
	case err != nil:
		slog.Debug("message delivery failed", "error", err)
		c.entries[placeholder] = Entry{Kind: EntryError, Text: replyFailedText}
		return
	}

	if strings.TrimSpace(answer) == "" {
		c.entries[placeholder] = Entry{Kind: EntryCustomer, Text: emptyReplyMarker}
	} else {
		c.entries[placeholder] = Entry{Kind: EntryCustomer, Text: answer}
	}

	c.scheduleCoachLocked()
}

// scheduleCoachLocked arms the delayed advice fetch for the exchange that
// just resolved.
func (c *Controller) scheduleCoachLocked() {
	ctx := c.ctx
	delay := c.coachDelay
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		c.resolveCoach()
	}()
}

func (c *Controller) resolveCoach() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	advice, err := c.backend.CoachAdvice(c.ctx)

	defer c.changed()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}

	switch {
	case errors.Is(err, ErrSessionClosed):
		c.finishLocked(noticeEnded, false)
		return
	case err != nil:
		// Advice is a bonus; a failed fetch stays invisible.
		slog.Debug("coach advice fetch failed", "error", err)
		return
	}

	if strings.TrimSpace(advice) == "" {
		return
	}
	c.coachAdvice = advice
	c.coachUnread = true
	c.openedSent = false
}

// ToggleCoach flips the advice panel. Opening it marks the advice read and
// reports the open to the server once per advice item; toggling back and
// forth never repeats the report.
func (c *Controller) ToggleCoach() {
	defer c.changed()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.coachVisible = !c.coachVisible
	if !c.coachVisible {
		return
	}

	c.coachUnread = false
	if c.coachAdvice != "" && !c.openedSent {
		c.openedSent = true
		go func() {
			if err := c.backend.CoachOpened(c.ctx); err != nil {
				slog.Debug("coach opened notification failed", "error", err)
			}
		}()
	}
}

// Close stops the countdown and abandons all outstanding requests. This is
// for process shutdown, not for ending a session.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.stopTicker != nil {
		c.stopTicker()
		c.stopTicker = nil
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *Controller) startCountdownLocked() {
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopTicker = cancel
	go c.runCountdown(ctx)
}

func (c *Controller) runCountdown(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

// tick recomputes the countdown for the given instant. The instant comes
// in as an argument so tests can drive the clock directly. Expiry finishes
// the session through the same path as a manual end, with the clock pinned
// at 00:00 first.
func (c *Controller) tick(now time.Time) {
	defer c.changed()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}

	remaining := c.endAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	c.remaining = remaining
	if remaining == 0 {
		c.finishLocked(noticeEnded, true)
	}
}

// finishLocked seals the session: terminal state, countdown stopped, coach
// overlay gone, and the notice appended. Callers hold the lock and have
// already checked the current state allows finishing, which is what keeps
// the notice to exactly one appearance.
func (c *Controller) finishLocked(notice string, notifyServer bool) {
	c.state = StateFinished
	if c.stopTicker != nil {
		c.stopTicker()
		c.stopTicker = nil
	}

	// An exchange cut short leaves its placeholder dangling; drop it
	// rather than freeze a typing line into the final transcript.
	if n := len(c.entries); n > 0 && c.entries[n-1].Kind == EntryPending {
		c.entries = c.entries[:n-1]
	}

	c.clearCoachLocked()
	c.entries = append(c.entries, Entry{Kind: EntryNotice, Text: notice})

	if notifyServer {
		go func() {
			if err := c.backend.EndSession(c.ctx); err != nil {
				slog.Debug("end notification failed", "error", err)
			}
		}()
	}
}

func (c *Controller) clearCoachLocked() {
	c.coachAdvice = ""
	c.coachUnread = false
	c.coachVisible = false
	c.openedSent = false
}
