// Package tui renders a practice session in the terminal. The model is a
// thin frontend over roleplay.Controller: every visible fact comes from a
// controller snapshot, and key presses translate straight into controller
// actions.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pitchlab/pitchlab/internal/roleplay"
)

// RefreshMsg asks the model to re-read the controller snapshot. The
// controller's OnChange callback feeds it in through Program.Send.
type RefreshMsg struct{}

// chromeRows is the vertical space around the transcript viewport: header,
// coach area, input line, footer, and their separators.
const chromeRows = 8

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	clockStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	transcriptPane = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	coachPane = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("170")).
			Padding(0, 1)

	userStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	customerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)

	unreadBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	alertStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("203")).
			Padding(1, 3)
)

// Model is the bubbletea model for one practice session.
type Model struct {
	ctrl *roleplay.Controller

	snap     roleplay.Snapshot
	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
	ready    bool
}

// New creates a model over the given controller.
func New(ctrl *roleplay.Controller) Model {
	input := textinput.New()
	input.Placeholder = "Type your message…"
	input.Prompt = "> "
	input.CharLimit = 2000
	return Model{
		ctrl:  ctrl,
		input: input,
		snap:  ctrl.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		// An alert blocks everything else until dismissed.
		if m.snap.Alert != "" {
			if key := msg.String(); key == "enter" || key == "esc" {
				m.ctrl.DismissAlert()
				cmds = append(cmds, m.refresh())
			}
			return m, tea.Batch(cmds...)
		}

		switch m.snap.State {
		case roleplay.StateNotStarted:
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "s", "enter":
				m.ctrl.Start()
				cmds = append(cmds, m.refresh())
			}

		case roleplay.StateActive:
			// The input rejects pasted text; trainees type their own
			// answers.
			if msg.Paste {
				return m, nil
			}
			switch msg.String() {
			case "enter":
				m.ctrl.Submit(m.input.Value())
				m.input.Reset()
				cmds = append(cmds, m.refresh())
			case "tab":
				m.ctrl.ToggleCoach()
				cmds = append(cmds, m.refresh())
			case "ctrl+e":
				m.ctrl.End()
				cmds = append(cmds, m.refresh())
			default:
				// While composing, keys belong to the input alone; the
				// viewport's scroll bindings would steal letters like j
				// and k otherwise.
				var cmd tea.Cmd
				m.input, cmd = m.input.Update(msg)
				cmds = append(cmds, cmd)
			}

		case roleplay.StateFinished:
			switch msg.String() {
			case "q", "enter":
				return m, tea.Quit
			default:
				var cmd tea.Cmd
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case RefreshMsg:
		cmds = append(cmds, m.refresh())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(m.width-4, m.height-chromeRows)
			m.ready = true
		} else {
			m.viewport.Width = m.width - 4
			m.viewport.Height = m.height - chromeRows
		}
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// refresh re-reads the controller and syncs the widgets to it.
func (m *Model) refresh() tea.Cmd {
	m.snap = m.ctrl.Snapshot()
	if m.ready {
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
	}
	if m.snap.InputEnabled {
		return m.input.Focus()
	}
	m.input.Blur()
	return nil
}

func (m Model) renderTranscript() string {
	if len(m.snap.Entries) == 0 {
		return pendingStyle.Render("The conversation will appear here.")
	}
	lines := make([]string, 0, len(m.snap.Entries))
	for _, e := range m.snap.Entries {
		var style lipgloss.Style
		switch e.Kind {
		case roleplay.EntryUser:
			style = userStyle
		case roleplay.EntryCustomer:
			style = customerStyle
		case roleplay.EntryPending:
			style = pendingStyle
		case roleplay.EntryError:
			style = errorStyle
		default:
			style = noticeStyle
		}
		lines = append(lines, style.Render(e.String()))
	}
	return strings.Join(lines, "\n")
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		headerStyle.Render("PitchLab Trainer"),
		"  ",
		clockStyle.Render(m.snap.Clock),
		"  ",
		helpStyle.Render(m.snap.State.String()),
	)

	transcript := transcriptPane.Width(m.width - 2).Render(m.viewport.View())

	var coach string
	switch {
	case m.snap.CoachVisible && m.snap.CoachAdvice != "":
		coach = coachPane.Width(m.width - 2).MaxHeight(4).
			Render("Coach: " + m.snap.CoachAdvice)
	case m.snap.CoachVisible:
		coach = coachPane.Width(m.width - 2).
			Render(helpStyle.Render("The coach has nothing to say yet."))
	case m.snap.CoachUnread:
		coach = unreadBadge.Render("● new coach advice") + helpStyle.Render("  (tab to open)")
	default:
		coach = ""
	}

	var inputLine string
	switch {
	case m.snap.InputEnabled:
		inputLine = m.input.View()
	case m.snap.State == roleplay.StateActive:
		inputLine = helpStyle.Render("waiting for the customer…")
	default:
		inputLine = helpStyle.Render("input closed")
	}

	footer := helpStyle.Render(m.hints())

	view := lipgloss.JoinVertical(lipgloss.Left,
		header,
		transcript,
		coach,
		inputLine,
		footer,
	)

	if m.snap.Alert != "" {
		box := alertStyle.Render(m.snap.Alert + "\n\n" + helpStyle.Render("enter to dismiss"))
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return view
}

func (m Model) hints() string {
	switch m.snap.State {
	case roleplay.StateNotStarted:
		if m.snap.CanStart {
			return "s start session · q quit"
		}
		return "starting…"
	case roleplay.StateActive:
		hint := "enter send · tab coach · ctrl+e end session"
		if m.snap.CoachUnread {
			hint = fmt.Sprintf("%s · %s", hint, unreadBadge.Render("coach ●"))
		}
		return hint
	default:
		return "q quit"
	}
}
