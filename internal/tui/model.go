// Package tui is the interactive demo front end: a Bubble Tea model that
// drives a lobby.Coordinator from its tick message and shows the resulting
// notifications as a scrolling log.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

// maxLogLines bounds the scrollback.
const maxLogLines = 200

// Options configures the model.
type Options struct {
	Visibility   lobby.Visibility
	MaxMembers   int
	Payload      []byte
	TickInterval time.Duration
	// Invite asks the local bots to join the session. Nil disables the key.
	Invite func(lobby.SessionID) error
}

type tickMsg time.Time

// Model is the root Bubble Tea model. The coordinator is only touched from
// Update, which Bubble Tea runs on a single goroutine.
type Model struct {
	coord    *lobby.Coordinator
	provider lobby.Provider
	rec      *lobby.Recorder
	opts     Options

	keys KeyMap
	help help.Model

	lines   []string
	members int
	width   int
	height  int
}

// New creates the root model and attaches a recorder to coord.
//
// Precondition: coord and provider must be non-nil and belong together.
func New(coord *lobby.Coordinator, provider lobby.Provider, opts Options) Model {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}
	if opts.MaxMembers <= 0 {
		opts.MaxMembers = 2
	}
	rec := lobby.NewRecorder()
	coord.AddSink(rec)
	return Model{
		coord:    coord,
		provider: provider,
		rec:      rec,
		opts:     opts,
		keys:     DefaultKeyMap(),
		help:     help.New(),
	}
}

// Init starts the tick loop.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.TickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.coord.Tick()
		m = m.drain()
		return m, m.tick()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Create):
		if err := m.coord.RequestCreate(m.opts.Visibility, m.opts.MaxMembers); err != nil {
			m = m.log(warnStyle.Render("create refused: " + err.Error()))
			return m, nil
		}
		m = m.log(mutedStyle.Render(fmt.Sprintf("creating %s lobby for %d", m.opts.Visibility, m.opts.MaxMembers)))
		return m, nil

	case key.Matches(msg, m.keys.Transmit):
		outcomes, err := m.coord.Broadcast(m.opts.Payload)
		if errors.Is(err, lobby.ErrNoActiveSession) {
			m = m.log(warnStyle.Render("not in a lobby"))
			return m, nil
		}
		// Broadcast targets every member but self.
		m.members = len(outcomes) + 1
		m = m.log(summarize(outcomes))
		return m, nil

	case key.Matches(msg, m.keys.Invite):
		if m.opts.Invite == nil {
			m = m.log(mutedStyle.Render("no local bots to invite"))
			return m, nil
		}
		id, joined := m.coord.State().Joined()
		if !joined {
			m = m.log(warnStyle.Render("create a lobby first"))
			return m, nil
		}
		if err := m.opts.Invite(id); err != nil {
			m = m.log(errorStyle.Render("invite failed: " + err.Error()))
			return m, nil
		}
		m = m.log(mutedStyle.Render("invited bots to " + id.String()))
		return m, nil
	}
	return m, nil
}

// drain logs pending notifications. The member count is refreshed only when
// one of them can signal a membership change, since MembersOf may be a
// remote call.
func (m Model) drain() Model {
	refresh := false
	for _, n := range m.rec.Drain() {
		m = m.log(Describe(n))
		switch n.Kind {
		case lobby.KindSessionJoined, lobby.KindMessageReceived, lobby.KindPeerAccepted:
			refresh = true
		}
	}
	if refresh {
		m = m.refreshMembers()
	}
	return m
}

func (m Model) refreshMembers() Model {
	if id, joined := m.coord.State().Joined(); joined {
		m.members = len(m.provider.MembersOf(id))
	}
	return m
}

func (m Model) log(line string) Model {
	lines := append(m.lines, line)
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
	}
	m.lines = lines
	return m
}

// Lines returns the log scrollback, oldest first.
func (m Model) Lines() []string { return m.lines }

// Status renders the one-line session summary.
func (m Model) Status() string {
	state := m.coord.State()
	if _, joined := state.Joined(); !joined {
		if n := m.coord.Pending(); n > 0 {
			return fmt.Sprintf("member %s | %s | %d pending", m.provider.LocalMember(), state, n)
		}
		return fmt.Sprintf("member %s | %s", m.provider.LocalMember(), state)
	}
	return fmt.Sprintf("member %s | %s | %d members", m.provider.LocalMember(), state, m.members)
}

// View renders the screen.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("lobbylink"))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.Status()))
	b.WriteString("\n\n")

	visible := m.lines
	if room := m.height - 5; room > 0 && len(visible) > room {
		visible = visible[len(visible)-room:]
	}
	for _, line := range visible {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// Describe renders a notification as one log line.
func Describe(n lobby.Notification) string {
	switch n.Kind {
	case lobby.KindSessionJoined:
		return okStyle.Render("joined lobby " + n.Session.String())
	case lobby.KindSessionFailed:
		return errorStyle.Render("lobby request failed: " + errString(n.Err))
	case lobby.KindInviteIgnored:
		return warnStyle.Render("ignored invite to " + n.Session.String() + " (already in a lobby)")
	case lobby.KindMessageReceived:
		return fmt.Sprintf("message from %s (%d bytes)", n.Member, len(n.Payload))
	case lobby.KindPeerAccepted:
		return mutedStyle.Render("accepted peer " + n.Member.String())
	case lobby.KindPeerRejected:
		return mutedStyle.Render("rejected peer " + n.Member.String())
	case lobby.KindPeerSessionFailed:
		return errorStyle.Render("peer " + n.Member.String() + ": " + errString(n.Err))
	default:
		return string(n.Kind)
	}
}

func summarize(outcomes []lobby.SendOutcome) string {
	if len(outcomes) == 0 {
		return mutedStyle.Render("no one else in the lobby")
	}
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return warnStyle.Render(fmt.Sprintf("sent to %d of %d members", len(outcomes)-failed, len(outcomes)))
	}
	return okStyle.Render(fmt.Sprintf("sent to %d members", len(outcomes)))
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
