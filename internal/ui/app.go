// Package ui is the terminal front end: one pane per chat window, a slash
// command line and overlays for help and past conversations.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ensemble/internal/app"
	"ensemble/internal/commands"
	"ensemble/internal/db"
)

const (
	pollInterval = 250 * time.Millisecond
	sidebarWidth = 24
)

// VoiceLevelMsg carries one playback level for a one-to-one window.
type VoiceLevelMsg struct {
	SessionID string
	Level     float64
}

type sendDoneMsg struct {
	key       string
	cancelled bool
	fallback  bool
	err       error
}

type noticeMsg struct {
	key  string
	text string
	err  error
}

type pollMsg time.Time

type Model struct {
	ctx    context.Context
	app    *app.App
	levels <-chan VoiceLevelMsg

	windows []*Window
	active  int
	mode    ViewMode
	history *HistoryState
	md      *markdown

	input   textinput.Model
	spinner spinner.Model

	width, height int
	ready         bool
	status        string
	statusErr     bool
}

// New builds the model. Every group already open in the app gets a window;
// levels may be nil.
func New(ctx context.Context, a *app.App, levels <-chan VoiceLevelMsg) Model {
	ti := textinput.New()
	ti.Placeholder = "Message, or /help"
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StatusWarn

	m := Model{
		ctx:     ctx,
		app:     a,
		levels:  levels,
		history: NewHistoryState(),
		md:      &markdown{},
		input:   ti,
		spinner: sp,
	}
	for _, g := range a.Groups.Groups() {
		m.windows = append(m.windows, NewWindow(g.ID, g.Title, true, g.Participants, 0, 0))
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, poll(), m.waitForLevel())
}

func poll() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

func (m Model) waitForLevel() tea.Cmd {
	if m.levels == nil {
		return nil
	}
	ch := m.levels
	return func() tea.Msg {
		lv, ok := <-ch
		if !ok {
			return nil
		}
		return lv
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.history.SetMaxHeight(msg.Height)
		m.resize()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case pollMsg:
		m.refresh()
		return m, poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case VoiceLevelMsg:
		if w := m.window(msg.SessionID); w != nil {
			w.Level = msg.Level
		}
		return m, m.waitForLevel()

	case sendDoneMsg:
		if w := m.window(msg.key); w != nil {
			switch {
			case msg.err != nil:
				w.AddError(msg.err.Error())
			case msg.cancelled:
				w.AddNotice("stopped")
			case msg.fallback:
				w.AddNotice("every prompt failed, showing a fallback reply")
			}
		}
		m.refresh()
		return m, nil

	case noticeMsg:
		m.notify(msg.key, msg.text, msg.err)
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "ctrl+q" {
		return m, tea.Quit
	}

	switch m.mode {
	case ViewHelp:
		if key == "esc" || key == "f1" || key == "q" {
			m.mode = ViewNormal
		}
		return m, nil
	case ViewHistory:
		switch key {
		case "up", "k":
			m.history.Up()
		case "down", "j":
			m.history.Down()
		case "esc":
			m.mode = ViewNormal
		case "enter":
			if c := m.history.Selected(); c != nil {
				m.mode = ViewNormal
				m.reopen(*c)
				m.refresh()
			}
		}
		return m, nil
	}

	switch key {
	case "f1":
		m.mode = ViewHelp
		return m, nil
	case "alt+h":
		if err := m.history.Load(m.app.Store); err != nil {
			m.setStatus(err.Error(), true)
		} else {
			m.mode = ViewHistory
		}
		return m, nil
	case "alt+[":
		m.focus(m.active - 1)
		return m, nil
	case "alt+]":
		m.focus(m.active + 1)
		return m, nil
	case "alt+w":
		cmd := m.run(commands.Close{})
		return m, cmd
	case "ctrl+x":
		cmd := m.run(commands.StopAll{})
		return m, cmd
	case "esc":
		cmd := m.run(commands.Stop{})
		return m, cmd
	case "pgup", "pgdown":
		if w := m.current(); w != nil {
			var cmd tea.Cmd
			w.Viewport, cmd = w.Viewport.Update(msg)
			return m, cmd
		}
		return m, nil
	case "enter":
		cmd := m.submit()
		return m, cmd
	}

	if len(key) == 5 && strings.HasPrefix(key, "alt+") && key[4] >= '1' && key[4] <= '9' {
		m.focus(int(key[4] - '1'))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs the input line as a slash command or sends it to the current
// window.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()
	m.setStatus("", false)

	if cmd := commands.Parse(text); cmd != nil {
		return m.run(cmd)
	}

	w := m.current()
	if w == nil {
		m.setStatus("open a window first: /open <agent> or /group <agent> <agent>", true)
		return nil
	}
	w.SetPending(true)
	return m.send(w.Key, w.Group, text)
}

func (m *Model) send(key string, group bool, text string) tea.Cmd {
	ctx, a := m.ctx, m.app
	return func() tea.Msg {
		if group {
			round, err := a.Groups.Send(ctx, key, text)
			return sendDoneMsg{key: key, cancelled: round.Cancelled, err: err}
		}
		out, err := a.Sessions.Send(ctx, key, text)
		if err != nil {
			return sendDoneMsg{key: key, err: err}
		}
		return sendDoneMsg{
			key:       key,
			cancelled: out.Cancelled(),
			fallback:  out.Reply != nil && out.Result.WasFallback(),
		}
	}
}

func (m *Model) run(cmd commands.Command) tea.Cmd {
	w := m.current()
	defer m.refresh()

	switch c := cmd.(type) {
	case commands.Help:
		m.mode = ViewHelp

	case commands.Open:
		sess, err := m.app.OpenSession(c.AgentID)
		if err != nil {
			m.notify("", "", err)
			return nil
		}
		m.openWindow(sess.ID, m.agentName(sess.AgentID), false, []string{sess.AgentID})

	case commands.NewGroup:
		g, err := m.app.OpenGroup("", "", c.Participants)
		if err != nil {
			m.notify("", "", err)
			return nil
		}
		m.openWindow(g.ID, g.Title, true, g.Participants)

	case commands.Close:
		if w == nil {
			return nil
		}
		if err := m.app.Close(w.Key); err != nil && !errors.Is(err, app.ErrUnknownConversation) {
			m.notify(w.Key, "", err)
			return nil
		}
		m.closeWindow(m.active)

	case commands.Stop:
		if w == nil {
			return nil
		}
		if err := m.app.Stop(w.Key); err != nil {
			m.notify(w.Key, "", err)
		}

	case commands.StopAll:
		if err := m.app.StopAll(); err != nil {
			m.setStatus("emergency stop: "+err.Error(), true)
		} else {
			m.setStatus("emergency stop: every window halted", false)
		}

	case commands.Auto:
		if w == nil || !w.Group {
			m.notify("", "", errors.New("/auto only works in a group window"))
			return nil
		}
		on := c.Mode.Apply(m.app.Groups.Autonomous(w.Key))
		var err error
		if on {
			err = m.app.Groups.StartAutonomous(w.Key)
		} else {
			err = m.app.Groups.StopAutonomous(w.Key)
		}
		if err != nil {
			m.notify(w.Key, "", err)
			return nil
		}
		w.AddNotice("autonomous mode " + onOff(on))

	case commands.Clear:
		if w == nil {
			return nil
		}
		m.app.Clear(w.Key)
		w.Notices = nil
		w.seen = -1

	case commands.ClearAll:
		m.app.ClearAll()
		for _, win := range m.windows {
			win.Notices = nil
			win.seen = -1
		}

	case commands.Export:
		if w == nil {
			m.notify("", "", errors.New("nothing to export"))
			return nil
		}
		key, path, a := w.Key, c.Path, m.app
		return func() tea.Msg {
			out, err := a.Export(key, path)
			if err != nil {
				return noticeMsg{key: key, err: err}
			}
			return noticeMsg{key: key, text: "exported to " + out}
		}

	case commands.Voice:
		if w == nil || w.Group {
			m.notify("", "", errors.New("/voice only works in a one-to-one window"))
			return nil
		}
		sess, _ := m.app.Sessions.Get(w.Key)
		want := c.Mode.Apply(sess.Voice)
		if err := m.app.Sessions.SetVoice(w.Key, want); err != nil {
			m.notify(w.Key, "", err)
			return nil
		}
		sess, _ = m.app.Sessions.Get(w.Key)
		if want && !sess.Voice {
			w.AddError("voice is not available for this agent")
		} else {
			w.AddNotice("voice " + onOff(sess.Voice))
		}

	case commands.Discord:
		if w == nil || w.Group {
			m.notify("", "", errors.New("/discord only works in a one-to-one window"))
			return nil
		}
		sess, _ := m.app.Sessions.Get(w.Key)
		want := c.Mode.Apply(sess.Discord)
		if err := m.app.Sessions.SetDiscord(w.Key, want); err != nil {
			m.notify(w.Key, "", err)
			return nil
		}
		sess, _ = m.app.Sessions.Get(w.Key)
		if want && !sess.Discord {
			w.AddError("discord is not configured")
		} else {
			w.AddNotice("discord " + onOff(sess.Discord))
		}

	case commands.ListAgents:
		var sb strings.Builder
		sb.WriteString("agents:")
		for _, ag := range m.app.Roster.All() {
			fmt.Fprintf(&sb, "\n  %s (%s) %s", ag.ID, ag.Name, ag.Personality)
		}
		m.notify("", sb.String(), nil)

	case commands.ParseError:
		m.notify("", "", errors.New(c.Message))
	}
	return nil
}

func (m *Model) reopen(c db.Conversation) {
	if w := m.window(c.Key); w != nil {
		m.focus(m.indexOf(c.Key))
		return
	}
	if c.Kind == app.KindGroup {
		g, err := m.app.OpenGroup(c.Key, c.Title, c.Participants)
		if err != nil {
			m.setStatus(err.Error(), true)
			return
		}
		m.openWindow(g.ID, g.Title, true, g.Participants)
		return
	}
	sess, err := m.app.OpenSession(c.Key)
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.openWindow(sess.ID, m.agentName(sess.AgentID), false, []string{sess.AgentID})
}

func (m *Model) openWindow(key, title string, group bool, participants []string) {
	if i := m.indexOf(key); i >= 0 {
		m.focus(i)
		return
	}
	w, h := m.chatSize()
	m.windows = append(m.windows, NewWindow(key, title, group, participants, w, h))
	m.active = len(m.windows) - 1
}

func (m *Model) closeWindow(i int) {
	if i < 0 || i >= len(m.windows) {
		return
	}
	m.windows = append(m.windows[:i], m.windows[i+1:]...)
	if m.active >= len(m.windows) {
		m.active = len(m.windows) - 1
	}
	if m.active < 0 {
		m.active = 0
	}
}

// focus wraps around at both ends.
func (m *Model) focus(i int) {
	n := len(m.windows)
	if n == 0 {
		return
	}
	m.active = ((i % n) + n) % n
}

func (m *Model) current() *Window {
	if m.active < 0 || m.active >= len(m.windows) {
		return nil
	}
	return m.windows[m.active]
}

func (m *Model) window(key string) *Window {
	if i := m.indexOf(key); i >= 0 {
		return m.windows[i]
	}
	return nil
}

func (m *Model) indexOf(key string) int {
	for i, w := range m.windows {
		if w.Key == key {
			return i
		}
	}
	return -1
}

func (m *Model) agentName(id string) string {
	if a, ok := m.app.Roster.Get(id); ok {
		return a.Name
	}
	return id
}

// notify writes to key's window, the current window, or the status line,
// whichever exists first.
func (m *Model) notify(key, text string, err error) {
	w := m.window(key)
	if w == nil {
		w = m.current()
	}
	if w == nil {
		if err != nil {
			m.setStatus(err.Error(), true)
		} else {
			m.setStatus(text, false)
		}
		return
	}
	if err != nil {
		w.AddError(err.Error())
	} else {
		w.AddNotice(text)
	}
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// refresh syncs busy state and re-renders windows whose log changed.
func (m *Model) refresh() {
	for _, w := range m.windows {
		w.SetPending(m.app.Busy(w.Key))
		w.TickAnimation()
		if w.Level > 0 {
			w.Level *= 0.5
			if w.Level < 0.05 {
				w.Level = 0
			}
		}
		if n := m.app.Log.Len(w.Key); w.Stale(n) {
			w.Refresh(m.app.Log.Read(w.Key), m.app.Roster, m.md)
		}
	}
}

func (m *Model) chatSize() (int, int) {
	w := m.width - sidebarWidth - 4
	h := m.height - 5 // tabs, borders, input, status
	if w < 10 {
		w = 10
	}
	if h < 3 {
		h = 3
	}
	return w, h
}

func (m *Model) resize() {
	w, h := m.chatSize()
	for _, win := range m.windows {
		win.Viewport.Width = w
		win.Viewport.Height = h
		win.seen = -1
	}
	m.input.Width = m.width - 4
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	switch m.mode {
	case ViewHelp:
		return m.renderHelp()
	case ViewHistory:
		return m.history.Render(m.width, m.height, m.app.Log.Len)
	}

	chatW, chatH := m.chatSize()
	var body string
	if w := m.current(); w == nil {
		body = InactiveBox.Width(m.width - 2).Height(chatH).Render(
			DimStyle.Render("No windows open. Try /open <agent>, /group <agent> <agent> or F1 for help."))
	} else {
		chat := ActiveBox.Width(chatW).Render(w.Viewport.View())
		side := InactiveBox.Width(sidebarWidth).Height(chatH).Render(
			w.RenderStatus(m.app.Roster, w.Group && m.app.Groups.Autonomous(w.Key)))
		body = lipgloss.JoinHorizontal(lipgloss.Top, chat, side)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderTabs(),
		body,
		m.input.View(),
		m.renderStatusLine(),
	)
}

func (m Model) renderTabs() string {
	if len(m.windows) == 0 {
		return TitleStyle.Render("ENSEMBLE")
	}
	tabs := make([]string, 0, len(m.windows))
	for i, w := range m.windows {
		label := fmt.Sprintf("%d:%s", i+1, w.Title)
		if w.Pending {
			label += "*"
		}
		if i == m.active {
			tabs = append(tabs, ActiveTabStyle.Render(label))
		} else {
			tabs = append(tabs, InactiveTabStyle.Render(label))
		}
	}
	return strings.Join(tabs, DimStyle.Render(" │ "))
}

func (m Model) renderStatusLine() string {
	busy := false
	for _, w := range m.windows {
		busy = busy || w.Pending
	}
	prefix := ""
	if busy {
		prefix = m.spinner.View() + " "
	}
	switch {
	case m.status != "" && m.statusErr:
		return prefix + ErrorStyle.Render(m.status)
	case m.status != "":
		return prefix + SystemStyle.Render(m.status)
	default:
		return prefix + DimStyle.Render("F1 help • Esc stop • Ctrl+X stop all • Alt+H history")
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
