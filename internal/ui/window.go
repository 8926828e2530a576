// internal/ui/window.go
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"ensemble/internal/agents"
	"ensemble/internal/history"
)

// Notice is a local line shown in a window but never stored in its log.
type Notice struct {
	Content   string
	Timestamp time.Time
	IsError   bool
}

// Window is one chat pane: a single agent or a group.
type Window struct {
	Key          string
	Title        string
	Group        bool
	Participants []string
	Notices      []Notice

	Pending        bool
	PendingSince   time.Time
	AnimationFrame int
	Level          float64 // last voice level, 0 when silent

	Viewport viewport.Model
	seen     int // log length at the last refresh
}

func NewWindow(key, title string, group bool, participants []string, width, height int) *Window {
	vp := viewport.New(width, height)
	vp.Style = lipgloss.NewStyle()
	vp.MouseWheelEnabled = true

	return &Window{
		Key:          key,
		Title:        title,
		Group:        group,
		Participants: participants,
		Viewport:     vp,
		seen:         -1,
	}
}

// SetPending marks the window as waiting on a reply.
func (w *Window) SetPending(on bool) {
	if on && !w.Pending {
		w.PendingSince = time.Now()
	}
	if !on {
		w.PendingSince = time.Time{}
		w.AnimationFrame = 0
	}
	w.Pending = on
}

func (w *Window) TickAnimation() {
	if w.Pending {
		w.AnimationFrame = (w.AnimationFrame + 1) % 4
	}
}

func (w *Window) streamingIndicator() string {
	frames := []string{"", ".", "..", "..."}
	return frames[w.AnimationFrame]
}

func formatElapsedTime(elapsed time.Duration) string {
	if elapsed < time.Second {
		return "<1s"
	}
	if elapsed < time.Minute {
		return fmt.Sprintf("%ds", int(elapsed.Seconds()))
	}
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", mins, secs)
}

func (w *Window) AddNotice(content string) {
	w.Notices = append(w.Notices, Notice{Content: content, Timestamp: time.Now()})
	w.seen = -1
}

func (w *Window) AddError(content string) {
	w.Notices = append(w.Notices, Notice{Content: content, Timestamp: time.Now(), IsError: true})
	w.seen = -1
}

// Stale reports whether the log has changed since the last refresh.
func (w *Window) Stale(logLen int) bool {
	return logLen != w.seen
}

// Refresh re-renders msgs into the viewport and scrolls to the bottom.
func (w *Window) Refresh(msgs []history.Message, roster *agents.Roster, md *markdown) {
	w.Viewport.SetContent(w.RenderMessages(msgs, roster, md))
	w.Viewport.GotoBottom()
	w.seen = len(msgs)
}

type entry struct {
	at     time.Time
	msg    *history.Message
	notice *Notice
}

// RenderMessages interleaves stored messages with local notices by time.
func (w *Window) RenderMessages(msgs []history.Message, roster *agents.Roster, md *markdown) string {
	entries := make([]entry, 0, len(msgs)+len(w.Notices))
	for i := range msgs {
		entries = append(entries, entry{at: msgs[i].CreatedAt, msg: &msgs[i]})
	}
	for i := range w.Notices {
		entries = append(entries, entry{at: w.Notices[i].Timestamp, notice: &w.Notices[i]})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	width := w.Viewport.Width - 2
	var sb strings.Builder
	for _, e := range entries {
		ts := e.at.Format("15:04")

		if e.notice != nil {
			style := SystemStyle
			if e.notice.IsError {
				style = ErrorStyle
			}
			sb.WriteString(style.Render(fmt.Sprintf("[%s] %s", ts, e.notice.Content)))
			sb.WriteString("\n\n")
			continue
		}

		m := e.msg
		if m.Role == history.RoleUser {
			sb.WriteString(UserStyle.Render(fmt.Sprintf("[%s] You:", ts)))
			sb.WriteString("\n")
			sb.WriteString(indent(m.Content))
			sb.WriteString("\n")
			continue
		}

		name, style := m.AgentID, AgentStyle("")
		if a, ok := roster.Get(m.AgentID); ok {
			name, style = a.Name, AgentStyle(a.Color)
		}
		sb.WriteString(style.Render(fmt.Sprintf("[%s] %s:", ts, name)))
		sb.WriteString("\n")
		sb.WriteString(md.render(m.Content, width))
		sb.WriteString("\n")
		if m.Media != "" {
			sb.WriteString(DimStyle.Render("  image: " + m.Media))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func indent(text string) string {
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		sb.WriteString("  ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderStatus renders the participants sidebar.
func (w *Window) RenderStatus(roster *agents.Roster, auto bool) string {
	var sb strings.Builder

	title := "AGENT"
	if w.Group {
		title = "GROUP"
	}
	sb.WriteString(TitleStyle.Render(title))
	sb.WriteString("\n\n")

	for _, id := range w.Participants {
		name, style := id, AgentStyle("")
		if a, ok := roster.Get(id); ok {
			name, style = a.Name, AgentStyle(a.Color)
		}

		indicator := StatusOK.Render("●")
		line := style.Render(name)
		if w.Pending {
			indicator = StatusWarn.Render("●")
			line = style.Render(name + w.streamingIndicator())
		}
		sb.WriteString(indicator + " " + line + "\n")
	}

	if w.Pending && !w.PendingSince.IsZero() {
		sb.WriteString("\n")
		sb.WriteString(DimStyle.Render(fmt.Sprintf("waiting %s", formatElapsedTime(time.Since(w.PendingSince)))))
		sb.WriteString("\n")
	}
	if w.Group {
		sb.WriteString("\n")
		if auto {
			sb.WriteString(StatusWarn.Render("auto on"))
		} else {
			sb.WriteString(DimStyle.Render("auto off"))
		}
		sb.WriteString("\n")
	}
	if w.Level > 0 {
		sb.WriteString("\n")
		sb.WriteString(StatusOK.Render(levelMeter(w.Level)))
		sb.WriteString("\n")
	}
	return sb.String()
}

var levelBars = []rune("▁▂▃▄▅▆▇█")

// levelMeter draws a voice level in [0, 1] as a short bar.
func levelMeter(level float64) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	n := int(level*float64(len(levelBars)-1) + 0.5)
	return "voice " + string(levelBars[:n+1])
}

// markdown renders agent replies, rebuilding the renderer when the width
// changes.
type markdown struct {
	width    int
	renderer *glamour.TermRenderer
}

func (m *markdown) render(text string, width int) string {
	if width < 20 {
		return indent(text)
	}
	if m.renderer == nil || m.width != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return indent(text)
		}
		m.renderer, m.width = r, width
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return indent(text)
	}
	return strings.TrimRight(out, "\n") + "\n"
}
