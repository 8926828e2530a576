package ui

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ensemble/internal/app"
	"ensemble/internal/config"
)

type cannedCaller struct{}

func (cannedCaller) Call(ctx context.Context, prompt, model string) (string, error) {
	return "the stars are out", nil
}

func newTestModel(t *testing.T) (Model, *app.App) {
	t.Helper()
	t.Setenv("ENSEMBLE_TEST_DB", filepath.Join(t.TempDir(), "ui.db"))
	cfg, err := config.Parse([]byte(`
storage:
  path: ${ENSEMBLE_TEST_DB}
groups:
  - id: club
    title: Club
    participants: [luna, rex]
`))
	if err != nil {
		t.Fatalf("config.Parse() failed: %v", err)
	}
	a, err := app.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), app.WithCaller(cannedCaller{}))
	if err != nil {
		t.Fatalf("app.New() failed: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })

	m := New(context.Background(), a, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model), a
}

// enter types text into the input line and presses enter.
func enter(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestNew_ConfiguredGroupsGetWindows(t *testing.T) {
	m, _ := newTestModel(t)
	if len(m.windows) != 1 || m.windows[0].Key != "club" || !m.windows[0].Group {
		t.Fatalf("windows = %+v", m.windows)
	}
	if !strings.Contains(m.View(), "1:Club") {
		t.Error("tab bar missing the group")
	}
}

func TestOpenCommandFocusesNewWindow(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = enter(t, m, "/open luna")
	if len(m.windows) != 2 || m.active != 1 || m.current().Title != "Luna" {
		t.Fatalf("after /open: active=%d windows=%d", m.active, len(m.windows))
	}

	// Opening again focuses the existing window.
	m.focus(0)
	m, _ = enter(t, m, "/open luna")
	if len(m.windows) != 2 || m.active != 1 {
		t.Errorf("reopen made a duplicate: active=%d windows=%d", m.active, len(m.windows))
	}
}

func TestSendShowsReply(t *testing.T) {
	m, a := newTestModel(t)
	m, _ = enter(t, m, "/open rex")

	m, cmd := enter(t, m, "what's up?")
	if cmd == nil {
		t.Fatal("send returned no command")
	}
	next, _ := m.Update(cmd())
	m = next.(Model)

	if a.Log.Len("rex") != 2 {
		t.Fatalf("log has %d messages", a.Log.Len("rex"))
	}
	view := m.View()
	if !strings.Contains(view, "what's up?") || !strings.Contains(view, "the stars are out") {
		t.Errorf("view is missing the exchange:\n%s", view)
	}
}

func TestCommandErrorsBecomeNotices(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = enter(t, m, "/open luna")

	tests := []struct {
		input string
		want  string
	}{
		{"/auto on", "/auto only works in a group window"},
		{"/open nobody", "unknown session"},
		{"/bogus", "unknown command"},
	}
	for _, tt := range tests {
		before := len(m.current().Notices)
		m, _ = enter(t, m, tt.input)
		w := m.current()
		if len(w.Notices) != before+1 {
			t.Fatalf("%s: no notice added", tt.input)
		}
		if got := w.Notices[before]; !got.IsError || !strings.Contains(got.Content, tt.want) {
			t.Errorf("%s: notice = %+v, want error containing %q", tt.input, got, tt.want)
		}
	}
}

func TestAutoTogglesGroup(t *testing.T) {
	m, a := newTestModel(t)

	m, _ = enter(t, m, "/auto")
	if !a.Groups.Autonomous("club") {
		t.Fatal("autonomous mode not started")
	}
	m, _ = enter(t, m, "/auto off")
	if a.Groups.Autonomous("club") {
		t.Error("autonomous mode still on")
	}
}

func TestCloseRemovesWindow(t *testing.T) {
	m, a := newTestModel(t)
	m, _ = enter(t, m, "/open luna")

	m, _ = enter(t, m, "/close")
	if len(m.windows) != 1 || m.active != 0 {
		t.Fatalf("after /close: active=%d windows=%d", m.active, len(m.windows))
	}
	if _, ok := a.Sessions.Get("luna"); ok {
		t.Error("session still open")
	}
}

func TestHistoryReopensConversation(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = enter(t, m, "/open rex")
	m, _ = enter(t, m, "/close")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h"), Alt: true})
	m = next.(Model)
	if m.mode != ViewHistory {
		t.Fatalf("mode = %v, want history", m.mode)
	}
	for m.history.Selected() != nil && m.history.Selected().Key != "rex" {
		before := m.history.cursor
		m.history.Down()
		if m.history.cursor == before {
			t.Fatal("rex not listed in history")
		}
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if m.mode != ViewNormal || m.current() == nil || m.current().Key != "rex" {
		t.Errorf("history enter did not reopen rex")
	}
}

func TestFocusWraps(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = enter(t, m, "/open luna")
	m, _ = enter(t, m, "/open rex")

	m.focus(3)
	if m.active != 0 {
		t.Errorf("focus(3) = %d, want 0", m.active)
	}
	m.focus(-1)
	if m.active != 2 {
		t.Errorf("focus(-1) = %d, want 2", m.active)
	}
}

func TestLevelMeter(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{-1, "voice ▁"},
		{0, "voice ▁"},
		{0.5, "voice ▁▂▃▄▅"},
		{1, "voice ▁▂▃▄▅▆▇█"},
		{3, "voice ▁▂▃▄▅▆▇█"},
	}
	for _, tt := range tests {
		if got := levelMeter(tt.level); got != tt.want {
			t.Errorf("levelMeter(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestFormatElapsedTime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{300 * time.Millisecond, "<1s"},
		{42 * time.Second, "42s"},
		{125 * time.Second, "2m5s"},
	}
	for _, tt := range tests {
		if got := formatElapsedTime(tt.in); got != tt.want {
			t.Errorf("formatElapsedTime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
