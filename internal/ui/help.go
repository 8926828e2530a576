// internal/ui/help.go
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	helpTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Cyan).
			MarginBottom(1)

	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Yellow).
				MarginTop(1)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(Green).
			Bold(true)

	helpCmdStyle = lipgloss.NewStyle().
			Foreground(Magenta)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(White)

	helpDimStyle = lipgloss.NewStyle().
			Foreground(Dim)
)

// HelpContent returns the formatted help overlay content
func HelpContent(width, height int) string {
	var content strings.Builder

	content.WriteString(helpTitleStyle.Render("ENSEMBLE HELP"))
	content.WriteString("\n\n")

	content.WriteString(helpSectionStyle.Render("KEYBINDINGS"))
	content.WriteString("\n\n")

	keybindings := []struct {
		key  string
		desc string
	}{
		{"Alt+1-9", "Switch to window 1-9"},
		{"Alt+[ / Alt+]", "Previous / next window"},
		{"Alt+W", "Close current window"},
		{"Alt+H", "Browse past conversations"},
		{"Enter", "Send message or run slash command"},
		{"Esc", "Stop the current reply / close overlay"},
		{"Ctrl+X", "Emergency stop every window"},
		{"PgUp / PgDn", "Scroll the conversation"},
		{"F1", "Toggle this help overlay"},
		{"Ctrl+C / Ctrl+Q", "Quit"},
	}
	for _, kb := range keybindings {
		key := helpKeyStyle.Width(16).Render(kb.key)
		content.WriteString("  " + key + "  " + helpDescStyle.Render(kb.desc) + "\n")
	}

	content.WriteString("\n")
	content.WriteString(helpSectionStyle.Render("SLASH COMMANDS"))
	content.WriteString("\n\n")

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/open <agent>", "Chat one-to-one with an agent"},
		{"/group <a> <b> ...", "Start a group chat"},
		{"/auto [on|off]", "Autonomous discussion in a group"},
		{"/stop", "Stop the current reply"},
		{"/stopall", "Emergency stop every window"},
		{"/voice [on|off]", "Spoken replies for this window"},
		{"/discord [on|off]", "Mirror replies to Discord"},
		{"/clear, /clearall", "Clear this or every conversation"},
		{"/export [path]", "Export this conversation to markdown"},
		{"/agents", "List available agents"},
		{"/close", "Close the current window"},
	}
	for _, c := range commands {
		cmd := helpCmdStyle.Width(20).Render(c.cmd)
		content.WriteString("  " + cmd + "  " + helpDescStyle.Render(c.desc) + "\n")
	}

	content.WriteString("\n")
	content.WriteString(helpSectionStyle.Render("GROUPS"))
	content.WriteString("\n\n")
	for _, line := range []string{
		"Each message to a group gets one reply from every participant, in order.",
		"Later speakers see what earlier ones said in the same round.",
		"With /auto on, a random participant picks up the conversation on a timer.",
	} {
		content.WriteString("  " + helpDimStyle.Render(line) + "\n")
	}

	content.WriteString("\n")
	footer := helpDimStyle.Render("Press F1 or Esc to close this help")
	content.WriteString(lipgloss.PlaceHorizontal(width-8, lipgloss.Center, footer))

	overlayStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Cyan).
		Padding(1, 3).
		MaxWidth(width - 10).
		MaxHeight(height - 4)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
		overlayStyle.Render(content.String()))
}

func (m Model) renderHelp() string {
	return HelpContent(m.width, m.height)
}
