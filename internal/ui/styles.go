// internal/ui/styles.go
package ui

import "github.com/charmbracelet/lipgloss"

var (
	Cyan    = lipgloss.Color("#00FFFF")
	Green   = lipgloss.Color("#00FF00")
	Yellow  = lipgloss.Color("#FFD700")
	Orange  = lipgloss.Color("#FFA500")
	Red     = lipgloss.Color("#FF6B6B")
	Magenta = lipgloss.Color("#FF00FF")
	SkyBlue = lipgloss.Color("#87CEEB")
	Dim     = lipgloss.Color("#555555")
	White   = lipgloss.Color("#FFFFFF")

	// Panes: the chat pane is always the focused one.
	ActiveBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Cyan)
	InactiveBox = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Dim)

	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	UserStyle   = lipgloss.NewStyle().Bold(true).Foreground(SkyBlue)
	SystemStyle = lipgloss.NewStyle().Foreground(Yellow)
	ErrorStyle  = lipgloss.NewStyle().Bold(true).Foreground(Red)
	DimStyle    = lipgloss.NewStyle().Foreground(Dim)

	StatusOK   = lipgloss.NewStyle().Bold(true).Foreground(Green)
	StatusWarn = lipgloss.NewStyle().Bold(true).Foreground(Orange)

	ActiveTabStyle   = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	InactiveTabStyle = lipgloss.NewStyle().Foreground(Dim)
)

// AgentStyle returns the bold style for an agent's configured hex color.
func AgentStyle(hex string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(AgentColor(hex)).Bold(true)
}

// AgentColor falls back to white when the agent has no color.
func AgentColor(hex string) lipgloss.Color {
	if hex == "" {
		return White
	}
	return lipgloss.Color(hex)
}
