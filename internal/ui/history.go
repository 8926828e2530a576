// internal/ui/history.go
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ensemble/internal/db"
)

// ViewMode represents the current view state
type ViewMode int

const (
	ViewNormal ViewMode = iota
	ViewHelp
	ViewHistory
)

// HistoryState holds the state for the conversation browser
type HistoryState struct {
	conversations []db.Conversation
	cursor        int
	scrollTop     int
	maxHeight     int
}

func NewHistoryState() *HistoryState {
	return &HistoryState{maxHeight: 20}
}

func (h *HistoryState) Up() {
	if h.cursor > 0 {
		h.cursor--
		if h.cursor < h.scrollTop {
			h.scrollTop = h.cursor
		}
	}
}

func (h *HistoryState) Down() {
	if h.cursor < len(h.conversations)-1 {
		h.cursor++
		if h.cursor >= h.scrollTop+h.maxHeight {
			h.scrollTop = h.cursor - h.maxHeight + 1
		}
	}
}

// Selected returns the highlighted conversation, or nil if none
func (h *HistoryState) Selected() *db.Conversation {
	if h.cursor >= 0 && h.cursor < len(h.conversations) {
		return &h.conversations[h.cursor]
	}
	return nil
}

// Load reads the recorded conversations from the store
func (h *HistoryState) Load(store *db.Store) error {
	if store == nil {
		return fmt.Errorf("database not available")
	}
	conversations, err := store.ListConversations()
	if err != nil {
		return err
	}
	h.conversations = conversations
	h.cursor = 0
	h.scrollTop = 0
	return nil
}

func (h *HistoryState) SetMaxHeight(height int) {
	h.maxHeight = height - 10 // header and footer
	if h.maxHeight < 5 {
		h.maxHeight = 5
	}
}

func (h *HistoryState) Render(width, height int, counts func(key string) int) string {
	var content strings.Builder

	content.WriteString(TitleStyle.Render("CONVERSATIONS"))
	content.WriteString("\n")
	content.WriteString(DimStyle.Render("Select a conversation to reopen"))
	content.WriteString("\n\n")

	if len(h.conversations) == 0 {
		content.WriteString(DimStyle.Render("No conversations yet."))
		content.WriteString("\n\n")
		content.WriteString(DimStyle.Render("Open one with /open <agent> or /group <agent> <agent>."))
	} else {
		visibleEnd := h.scrollTop + h.maxHeight
		if visibleEnd > len(h.conversations) {
			visibleEnd = len(h.conversations)
		}

		header := fmt.Sprintf("  %-20s  %-6s  %-19s  %s", "Title", "Kind", "Updated", "Messages")
		content.WriteString(DimStyle.Render(header))
		content.WriteString("\n")
		content.WriteString(DimStyle.Render(strings.Repeat("-", 62)))
		content.WriteString("\n")

		for i := h.scrollTop; i < visibleEnd; i++ {
			c := h.conversations[i]

			title := c.Title
			if r := []rune(title); len(r) > 18 {
				title = string(r[:18]) + ".."
			}

			timeStr := c.UpdatedAt.Format("2006-01-02 15:04")
			if time.Since(c.UpdatedAt) < 24*time.Hour {
				timeStr = c.UpdatedAt.Format("Today 15:04")
			}

			kindStyle := DimStyle
			if c.Kind == "group" {
				kindStyle = lipgloss.NewStyle().Foreground(Magenta)
			}

			cursor := "  "
			lineStyle := DimStyle
			if i == h.cursor {
				cursor = "> "
				lineStyle = lipgloss.NewStyle().Foreground(Cyan)
			}

			line := fmt.Sprintf("%-20s  %s  %-19s  %d",
				title, kindStyle.Width(6).Render(c.Kind), timeStr, counts(c.Key))

			content.WriteString(cursor)
			content.WriteString(lineStyle.Render(line))
			content.WriteString("\n")
		}

		if len(h.conversations) > h.maxHeight {
			content.WriteString("\n")
			content.WriteString(DimStyle.Render(fmt.Sprintf("Showing %d-%d of %d",
				h.scrollTop+1, visibleEnd, len(h.conversations))))
		}
	}

	content.WriteString("\n\n")
	content.WriteString(DimStyle.Render("Up/Down: Navigate | Enter: Reopen | Esc: Cancel"))

	overlayStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Cyan).
		Padding(1, 2).
		MaxWidth(width - 10).
		MaxHeight(height - 4)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
		overlayStyle.Render(content.String()))
}
