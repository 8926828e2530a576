// internal/export/markdown.go
package export

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ensemble/internal/history"
)

// Conversation contains the data needed to export one conversation log
type Conversation struct {
	Key          string
	Title        string
	Group        bool
	CreatedAt    time.Time
	Participants []string          // agent IDs
	Names        map[string]string // agent ID -> display name
	Messages     []history.Message
}

// Render generates a formatted markdown string from a conversation
func Render(conv *Conversation) string {
	var sb strings.Builder

	// Title header
	sb.WriteString("# ")
	sb.WriteString(conv.Title)
	sb.WriteString("\n\n")

	// Metadata section
	kind := "One-to-one"
	if conv.Group {
		kind = "Group"
	}
	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("**Conversation:** `%s` (%s)\n\n", conv.Key, kind))
	if !conv.CreatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("**Started:** %s\n\n", conv.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	if len(conv.Participants) > 0 {
		sb.WriteString("**Participants:** ")
		sb.WriteString(strings.Join(conv.displayNames(conv.Participants), ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("---\n\n")

	// Messages section
	sb.WriteString("## Transcript\n\n")
	if len(conv.Messages) == 0 {
		sb.WriteString("*No messages.*\n\n")
	}

	for i, msg := range conv.Messages {
		ts := msg.CreatedAt.Format("15:04:05")
		sb.WriteString(fmt.Sprintf("### [%s] %s\n\n", ts, conv.speaker(msg)))

		content := strings.TrimSpace(msg.Content)
		if containsCodeBlock(content) {
			// Content already has code blocks, render as-is
			sb.WriteString(content)
			sb.WriteString("\n")
		} else {
			for _, line := range strings.Split(content, "\n") {
				sb.WriteString("> ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
		if msg.Media != "" {
			sb.WriteString(fmt.Sprintf("\n![image](%s)\n", msg.Media))
		}
		sb.WriteString("\n")

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	// Footer
	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from Ensemble on %s*\n", time.Now().Format("2006-01-02 15:04:05")))

	return sb.String()
}

// Write exports a conversation to a markdown file under baseDir/conversations.
// An existing file with the same name is never overwritten.
func Write(conv *Conversation, baseDir string) (string, error) {
	created := conv.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	name := fmt.Sprintf("%s-%s", created.Format("2006-01-02"), sanitizeFilename(conv.Title))

	dir := filepath.Join(baseDir, "conversations")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create conversations directory: %w", err)
	}

	path := filepath.Join(dir, name+".md")
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(dir, fmt.Sprintf("%s-%s.md", name, uuid.NewString()[:8]))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat export file: %w", err)
	}

	if err := os.WriteFile(path, []byte(Render(conv)), 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// WriteTo exports a conversation to an explicit file path.
func WriteTo(conv *Conversation, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(Render(conv)), 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (c *Conversation) speaker(msg history.Message) string {
	if msg.Role == history.RoleUser {
		return "User"
	}
	if name, ok := c.Names[msg.AgentID]; ok {
		return name
	}
	return msg.AgentID
}

func (c *Conversation) displayNames(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id
		if name, ok := c.Names[id]; ok {
			out[i] = name
		}
	}
	return out
}

// sanitizeFilename removes/replaces characters unsuitable for filenames
func sanitizeFilename(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")

	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			sb.WriteRune(r)
		}
	}

	result := sb.String()
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	result = strings.Trim(result, "-")

	if result == "" {
		result = "conversation"
	}
	if len(result) > 50 {
		result = result[:50]
	}
	return result
}

// containsCodeBlock checks if content already has markdown code blocks
func containsCodeBlock(content string) bool {
	return strings.Contains(content, "```")
}
