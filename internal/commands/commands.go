// Package commands handles slash command parsing for the ensemble TUI.
package commands

import (
	"strings"
)

// Command interface for all command types
type Command interface {
	Type() string
}

// Switch is the argument of an on/off command. No argument toggles.
type Switch int

const (
	SwitchToggle Switch = iota
	SwitchOn
	SwitchOff
)

// Apply resolves the switch against the current state.
func (s Switch) Apply(current bool) bool {
	switch s {
	case SwitchOn:
		return true
	case SwitchOff:
		return false
	default:
		return !current
	}
}

// Help returns help text
type Help struct{}

func (Help) Type() string { return "help" }

// Open opens a one-to-one window with an agent
type Open struct {
	AgentID string
}

func (Open) Type() string { return "open" }

// NewGroup opens a group window
type NewGroup struct {
	Participants []string
}

func (NewGroup) Type() string { return "group" }

// Close closes the current window
type Close struct{}

func (Close) Type() string { return "close" }

// Stop halts the current window's reply in flight
type Stop struct{}

func (Stop) Type() string { return "stop" }

// StopAll halts every window
type StopAll struct{}

func (StopAll) Type() string { return "stopall" }

// Auto switches autonomous mode of the current group
type Auto struct {
	Mode Switch
}

func (Auto) Type() string { return "auto" }

// Clear clears the current conversation
type Clear struct{}

func (Clear) Type() string { return "clear" }

// ClearAll clears every conversation
type ClearAll struct{}

func (ClearAll) Type() string { return "clearall" }

// Export exports the current conversation
type Export struct {
	Path string // empty means the default export directory
}

func (Export) Type() string { return "export" }

// Voice switches spoken replies for the current window
type Voice struct {
	Mode Switch
}

func (Voice) Type() string { return "voice" }

// Discord switches Discord mirroring for the current window
type Discord struct {
	Mode Switch
}

func (Discord) Type() string { return "discord" }

// ListAgents lists the roster
type ListAgents struct{}

func (ListAgents) Type() string { return "agents" }

// ParseError represents a command parsing error
type ParseError struct {
	Message string
}

func (ParseError) Type() string { return "error" }

// Parse parses user input and returns the appropriate Command.
// Returns nil if the input is not a slash command.
func Parse(input string) Command {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	// Split into command and arguments
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/help":
		return Help{}

	case "/open":
		if len(args) == 0 {
			return ParseError{Message: "/open requires an agent id"}
		}
		return Open{AgentID: strings.ToLower(args[0])}

	case "/group":
		ids := splitIDs(args)
		if len(ids) < 2 {
			return ParseError{Message: "/group requires at least two agent ids"}
		}
		return NewGroup{Participants: ids}

	case "/close":
		return Close{}

	case "/stop":
		return Stop{}

	case "/stopall":
		return StopAll{}

	case "/auto":
		mode, err := parseSwitch(cmd, args)
		if err != nil {
			return *err
		}
		return Auto{Mode: mode}

	case "/clear":
		return Clear{}

	case "/clearall":
		return ClearAll{}

	case "/export":
		return Export{Path: strings.Join(args, " ")}

	case "/voice":
		mode, err := parseSwitch(cmd, args)
		if err != nil {
			return *err
		}
		return Voice{Mode: mode}

	case "/discord":
		mode, err := parseSwitch(cmd, args)
		if err != nil {
			return *err
		}
		return Discord{Mode: mode}

	case "/agents":
		return ListAgents{}

	default:
		return ParseError{Message: "unknown command: " + cmd}
	}
}

func parseSwitch(cmd string, args []string) (Switch, *ParseError) {
	if len(args) == 0 {
		return SwitchToggle, nil
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return SwitchOn, nil
	case "off":
		return SwitchOff, nil
	default:
		return SwitchToggle, &ParseError{Message: cmd + " takes on or off"}
	}
}

// splitIDs accepts "a b c" as well as "a, b,c".
func splitIDs(args []string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, arg := range args {
		for _, id := range strings.Split(arg, ",") {
			id = strings.ToLower(strings.TrimSpace(id))
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// HelpText returns the help text for all available commands.
func HelpText() string {
	return `Available commands:
  /help                  - Show this help
  /open <agent>          - Chat one-to-one with an agent
  /group <agent> <agent> - Start a group chat (two or more agents)
  /close                 - Close the current window
  /stop                  - Stop the current reply
  /stopall               - Emergency stop every window
  /auto [on|off]         - Toggle autonomous discussion in a group
  /clear                 - Clear the current conversation
  /clearall              - Clear every conversation
  /export [path]         - Export the current conversation to markdown
  /voice [on|off]        - Toggle spoken replies
  /discord [on|off]      - Toggle mirroring replies to Discord
  /agents                - List available agents`
}
