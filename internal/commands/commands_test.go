package commands

import (
	"reflect"
	"strings"
	"testing"
)

func TestParse_NonSlashCommand(t *testing.T) {
	tests := []string{
		"hello world",
		"",
		"   ",
		"help",
		"open luna",
		"draw a cat / dog",
	}

	for _, input := range tests {
		result := Parse(input)
		if result != nil {
			t.Errorf("Parse(%q) = %v, want nil", input, result)
		}
	}
}

func TestParse_Help(t *testing.T) {
	tests := []string{
		"/help",
		"/HELP",
		"  /help  ",
		"/help extra args ignored",
	}

	for _, input := range tests {
		result := Parse(input)
		if _, ok := result.(Help); !ok {
			t.Errorf("Parse(%q) = %T, want Help", input, result)
		}
	}
}

func TestParse_Open(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/open luna", "luna"},
		{"/OPEN Rex", "rex"},
		{"  /open  ivy  extra ", "ivy"},
	}

	for _, tt := range tests {
		result := Parse(tt.input)
		o, ok := result.(Open)
		if !ok {
			t.Errorf("Parse(%q) = %T, want Open", tt.input, result)
			continue
		}
		if o.AgentID != tt.want {
			t.Errorf("Parse(%q).AgentID = %q, want %q", tt.input, o.AgentID, tt.want)
		}
	}
}

func TestParse_Open_NoAgent(t *testing.T) {
	pe, ok := Parse("/open").(ParseError)
	if !ok {
		t.Fatalf("Parse(/open) = %T, want ParseError", Parse("/open"))
	}
	if !strings.Contains(pe.Message, "requires an agent") {
		t.Errorf("Message = %q", pe.Message)
	}
}

func TestParse_Group(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"/group luna rex", []string{"luna", "rex"}},
		{"/group Luna, Rex,ivy", []string{"luna", "rex", "ivy"}},
		{"/group luna rex luna", []string{"luna", "rex"}},
	}

	for _, tt := range tests {
		result := Parse(tt.input)
		g, ok := result.(NewGroup)
		if !ok {
			t.Errorf("Parse(%q) = %T, want NewGroup", tt.input, result)
			continue
		}
		if !reflect.DeepEqual(g.Participants, tt.want) {
			t.Errorf("Parse(%q).Participants = %v, want %v", tt.input, g.Participants, tt.want)
		}
	}
}

func TestParse_Group_TooFew(t *testing.T) {
	for _, input := range []string{"/group", "/group luna", "/group luna luna", "/group , ,"} {
		pe, ok := Parse(input).(ParseError)
		if !ok {
			t.Errorf("Parse(%q) = %T, want ParseError", input, Parse(input))
			continue
		}
		if !strings.Contains(pe.Message, "at least two") {
			t.Errorf("Parse(%q).Message = %q", input, pe.Message)
		}
	}
}

func TestParse_Switches(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"/auto", Auto{Mode: SwitchToggle}},
		{"/auto on", Auto{Mode: SwitchOn}},
		{"/AUTO OFF", Auto{Mode: SwitchOff}},
		{"/voice", Voice{Mode: SwitchToggle}},
		{"/voice off", Voice{Mode: SwitchOff}},
		{"/discord on", Discord{Mode: SwitchOn}},
	}

	for _, tt := range tests {
		if got := Parse(tt.input); got != tt.want {
			t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.want)
		}
	}
}

func TestParse_Switches_BadArgument(t *testing.T) {
	for _, input := range []string{"/auto maybe", "/voice loud", "/discord 1"} {
		pe, ok := Parse(input).(ParseError)
		if !ok {
			t.Errorf("Parse(%q) = %T, want ParseError", input, Parse(input))
			continue
		}
		if !strings.Contains(pe.Message, "on or off") {
			t.Errorf("Parse(%q).Message = %q", input, pe.Message)
		}
	}
}

func TestSwitchApply(t *testing.T) {
	tests := []struct {
		s       Switch
		current bool
		want    bool
	}{
		{SwitchToggle, false, true},
		{SwitchToggle, true, false},
		{SwitchOn, true, true},
		{SwitchOn, false, true},
		{SwitchOff, true, false},
		{SwitchOff, false, false},
	}
	for _, tt := range tests {
		if got := tt.s.Apply(tt.current); got != tt.want {
			t.Errorf("Switch(%d).Apply(%v) = %v, want %v", tt.s, tt.current, got, tt.want)
		}
	}
}

func TestParse_Export(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/export", ""},
		{"/export ~/notes/chat.md", "~/notes/chat.md"},
		{"/export my notes.md", "my notes.md"},
	}
	for _, tt := range tests {
		e, ok := Parse(tt.input).(Export)
		if !ok {
			t.Errorf("Parse(%q) = %T, want Export", tt.input, Parse(tt.input))
			continue
		}
		if e.Path != tt.want {
			t.Errorf("Parse(%q).Path = %q, want %q", tt.input, e.Path, tt.want)
		}
	}
}

func TestParse_UnknownCommand(t *testing.T) {
	tests := []string{
		"/unknown",
		"/new",
		"/consensus",
		"/quit",
		"/",
	}

	for _, input := range tests {
		pe, ok := Parse(input).(ParseError)
		if !ok {
			t.Errorf("Parse(%q) = %T, want ParseError", input, Parse(input))
			continue
		}
		if !strings.Contains(pe.Message, "unknown command") {
			t.Errorf("Parse(%q).Message = %q, want message containing 'unknown command'", input, pe.Message)
		}
	}
}

func TestHelpText(t *testing.T) {
	help := HelpText()

	// Verify all commands are documented
	expectedCommands := []string{
		"/help", "/open", "/group", "/close", "/stop", "/stopall", "/auto",
		"/clear", "/clearall", "/export", "/voice", "/discord", "/agents",
	}

	for _, cmd := range expectedCommands {
		if !strings.Contains(help, cmd) {
			t.Errorf("HelpText() missing documentation for %q", cmd)
		}
	}
}

func TestCommandTypes(t *testing.T) {
	tests := []struct {
		cmd      Command
		wantType string
	}{
		{Help{}, "help"},
		{Open{}, "open"},
		{NewGroup{}, "group"},
		{Close{}, "close"},
		{Stop{}, "stop"},
		{StopAll{}, "stopall"},
		{Auto{}, "auto"},
		{Clear{}, "clear"},
		{ClearAll{}, "clearall"},
		{Export{}, "export"},
		{Voice{}, "voice"},
		{Discord{}, "discord"},
		{ListAgents{}, "agents"},
		{ParseError{}, "error"},
	}

	for _, tt := range tests {
		if got := tt.cmd.Type(); got != tt.wantType {
			t.Errorf("%T.Type() = %q, want %q", tt.cmd, got, tt.wantType)
		}
	}
}

func TestParse_CaseInsensitive(t *testing.T) {
	testCases := []struct {
		inputs  []string
		cmdType string
	}{
		{[]string{"/help", "/HELP", "/Help", "/hElP"}, "help"},
		{[]string{"/stopall", "/STOPALL", "/StopAll"}, "stopall"},
		{[]string{"/clear", "/CLEAR", "/Clear"}, "clear"},
		{[]string{"/agents", "/AGENTS"}, "agents"},
	}

	for _, tc := range testCases {
		for _, input := range tc.inputs {
			result := Parse(input)
			if result == nil {
				t.Errorf("Parse(%q) = nil, want command of type %q", input, tc.cmdType)
				continue
			}
			if result.Type() != tc.cmdType {
				t.Errorf("Parse(%q).Type() = %q, want %q", input, result.Type(), tc.cmdType)
			}
		}
	}
}
