// Package macro implements the macro engine: user-authored ordered
// command lists that orchestrate research protocols, shell calls,
// sub-macros and session transitions.
//
// The file format is line based.  An unindented line starts a macro:
//
//	search startup fallback: duration=40ms; repeats=3
//
// with flag tokens (startup, shutdown, fallback, startsession,
// stopsession, nobutton, nokey, nomenu, keep, overwrite) before the
// colon and macro variables after it.  Indented lines are commands; the
// leading token selects the kind (repro, macro, shell, message, browse,
// switch, startsession, filter, detector, savedata) and defaults to
// repro.  A leading '!' disables a command.  Command parameters may
// refer to macro variables as $name.  Unknown flags are warnings, not
// errors.
package macro

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/relacs/relacsd/options"
)

// Action flags bind a macro to session events.
const (
	// StartUp runs the macro when the program comes up
	StartUp = 0x01
	// ShutDown runs the macro when the program goes down
	ShutDown = 0x02
	// FallBack marks the macro the engine falls back to
	FallBack = 0x04
	// ExplicitFallBack marks a fallback requested in the file
	ExplicitFallBack = 0x08
	// StartSession runs the macro when a session starts
	StartSession = 0x10
	// StopSession runs the macro when a session stops
	StopSession = 0x20
)

// CommandKind selects what a macro command does.
type CommandKind int

const (
	// ReProCom runs a research protocol
	ReProCom CommandKind = iota
	// MacroCom runs another macro
	MacroCom
	// ShellCom runs a shell command
	ShellCom
	// MessageCom displays a message
	MessageCom
	// BrowseCom opens a document
	BrowseCom
	// SwitchCom switches the macro file
	SwitchCom
	// StartSessionCom starts a session
	StartSessionCom
	// StopSessionCom stops a session
	StopSessionCom
	// FilterCom invokes a filter operation
	FilterCom
	// DetectorCom invokes a detector operation
	DetectorCom
	// SaveDataCom toggles data saving
	SaveDataCom
)

var commandKinds = map[string]CommandKind{
	"repro":        ReProCom,
	"macro":        MacroCom,
	"shell":        ShellCom,
	"message":      MessageCom,
	"browse":       BrowseCom,
	"switch":       SwitchCom,
	"startsession": StartSessionCom,
	"stopsession":  StopSessionCom,
	"filter":       FilterCom,
	"detector":     DetectorCom,
	"savedata":     SaveDataCom,
}

// FormatCommandKind converts a command kind to its file token.
func FormatCommandKind(k CommandKind) string {
	for s, kk := range commandKinds {
		if kk == k {
			return s
		}
	}
	return ""
}

// Command is a single entry of a macro.
type Command struct {
	// Kind selects the action
	Kind CommandKind
	// Name is the protocol, macro, document or shell line
	Name string
	// Params is the raw parameter string, possibly with $variables
	Params string
	// Enabled is false for commands disabled with '!'
	Enabled bool
	// MacroIndex is the resolved index for MacroCom commands
	MacroIndex int
}

// Macro is a named ordered command list with variables and action flags.
type Macro struct {
	// Name identifies the macro
	Name string
	// Variables are the macro's parameters with default values
	Variables *options.Options
	// Action is the bitfield of session bindings
	Action int
	// Button, Menu, Key control the surface bindings
	Button, Menu, Key bool
	// Keep protects the macro from being cleared on reload
	Keep bool
	// Overwrite lets the macro replace an existing one of its name
	Overwrite bool
	// Commands is the ordered command list
	Commands []*Command
}

// ExpandParameter substitutes $name references in params with the
// macro's variables, overridden by the caller's callParams, and returns
// the expanded option string.
func (m *Macro) ExpandParameter(params string, callParams *options.Options) string {
	vars := m.Variables.Clone()
	vars.Merge(callParams)
	out := params
	vars.Each(func(name, value string) {
		out = strings.ReplaceAll(out, "$"+name, value)
	})
	return out
}

var flagTokens = map[string]int{
	"startup":      StartUp,
	"shutdown":     ShutDown,
	"fallback":     FallBack | ExplicitFallBack,
	"startsession": StartSession,
	"stopsession":  StopSession,
}

// Load parses a macro file.
func Load(path string) ([]*Macro, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads macro definitions.  It returns the macros, a list of
// warnings for unknown flags and commands, and an error on malformed
// structure.
func Parse(r io.Reader) ([]*Macro, []string, error) {
	var (
		macros   []*Macro
		warnings []string
		current  *Macro
		linenum  int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		linenum++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		indented := line[0] == ' ' || line[0] == '\t'
		if !indented {
			m, warns := parseHeader(trimmed, linenum)
			warnings = append(warnings, warns...)
			macros = append(macros, m)
			current = m
			continue
		}

		if current == nil {
			return nil, warnings, fmt.Errorf("line %d: command outside of a macro", linenum)
		}
		cmd, warn := parseCommand(trimmed, linenum)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		if cmd != nil {
			current.Commands = append(current.Commands, cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, err
	}
	return macros, warnings, nil
}

// parseHeader reads "name flag flag: var=value; var=value".
func parseHeader(line string, linenum int) (*Macro, []string) {
	var warnings []string
	params := ""
	if colon := strings.Index(line, ":"); colon >= 0 {
		params = strings.TrimSpace(line[colon+1:])
		line = strings.TrimSpace(line[:colon])
	}
	fields := strings.Fields(line)
	m := &Macro{
		Name:      "macro",
		Variables: options.Parse(params),
		Button:    true,
		Menu:      true,
		Key:       true,
	}
	if len(fields) > 0 {
		m.Name = strings.TrimPrefix(fields[0], "$")
		fields = fields[1:]
	}
	for _, tok := range fields {
		switch strings.ToLower(tok) {
		case "nobutton":
			m.Button = false
		case "nokey":
			m.Key = false
		case "nomenu":
			m.Menu = false
			m.Key = false
		case "keep":
			m.Keep = true
		case "overwrite":
			m.Overwrite = true
		default:
			if a, ok := flagTokens[strings.ToLower(tok)]; ok {
				m.Action |= a
			} else {
				warnings = append(warnings,
					fmt.Sprintf("line %d: unknown flag %q for macro %q", linenum, tok, m.Name))
			}
		}
	}
	return m, warnings
}

// parseCommand reads "[!]kind name: params".  An unknown leading token
// is taken as a protocol name.
func parseCommand(line string, linenum int) (*Command, string) {
	cmd := &Command{Enabled: true, MacroIndex: -1, Kind: ReProCom}
	if strings.HasPrefix(line, "!") {
		cmd.Enabled = false
		line = strings.TrimSpace(line[1:])
	}
	params := ""
	if colon := strings.Index(line, ":"); colon >= 0 {
		params = strings.TrimSpace(line[colon+1:])
		line = strings.TrimSpace(line[:colon])
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Sprintf("line %d: empty command", linenum)
	}
	if kind, ok := commandKinds[strings.ToLower(fields[0])]; ok {
		cmd.Kind = kind
		fields = fields[1:]
	}
	cmd.Name = strings.Join(fields, " ")
	cmd.Params = params
	warning := ""
	switch cmd.Kind {
	case StartSessionCom, StopSessionCom, SaveDataCom:
	default:
		if cmd.Name == "" {
			warning = fmt.Sprintf("line %d: command without a name", linenum)
		}
	}
	return cmd, warning
}
