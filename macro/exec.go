package macro

import (
	"fmt"
	"log"
	"os/exec"
	"sync"

	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/repro"
)

// Pos is a stack frame of the macro engine: where execution is and with
// which variable bindings.
type Pos struct {
	MacroIndex   int
	CommandIndex int
	Variables    *options.Options
}

// defined reports whether the frame points at a macro.
func (p Pos) defined() bool {
	return p.MacroIndex >= 0
}

// Hooks are the side effects the macro engine delegates to its host.
type Hooks struct {
	// RunShell executes a shell command line
	RunShell func(line string) error
	// Message displays a message to the operator
	Message func(text string)
	// Browse opens a document
	Browse func(path string)
	// SwitchFile loads another macro file
	SwitchFile func(path string) error
	// StartSession begins a recording session
	StartSession func()
	// StopSession ends a recording session
	StopSession func()
	// FilterOp applies an operation ("save" or "autoconfigure") to a
	// filter or detector
	FilterOp func(name, op string) error
	// SetSaving toggles writing of data files
	SetSaving func(on bool)
}

// Engine executes macros over the protocol runtime.
type Engine struct {
	mu sync.Mutex

	macros  []*Macro
	runtime *repro.Runtime
	hooks   Hooks

	current Pos
	stack   []Pos

	resumePos   Pos
	resumeStack []Pos

	thisMacroOnly   bool
	thisCommandOnly bool

	saving bool

	startUpIndex      int
	shutDownIndex     int
	fallBackIndex     int
	startSessionIndex int
	stopSessionIndex  int

	warnings []string

	// Printlog is the engine's log sink
	Printlog func(format string, v ...interface{})
}

// NewEngine creates a macro engine over the runtime.  The runtime's
// OnDone is claimed to chain commands after each protocol run.
func NewEngine(rt *repro.Runtime, hooks Hooks) *Engine {
	e := &Engine{
		runtime:  rt,
		hooks:    hooks,
		current:  Pos{MacroIndex: -1},
		resumePos: Pos{MacroIndex: -1},
		Printlog: log.Printf,

		startUpIndex:      -1,
		shutDownIndex:     -1,
		fallBackIndex:     -1,
		startSessionIndex: -1,
		stopSessionIndex:  -1,
	}
	if rt != nil {
		rt.OnDone = e.reproDone
	}
	return e
}

// SetMacros installs a parsed macro list and resolves the action
// indices and macro command targets.
func (e *Engine) SetMacros(macros []*Macro, warnings []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// keep macros survive a reload unless overwritten
	var kept []*Macro
	for _, old := range e.macros {
		if !old.Keep {
			continue
		}
		replaced := false
		for _, m := range macros {
			if m.Overwrite && m.Name == old.Name {
				replaced = true
				break
			}
		}
		if !replaced {
			kept = append(kept, old)
		}
	}
	e.macros = append(kept, macros...)
	e.warnings = warnings

	e.startUpIndex = -1
	e.shutDownIndex = -1
	e.fallBackIndex = -1
	e.startSessionIndex = -1
	e.stopSessionIndex = -1
	for i, m := range e.macros {
		if m.Action&StartUp != 0 && e.startUpIndex < 0 {
			e.startUpIndex = i
		}
		if m.Action&ShutDown != 0 && e.shutDownIndex < 0 {
			e.shutDownIndex = i
		}
		if m.Action&FallBack != 0 && e.fallBackIndex < 0 {
			e.fallBackIndex = i
		}
		if m.Action&StartSession != 0 && e.startSessionIndex < 0 {
			e.startSessionIndex = i
		}
		if m.Action&StopSession != 0 && e.stopSessionIndex < 0 {
			e.stopSessionIndex = i
		}
	}
	// without an explicit fallback the first macro with a protocol
	// command falls back
	if e.fallBackIndex < 0 {
	search:
		for i, m := range e.macros {
			for _, c := range m.Commands {
				if c.Kind == ReProCom {
					e.fallBackIndex = i
					break search
				}
			}
		}
	}

	// resolve macro commands by name
	for _, m := range e.macros {
		for _, c := range m.Commands {
			if c.Kind != MacroCom {
				continue
			}
			c.MacroIndex = e.indexLocked(c.Name)
			if c.MacroIndex < 0 {
				e.warnings = append(e.warnings,
					fmt.Sprintf("macro %q: unknown macro %q", m.Name, c.Name))
			}
		}
	}
	return nil
}

// Warnings returns the warnings collected by load and check.
func (e *Engine) Warnings() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warnings
}

// Index returns the index of the macro with the given name, or -1.
func (e *Engine) Index(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexLocked(name)
}

func (e *Engine) indexLocked(name string) int {
	for i, m := range e.macros {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// Size returns the number of macros.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.macros)
}

// Macro returns a macro by index.
func (e *Engine) Macro(i int) *Macro {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= len(e.macros) {
		return nil
	}
	return e.macros[i]
}

// CurrentMacro returns the name of the running macro, or "".
func (e *Engine) CurrentMacro() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.current.defined() || e.current.MacroIndex >= len(e.macros) {
		return ""
	}
	return e.macros[e.current.MacroIndex].Name
}

// StartMacro begins execution of macro index at the given command with
// the caller's parameter string bound over the macro's variables.
func (e *Engine) StartMacro(index, command int, callParams string, saving bool) error {
	e.mu.Lock()
	if index < 0 || index >= len(e.macros) {
		e.mu.Unlock()
		return fmt.Errorf("macro: no macro with index %d", index)
	}
	m := e.macros[index]
	vars := m.Variables.Clone()
	vars.Merge(options.Parse(callParams))
	e.current = Pos{MacroIndex: index, CommandIndex: command, Variables: vars}
	e.stack = e.stack[:0]
	e.saving = saving
	e.mu.Unlock()

	return e.StartNextRePro(saving, false)
}

// StartMacroByName is StartMacro with a name lookup.
func (e *Engine) StartMacroByName(name string, callParams string, saving bool) error {
	i := e.Index(name)
	if i < 0 {
		return fmt.Errorf("macro: unknown macro %q", name)
	}
	return e.StartMacro(i, 0, callParams, saving)
}

// StartUp runs the startup macro, if there is one.
func (e *Engine) StartUp() {
	if i := e.actionIndex(&e.startUpIndex); i >= 0 {
		e.StartMacro(i, 0, "", false)
	}
}

// ShutDown runs the shutdown macro, if there is one.
func (e *Engine) ShutDown() {
	if i := e.actionIndex(&e.shutDownIndex); i >= 0 {
		e.StartMacro(i, 0, "", false)
	}
}

// FallBack runs the fallback macro, if there is one.
func (e *Engine) FallBack(saving bool) {
	if i := e.actionIndex(&e.fallBackIndex); i >= 0 {
		e.StartMacro(i, 0, "", saving)
	}
}

// StartSessionMacro runs the start-session macro, if there is one.
func (e *Engine) StartSessionMacro() {
	if i := e.actionIndex(&e.startSessionIndex); i >= 0 {
		e.StartMacro(i, 0, "", true)
	}
}

// StopSessionMacro runs the stop-session macro, if there is one.
func (e *Engine) StopSessionMacro() {
	if i := e.actionIndex(&e.stopSessionIndex); i >= 0 {
		e.StartMacro(i, 0, "", false)
	}
}

func (e *Engine) actionIndex(p *int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *p
}

// StartNextRePro executes commands of the current macro until a
// protocol is started.  Non-protocol commands run inline; macro
// commands push a stack frame; an exhausted macro pops its frame and
// resumes the caller.  enable overrides disabled commands once.
func (e *Engine) StartNextRePro(saving bool, enable bool) error {
	if e.runtime != nil && e.runtime.Busy() {
		e.runtime.Interrupt()
		e.runtime.Wait()
	}

	for {
		e.mu.Lock()
		if !e.current.defined() || e.current.MacroIndex >= len(e.macros) {
			e.mu.Unlock()
			return nil
		}
		m := e.macros[e.current.MacroIndex]
		if e.current.CommandIndex < 0 {
			e.current.CommandIndex = 0
		}

		if e.current.CommandIndex >= len(m.Commands) {
			// macro finished: pop the stack or fall back
			if e.thisMacroOnly || len(e.stack) == 0 {
				e.thisMacroOnly = false
				e.thisCommandOnly = false
				fb := e.fallBackIndex
				atFallback := e.current.MacroIndex == fb
				e.current = Pos{MacroIndex: -1}
				e.mu.Unlock()
				if fb >= 0 && !atFallback {
					return e.StartMacro(fb, 0, "", saving)
				}
				return nil
			}
			e.current = e.stack[len(e.stack)-1]
			e.stack = e.stack[:len(e.stack)-1]
			e.current.CommandIndex++
			e.mu.Unlock()
			continue
		}

		cmd := m.Commands[e.current.CommandIndex]
		vars := e.current.Variables
		e.mu.Unlock()

		if !cmd.Enabled && !enable {
			e.advance()
			continue
		}
		enable = false

		params := m.ExpandParameter(cmd.Params, vars)

		switch cmd.Kind {
		case ReProCom:
			// a pending this-command-only is consumed by reproDone,
			// which then stops the chain
			if e.runtime == nil {
				e.advance()
				continue
			}
			if err := e.runtime.Start(cmd.Name, options.Parse(params), saving); err != nil {
				e.Printlog("macro: start of %q failed: %v", cmd.Name, err)
				e.advance()
				continue
			}
			return nil

		case MacroCom:
			if cmd.MacroIndex < 0 {
				e.Printlog("macro: unresolved macro command %q", cmd.Name)
				e.advance()
				continue
			}
			e.mu.Lock()
			sub := e.macros[cmd.MacroIndex]
			subVars := sub.Variables.Clone()
			subVars.Merge(options.Parse(params))
			e.stack = append(e.stack, e.current)
			e.current = Pos{MacroIndex: cmd.MacroIndex, CommandIndex: 0, Variables: subVars}
			e.mu.Unlock()
			continue

		case ShellCom:
			line := cmd.Name
			if params != "" {
				line += " " + params
			}
			if e.hooks.RunShell != nil {
				if err := e.hooks.RunShell(line); err != nil {
					e.Printlog("macro: shell %q: %v", line, err)
				}
			} else if err := exec.Command("sh", "-c", line).Run(); err != nil {
				e.Printlog("macro: shell %q: %v", line, err)
			}

		case MessageCom:
			text := cmd.Name
			if params != "" {
				text += ": " + params
			}
			if e.hooks.Message != nil {
				e.hooks.Message(text)
			} else {
				e.Printlog("macro message: %s", text)
			}

		case BrowseCom:
			if e.hooks.Browse != nil {
				e.hooks.Browse(cmd.Name)
			}

		case SwitchCom:
			if e.hooks.SwitchFile != nil {
				if err := e.hooks.SwitchFile(cmd.Name); err != nil {
					e.Printlog("macro: switch to %q: %v", cmd.Name, err)
				}
			}

		case StartSessionCom:
			if e.hooks.StartSession != nil {
				e.hooks.StartSession()
			}

		case StopSessionCom:
			if e.hooks.StopSession != nil {
				e.hooks.StopSession()
			}

		case FilterCom, DetectorCom:
			op := "save"
			if params != "" {
				op = params
			}
			if e.hooks.FilterOp != nil {
				if err := e.hooks.FilterOp(cmd.Name, op); err != nil {
					e.Printlog("macro: filter op on %q: %v", cmd.Name, err)
				}
			}

		case SaveDataCom:
			on := true
			if params != "" {
				on = options.Parse("v=" + params).Boolean("v", true)
			}
			e.mu.Lock()
			e.saving = on
			e.mu.Unlock()
			if e.hooks.SetSaving != nil {
				e.hooks.SetSaving(on)
			}
		}

		if e.thisCommandOnly {
			e.mu.Lock()
			e.thisCommandOnly = false
			e.current = Pos{MacroIndex: -1}
			e.mu.Unlock()
			return nil
		}
		e.advance()
	}
}

func (e *Engine) advance() {
	e.mu.Lock()
	e.current.CommandIndex++
	e.mu.Unlock()
}

// reproDone is the runtime's OnDone hook: a finished protocol run moves
// execution to the next command.
func (e *Engine) reproDone(name string, outcome repro.Outcome) {
	e.mu.Lock()
	if e.thisCommandOnly || !e.current.defined() {
		e.thisCommandOnly = false
		e.mu.Unlock()
		return
	}
	saving := e.saving
	e.current.CommandIndex++
	e.mu.Unlock()

	if outcome == repro.Failed {
		e.Printlog("macro: protocol %q failed, continuing with next command", name)
	}
	if err := e.StartNextRePro(saving, false); err != nil {
		e.Printlog("macro: %v", err)
	}
}

// Store memorizes the current position for Resume.
func (e *Engine) Store() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumePos = e.current
	e.resumeStack = append([]Pos(nil), e.stack...)
}

// SoftBreak memorizes the position and schedules the fallback macro
// after the running protocol terminates cleanly.
func (e *Engine) SoftBreak() {
	e.Store()
	e.mu.Lock()
	// the running protocol still advances the command index once it
	// terminates, so point one before the fallback's first command
	e.current = Pos{MacroIndex: e.fallBackIndex, CommandIndex: -1}
	e.stack = e.stack[:0]
	e.mu.Unlock()
	if e.runtime != nil {
		e.runtime.SoftStop()
	}
}

// HardBreak memorizes the position and starts the fallback macro
// immediately.
func (e *Engine) HardBreak() {
	e.Store()
	if e.runtime != nil {
		e.runtime.Interrupt()
		e.runtime.Wait()
	}
	e.FallBack(false)
}

// Resume replays the memorized position.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if !e.resumePos.defined() {
		e.mu.Unlock()
		return fmt.Errorf("macro: nothing to resume")
	}
	e.current = e.resumePos
	e.stack = append([]Pos(nil), e.resumeStack...)
	saving := e.saving
	e.mu.Unlock()
	return e.StartNextRePro(saving, false)
}

// ResumeNext resumes at the command after the memorized one.
func (e *Engine) ResumeNext() error {
	e.mu.Lock()
	if !e.resumePos.defined() {
		e.mu.Unlock()
		return fmt.Errorf("macro: nothing to resume")
	}
	e.current = e.resumePos
	e.current.CommandIndex++
	e.stack = append([]Pos(nil), e.resumeStack...)
	saving := e.saving
	e.mu.Unlock()
	return e.StartNextRePro(saving, false)
}

// SetThisOnly restricts the next run to a single macro (macro true) or
// a single command (macro false), short-circuiting the resume logic.
func (e *Engine) SetThisOnly(macro bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if macro {
		e.thisMacroOnly = true
	} else {
		e.thisCommandOnly = true
	}
}
