package macro

import (
	"strings"
	"testing"
	"time"

	"github.com/relacs/relacsd/engine"
	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/repro"
)

const sampleFile = `# sample macros
search startup fallback nobutton: duration=40ms
  repro Search: duration=$duration
  message ready

stimulate: duration=0.2s; repeats=3
  repro FICurve: duration=$duration; repeats=$repeats
  !repro Disabled: x=1
  macro search: duration=80ms

session startsession UNKNOWNFLAG
  startsession
  savedata
`

func parseSample(t *testing.T) ([]*Macro, []string) {
	t.Helper()
	macros, warnings, err := Parse(strings.NewReader(sampleFile))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return macros, warnings
}

func TestParseStructure(t *testing.T) {
	macros, warnings := parseSample(t)
	if len(macros) != 3 {
		t.Fatalf("parsed %d macros, want 3", len(macros))
	}

	search := macros[0]
	if search.Name != "search" {
		t.Errorf("name==%q, want search", search.Name)
	}
	if search.Action&StartUp == 0 || search.Action&FallBack == 0 {
		t.Errorf("action==%#x, want startup|fallback", search.Action)
	}
	if search.Button {
		t.Errorf("nobutton flag not honoured")
	}
	if got := search.Variables.Text("duration", ""); got != "40ms" {
		t.Errorf("variable duration==%q, want 40ms", got)
	}
	if len(search.Commands) != 2 {
		t.Fatalf("search has %d commands, want 2", len(search.Commands))
	}
	if search.Commands[1].Kind != MessageCom {
		t.Errorf("second command kind==%v, want MessageCom", search.Commands[1].Kind)
	}

	stim := macros[1]
	if len(stim.Commands) != 3 {
		t.Fatalf("stimulate has %d commands, want 3", len(stim.Commands))
	}
	if stim.Commands[1].Enabled {
		t.Errorf("'!' did not disable the command")
	}
	if stim.Commands[2].Kind != MacroCom {
		t.Errorf("macro command kind==%v, want MacroCom", stim.Commands[2].Kind)
	}

	// unknown flags warn, they do not fail
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "UNKNOWNFLAG") {
			found = true
		}
	}
	if !found {
		t.Errorf("no warning for unknown flag; warnings: %v", warnings)
	}
}

// TestExpandParameter checks that invocation parameters override the
// macro's defaults: duration=0.2s; repeats=3 invoked with duration=0.5s
// yields duration=0.5s; repeats=3.
func TestExpandParameter(t *testing.T) {
	macros, _ := parseSample(t)
	stim := macros[1]
	call := options.Parse("duration=0.5s")
	got := stim.ExpandParameter(stim.Commands[0].Params, call)
	want := "duration=0.5s; repeats=3"
	if got != want {
		t.Errorf("ExpandParameter==%q, want %q", got, want)
	}
}

// testRePro records the options it was started with.
type testRePro struct {
	name    string
	started []string
}

func (r *testRePro) Name() string              { return r.name }
func (r *testRePro) Options() *options.Options { return options.New() }
func (r *testRePro) Main(ctx *repro.Context) repro.Outcome {
	r.started = append(r.started, ctx.Opts.String())
	return repro.Completed
}

func newTestSetup(t *testing.T) (*Engine, *testRePro, *testRePro, chan string) {
	t.Helper()
	eng := engine.New()
	eng.DisableReader = true
	eng.Printlog = t.Logf
	rt := repro.NewRuntime(eng)
	rt.Printlog = t.Logf

	search := &testRePro{name: "Search"}
	fi := &testRePro{name: "FICurve"}
	rt.Add(search)
	rt.Add(fi)

	messages := make(chan string, 16)
	me := NewEngine(rt, Hooks{
		Message: func(text string) { messages <- text },
	})
	me.Printlog = t.Logf

	macros, warnings, err := Parse(strings.NewReader(sampleFile))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := me.SetMacros(macros, warnings); err != nil {
		t.Fatalf("SetMacros: %v", err)
	}
	return me, search, fi, messages
}

// TestRunMacroChain starts a macro and waits for the chain to reach the
// fallback macro again.
func TestRunMacroChain(t *testing.T) {
	me, search, fi, messages := newTestSetup(t)

	if err := me.StartMacroByName("stimulate", "duration=0.5s", true); err != nil {
		t.Fatalf("StartMacroByName: %v", err)
	}

	// the chain runs on the runtime goroutines: the FICurve command,
	// the skipped disabled command, the sub-macro with its message,
	// then the fallback macro, whose message command is the second
	// sync point
	for i := 0; i < 2; i++ {
		select {
		case <-messages:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for the macro chain")
		}
	}

	if len(fi.started) != 1 {
		t.Fatalf("FICurve started %d times, want 1", len(fi.started))
	}
	if fi.started[0] != "duration=0.5s; repeats=3" {
		t.Errorf("FICurve options==%q, want duration=0.5s; repeats=3", fi.started[0])
	}
	if len(search.started) < 1 {
		t.Fatalf("sub-macro Search never started")
	}
	if search.started[0] != "duration=80ms" {
		t.Errorf("Search options==%q, want duration=80ms", search.started[0])
	}
}

func TestFallBackIndex(t *testing.T) {
	me, _, _, _ := newTestSetup(t)
	if got := me.Index("search"); got != 0 {
		t.Errorf("Index(search)==%d, want 0", got)
	}
	me.mu.Lock()
	fb := me.fallBackIndex
	su := me.startUpIndex
	ss := me.startSessionIndex
	me.mu.Unlock()
	if fb != 0 {
		t.Errorf("fallback index==%d, want 0", fb)
	}
	if su != 0 {
		t.Errorf("startup index==%d, want 0", su)
	}
	if ss != 2 {
		t.Errorf("startsession index==%d, want 2", ss)
	}
}
