package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relacs/relacsd/daqsim"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/engine"
	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/repro"
)

// hookRePro counts session hook invocations.
type hookRePro struct {
	started int
	stopped int
	saved   bool
}

func (h *hookRePro) Name() string                           { return "Hooked" }
func (h *hookRePro) Options() *options.Options              { return options.New() }
func (h *hookRePro) Main(ctx *repro.Context) repro.Outcome  { return repro.Completed }
func (h *hookRePro) SessionStarted()                        { h.started++ }
func (h *hookRePro) SessionStopped(saved bool)              { h.stopped++; h.saved = saved }

func newSessionRig(t *testing.T) (*Controller, *engine.Engine, *hookRePro, string) {
	t.Helper()
	eng := engine.New()
	eng.DisableReader = true
	eng.Printlog = t.Logf
	clock := 0.0
	eng.SetClock(func() float64 { return clock })

	ao := daqsim.NewAnalogOutput()
	if err := ao.Open("sim0", nil); err != nil {
		t.Fatalf("open ao: %v", err)
	}
	eng.AddAnalogOutput(ao)
	eng.SetSyncMode(engine.AISync)
	eng.SetOutTraces([]data.TraceSpec{
		{Name: "Stim", Device: 0, Channel: 0, Unit: "V", MaxVoltage: 10},
	})

	rt := repro.NewRuntime(eng)
	rt.Printlog = t.Logf
	hooked := &hookRePro{}
	rt.Add(hooked)

	dir := t.TempDir()
	c := New(eng, rt, nil, dir)
	c.Printlog = t.Logf
	return c, eng, hooked, dir
}

func TestSessionLifecycle(t *testing.T) {
	c, _, hooked, _ := newSessionRig(t)

	if c.Running() {
		t.Fatalf("session running before Start")
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Running() || !c.Saving() {
		t.Errorf("Running==%v Saving==%v after Start, want true/true", c.Running(), c.Saving())
	}
	if hooked.started != 1 {
		t.Errorf("SessionStarted called %d times, want 1", hooked.started)
	}
	if err := c.Start(); err == nil {
		t.Errorf("second Start succeeded, want error")
	}
	if err := c.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if hooked.stopped != 1 || !hooked.saved {
		t.Errorf("SessionStopped called %d times saved=%v, want 1/true", hooked.stopped, hooked.saved)
	}
	if c.Running() {
		t.Errorf("session still running after Stop")
	}
}

// TestStimulusRecorded writes a stimulus during a session and checks
// the stimulus-data dictionary and the table file.
func TestStimulusRecorded(t *testing.T) {
	c, eng, _, dir := newSessionRig(t)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	o := data.NewOutData("Stim", 1e-4)
	o.SineWave(0.1, 500.0, 1.0)
	o.SetLevel(12.0)
	o.Ident = "probe"
	if err := eng.Write(o); err != nil {
		t.Fatalf("Write: %v", err)
	}

	sd := c.LockStimulusData()
	carrier, unit := sd.Number("carrier", 0)
	duration, _ := sd.Number("duration", 0)
	ident := sd.Text("ident", "")
	c.UnlockStimulusData()
	if carrier != 500.0 || unit != "Hz" {
		t.Errorf("stimulus carrier==%g %s, want 500 Hz", carrier, unit)
	}
	if duration != 0.1 {
		t.Errorf("stimulus duration==%g, want 0.1", duration)
	}
	if ident != "probe" {
		t.Errorf("stimulus ident==%q, want probe", ident)
	}

	if err := c.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "stimuli.dat"))
	if err != nil {
		t.Fatalf("reading stimuli.dat: %v", err)
	}
	out := string(raw)
	if !strings.Contains(out, "#Key") {
		t.Errorf("stimuli.dat misses the table key:\n%s", out)
	}
	if !strings.Contains(out, "500.0") {
		t.Errorf("stimuli.dat misses the carrier:\n%s", out)
	}
	if !strings.HasSuffix(out, "\n\n\n") {
		t.Errorf("stimuli.dat table not terminated by two blank lines")
	}
}

func TestLockedOptionTrees(t *testing.T) {
	c, _, _, _ := newSessionRig(t)
	md := c.LockMetaData()
	md.Set("species", "Apteronotus leptorhynchus")
	c.UnlockMetaData()

	st := c.LockSettings()
	st.Set("datadir", "/tmp/relacs")
	c.UnlockSettings()

	md = c.LockMetaData()
	got := md.Text("species", "")
	c.UnlockMetaData()
	if got != "Apteronotus leptorhynchus" {
		t.Errorf("metadata species==%q", got)
	}
}
