package engine

import (
	"math"
	"testing"

	"github.com/relacs/relacsd/daqsim"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/pipeline"
)

// rig is a fully wired engine over the simulated back-end.
type rig struct {
	eng   *Engine
	ai    *daqsim.AnalogInput
	ao    *daqsim.AnalogOutput
	att   *daqsim.Attenuator
	trace *data.InData
	clock float64
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{}
	r.eng = New()
	r.eng.Printlog = t.Logf
	r.eng.DisableReader = true
	r.eng.SetClock(func() float64 { return r.clock })

	r.ai = daqsim.NewAnalogInput()
	if err := r.ai.Open("sim0", nil); err != nil {
		t.Fatalf("open ai: %v", err)
	}
	r.ao = daqsim.NewAnalogOutput()
	if err := r.ao.Open("sim0", nil); err != nil {
		t.Fatalf("open ao: %v", err)
	}
	r.att = daqsim.NewAttenuator()
	if err := r.att.Open("sim0", nil); err != nil {
		t.Fatalf("open att: %v", err)
	}

	r.eng.AddAnalogInput(r.ai)
	r.eng.AddAnalogOutput(r.ao)
	r.eng.AddAttenuator(r.att)
	r.eng.SetSyncMode(AISync)
	r.eng.SetOutTraces([]data.TraceSpec{
		{Name: "Stim", Device: 0, Channel: 0, Unit: "V", MaxVoltage: 10},
		{Name: "Stim-2", Device: 0, Channel: 3, Unit: "V", MaxVoltage: 10},
	})

	r.trace = data.NewInData("V-1", 0.5, 1e-4)
	r.trace.Channel = 0
	r.trace.Device = 0
	r.trace.GainIndex = 0
	r.trace.Scale = 1.0
	return r
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	if err := r.eng.Read(data.InList{r.trace}); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

// produce pushes n samples through the simulated device and processes
// them synchronously.
func (r *rig) produce(n int) {
	r.ai.Produce(n)
	r.eng.ProcessPending()
	r.clock += float64(n) * r.trace.Stepsize
}

func TestAcquisitionFillsTrace(t *testing.T) {
	r := newRig(t)
	r.ai.SetWaveform(0, func(tm float64) float64 { return math.Sin(2 * math.Pi * 10 * tm) })
	r.start(t)
	defer r.eng.Stop()

	r.produce(5000)
	if r.trace.Size() != 5000 {
		t.Fatalf("Size()==%d, want 5000", r.trace.Size())
	}
	if r.trace.MinIndex() != 0 {
		t.Errorf("MinIndex()==%d, want 0", r.trace.MinIndex())
	}
	if got := r.trace.Pos(5000); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Pos(5000)==%g, want 0.5", got)
	}
	// full periods of a sine average to zero
	if got := r.trace.Mean(0.0, 0.5); math.Abs(got) > 1e-9 {
		t.Errorf("Mean(0, 0.5)==%g, want 0", got)
	}
	// the device range was applied to the trace
	if r.trace.MaxVoltage != 10.0 {
		t.Errorf("MaxVoltage==%g, want 10", r.trace.MaxVoltage)
	}
}

// TestStimulusHandOff arms a 0.1 s signal at t=1.0 and checks the signal
// time and the recorded stimulus info.
func TestStimulusHandOff(t *testing.T) {
	r := newRig(t)
	r.start(t)
	defer r.eng.Stop()
	r.produce(10000) // clock is now 1.0

	var got SignalInfo
	r.eng.OnSignal = func(si SignalInfo) { got = si }

	o := data.NewOutData("Stim", 1e-4)
	o.SineWave(0.1, 500.0, 1.0)
	o.SetIntensity(80.0)
	if err := r.eng.Write(o); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if st := r.eng.SignalTime(); st < 1.0 {
		t.Errorf("SignalTime()==%g, want >= 1.0", st)
	}
	if math.Abs(got.Duration-0.1) > 1e-9 {
		t.Errorf("recorded duration==%g, want 0.1", got.Duration)
	}
	if got.Signals[0].CarrierFreq != 500.0 {
		t.Errorf("recorded carrier==%g, want 500", got.Signals[0].CarrierFreq)
	}
	if ts := r.trace.SignalTime(); ts < 1.0 {
		t.Errorf("trace SignalTime()==%g, want >= 1.0", ts)
	}
	if r.ao.LastWritten() == nil {
		t.Errorf("no signal armed on the simulated output")
	}
	// intensity 80 against the 100 dB reference programs 20 dB
	if math.Abs(r.att.LastLevel-20.0) > 0.5 {
		t.Errorf("attenuator level==%g, want 20", r.att.LastLevel)
	}
}

// TestMuteOnZeroIntensity checks that MuteIntensity mutes the attenuator
// and zeroes the digital scale.
func TestMuteOnZeroIntensity(t *testing.T) {
	r := newRig(t)
	r.start(t)
	defer r.eng.Stop()

	o := data.NewOutData("Stim", 1e-4)
	o.ConstWave(0.01, 1.0)
	o.Mute()
	if err := r.eng.Write(o); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !r.att.MutedNow {
		t.Errorf("attenuator not muted")
	}
	if o.Scale != 0.0 {
		t.Errorf("Scale==%g, want 0", o.Scale)
	}
}

func TestPriorityArbitration(t *testing.T) {
	r := newRig(t)
	r.start(t)
	defer r.eng.Stop()

	// simulate a running priority write
	r.eng.mu.Lock()
	r.eng.writeActive = true
	r.eng.writePriority = true
	r.eng.mu.Unlock()

	o := data.NewOutData("Stim", 1e-4)
	o.ConstWave(0.01, 1.0)
	o.SetLevel(10)
	if err := r.eng.write(data.OutList{o}, false); err == nil {
		t.Fatalf("non-priority write against priority signal succeeded, want Busy")
	}
	if !o.Err.Has(data.Busy) {
		t.Errorf("error bits==%v, want Busy", o.Err)
	}
}

func TestMultiDelayRejected(t *testing.T) {
	r := newRig(t)
	r.start(t)
	defer r.eng.Stop()

	a := data.NewOutData("Stim", 1e-4)
	a.ConstWave(0.01, 1.0)
	a.SetLevel(10)
	b := data.NewOutData("Stim-2", 1e-4)
	b.ConstWave(0.01, 1.0)
	b.SetLevel(10)
	b.Delay = 0.05
	if err := r.eng.WriteList(data.OutList{a, b}); err == nil {
		t.Fatalf("mixed delays accepted, want error")
	}
	if !b.Err.Has(data.MultipleDelays) {
		t.Errorf("error bits==%v, want MultipleDelays", b.Err)
	}
}

// TestRestartOnOverflow forces a device overflow and checks that a
// distinguished restart marker is stamped and no data is lost silently.
func TestRestartOnOverflow(t *testing.T) {
	r := newRig(t)
	r.start(t)
	defer r.eng.Stop()

	r.produce(1000)
	before := r.trace.Size()
	markers := len(r.trace.Restarts())

	r.ai.FailNextRead = true
	r.ai.Produce(10)
	r.eng.ProcessPending()

	if got := len(r.trace.Restarts()); got != markers+1 {
		t.Fatalf("restart markers==%d, want %d", got, markers+1)
	}
	if r.trace.Size() < before {
		t.Errorf("samples lost on overflow: %d < %d", r.trace.Size(), before)
	}
	// acquisition keeps running after the restart
	r.produce(100)
	if r.trace.Size() < before+100 {
		t.Errorf("acquisition did not resume after restart")
	}
}

// TestWriteRestartUnderStartSync checks that a write under StartSync
// re-arms the acquisition with a fresh restart marker.
func TestWriteRestartUnderStartSync(t *testing.T) {
	r := newRig(t)
	r.eng.SetSyncMode(StartSync)
	r.start(t)
	defer r.eng.Stop()
	r.produce(1000)
	markers := len(r.trace.Restarts())

	o := data.NewOutData("Stim", 1e-4)
	o.ConstWave(0.01, 1.0)
	o.SetLevel(10)
	if err := r.eng.Write(o); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := len(r.trace.Restarts()); got != markers+1 {
		t.Errorf("restart markers==%d after StartSync write, want %d", got, markers+1)
	}
}

func TestGainChangeRejectedUnderCounterSync(t *testing.T) {
	r := newRig(t)
	r.eng.SetSyncMode(CounterSync)
	if err := r.eng.SetGainChanged(); err == nil {
		t.Errorf("gain change accepted under CounterSync, want rejection")
	}
	r.eng.SetSyncMode(AISync)
	if err := r.eng.SetGainChanged(); err != nil {
		t.Errorf("gain change rejected under AISync: %v", err)
	}
}

func TestSignalTimeRewindGated(t *testing.T) {
	r := newRig(t)
	r.start(t)
	defer r.eng.Stop()
	r.clock = 2.0

	o := data.NewOutData("Stim", 1e-4)
	o.ConstWave(0.01, 1.0)
	o.SetLevel(10)
	if err := r.eng.Write(o); err != nil {
		t.Fatalf("Write: %v", err)
	}
	st := r.eng.SignalTime()

	r.eng.SetSignalTime(st - 0.5)
	if got := r.eng.SignalTime(); got != st {
		t.Errorf("rewind applied without AllowSignalTimeRewind: %g", got)
	}
	r.eng.AllowSignalTimeRewind = true
	r.eng.SetSignalTime(st - 0.5)
	if got := r.eng.SignalTime(); math.Abs(got-(st-0.5)) > 1e-12 {
		t.Errorf("rewind not applied with AllowSignalTimeRewind: %g", got)
	}
}

// TestDetectorThroughEngine wires a detector into the engine and checks
// events produced by the reader path.
func TestDetectorThroughEngine(t *testing.T) {
	r := newRig(t)
	r.ai.SetWaveform(0, func(tm float64) float64 {
		v := 0.0
		for _, st := range []float64{0.1, 0.2, 0.3} {
			x := (tm - st) / 0.0005
			v += 20.0 * math.Exp(-x*x)
		}
		return v
	})
	events := data.NewEventData("Spikes", 1000, true, true)
	g := pipeline.NewGraph(data.InList{r.trace})
	g.AddDetector(&pipeline.DynamicPeakDetector{
		Name: "spikes", Peaks: true,
		Threshold: 5, MinThresh: 5, MaxThresh: 60, Decay: 10, Ratio: 0.5,
	}, "V-1", events)
	if err := g.Sort(); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	r.eng.SetPipeline(g)

	r.start(t)
	defer r.eng.Stop()
	r.produce(4000)

	if events.Size() != 3 {
		t.Errorf("detected %d events through the engine, want 3", events.Size())
	}
	if got := r.eng.Events("Spikes"); got != events {
		t.Errorf("Events(Spikes) did not resolve")
	}
}
