package repros

import (
	"testing"
	"time"

	"github.com/relacs/relacsd/daqsim"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/engine"
	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/pipeline"
	"github.com/relacs/relacsd/repro"
)

// fixture drives the simulated rig while protocols run.
type fixture struct {
	eng    *engine.Engine
	rt     *repro.Runtime
	ai     *daqsim.AnalogInput
	trace  *data.InData
	events *data.EventData
	stop   chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	f.eng = engine.New()
	f.eng.Printlog = t.Logf
	f.eng.SetSyncMode(engine.AISync)

	f.ai = daqsim.NewAnalogInput()
	f.ai.Open("sim0", nil)
	ao := daqsim.NewAnalogOutput()
	ao.Open("sim0", nil)
	att := daqsim.NewAttenuator()
	att.Open("sim0", nil)

	f.eng.AddAnalogInput(f.ai)
	f.eng.AddAnalogOutput(ao)
	f.eng.AddAttenuator(att)
	f.eng.SetOutTraces([]data.TraceSpec{
		{Name: "Stim", Device: 0, Channel: 0, Unit: "V", MaxVoltage: 10},
	})

	f.trace = data.NewInData("V-1", 2.0, 1e-3)
	f.trace.Channel = 0
	f.trace.GainIndex = 0
	f.trace.Scale = 1.0

	f.events = data.NewEventData("Spikes", 10000, true, true)
	g := pipeline.NewGraph(data.InList{f.trace})
	g.AddDetector(&pipeline.DynamicPeakDetector{
		Name: "spikes", Peaks: true,
		Threshold: 5, MinThresh: 5, MaxThresh: 60, Decay: 10, Ratio: 0.5,
	}, "V-1", f.events)
	if err := g.Sort(); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	f.eng.SetPipeline(g)

	if err := f.eng.Read(data.InList{f.trace}); err != nil {
		t.Fatalf("Read: %v", err)
	}

	// pace the simulated acquisition in real time
	f.stop = make(chan struct{})
	go func() {
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-tick.C:
				f.ai.Produce(5)
			}
		}
	}()

	f.rt = repro.NewRuntime(f.eng)
	f.rt.Printlog = t.Logf
	return f
}

func (f *fixture) close() {
	close(f.stop)
	f.eng.Stop()
}

func TestBaselineMeasures(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	f.ai.SetWaveform(0, func(tm float64) float64 { return 1.5 })

	b := NewBaseline()
	f.rt.Add(b)
	if err := f.rt.Start("Baseline", options.Parse("duration=0.05s"), false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if oc := f.rt.Wait(); oc != repro.Completed {
		t.Fatalf("outcome==%v, want Completed", repro.FormatOutcome(oc))
	}
	if b.TraceMean < 1.4 || b.TraceMean > 1.6 {
		t.Errorf("TraceMean==%g, want about 1.5", b.TraceMean)
	}
}

func TestFICurveSweeps(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	fi := NewFICurve()
	f.rt.Add(fi)
	opts := options.Parse("intmin=30dB; intmax=50dB; intstep=10dB; duration=0.01s; pause=0.01s; repeats=1")
	if err := f.rt.Start("FICurve", opts, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if oc := f.rt.Wait(); oc != repro.Completed {
		t.Fatalf("outcome==%v, want Completed", repro.FormatOutcome(oc))
	}
	// three intensities, one repeat each
	if len(fi.Trials) != 3 {
		t.Errorf("visited %d intensities, want 3", len(fi.Trials))
	}
	for pos, n := range fi.Trials {
		if n != 1 {
			t.Errorf("intensity index %d ran %d trials, want 1", pos, n)
		}
	}
}
