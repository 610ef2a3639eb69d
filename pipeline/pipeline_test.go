package pipeline

import (
	"math"
	"testing"

	"github.com/relacs/relacsd/data"
)

// spikeTrace builds a trace with gaussian-ish bumps of the given
// amplitude at the given times.
func spikeTrace(duration, stepsize float64, times []float64, ampl float64) *data.InData {
	d := data.NewInData("V-1", duration, stepsize)
	d.Restart(0.0)
	n := int(duration / stepsize)
	for i := 0; i < n; i++ {
		t := float64(i) * stepsize
		v := 0.0
		for _, st := range times {
			x := (t - st) / 0.0005
			v += ampl * math.Exp(-x*x)
		}
		d.Push(v)
	}
	return d
}

func newDetector() *DynamicPeakDetector {
	return &DynamicPeakDetector{
		Name:      "spikes",
		Peaks:     true,
		Threshold: 5.0,
		MinThresh: 5.0,
		MaxThresh: 60.0,
		Decay:     10.0,
		Ratio:     0.5,
	}
}

func TestDetectPeaks(t *testing.T) {
	times := []float64{0.1, 0.25, 0.4, 0.7}
	in := spikeTrace(1.0, 1e-4, times, 20.0)
	out := data.NewEventData("Spikes", 1000, true, true)
	det := newDetector()
	if err := det.Detect(in, out, 0, in.Size()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if out.Size() != len(times) {
		t.Fatalf("detected %d events, want %d", out.Size(), len(times))
	}
	for i, want := range times {
		if got := out.Time(i); math.Abs(got-want) > 1e-3 {
			t.Errorf("event %d at %g, want %g", i, got, want)
		}
	}
}

// TestDetectIdempotent reruns the detector over the same window through
// the graph; the second run must not emit any additional event.
func TestDetectIdempotent(t *testing.T) {
	in := spikeTrace(1.0, 1e-4, []float64{0.2, 0.5, 0.8}, 20.0)
	out := data.NewEventData("Spikes", 1000, true, true)
	g := NewGraph(data.InList{in})
	g.AddDetector(newDetector(), "V-1", out)
	if err := g.Sort(); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if err := g.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	n := out.Size()
	if n != 3 {
		t.Fatalf("first pass detected %d events, want 3", n)
	}
	if err := g.Process(); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if out.Size() != n {
		t.Errorf("second pass added %d events, want 0", out.Size()-n)
	}
}

// TestDetectorRestart pushes data, injects a restart, pushes more, and
// requires that no event straddles the restart index.
func TestDetectorRestart(t *testing.T) {
	step := 1e-4
	in := data.NewInData("V-1", 2.0, step)
	in.Restart(0.0)
	out := data.NewEventData("Spikes", 1000, true, true)
	g := NewGraph(data.InList{in})
	g.AddDetector(newDetector(), "V-1", out)
	if err := g.Sort(); err != nil {
		t.Fatalf("Sort: %v", err)
	}

	// first second: a half-risen bump right at the end, cut by restart
	n := int(0.5 / step)
	for i := 0; i < n; i++ {
		t0 := float64(i) * step
		v := 0.0
		if t0 > 0.4999-0.0005 {
			// rising flank into the cut
			v = 20.0 * (t0 - (0.4999 - 0.0005)) / 0.0005
		}
		in.Push(v)
	}
	if err := g.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	markerIndex := in.Size()
	g.Restart(0.5)
	in.Restart(0.5)

	// second half second: the trace falls back from high values; without
	// the reset this would look like a completed peak
	for i := 0; i < n; i++ {
		t0 := float64(i) * step
		v := 20.0 * math.Exp(-t0/0.0005)
		in.Push(v)
	}
	if err := g.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}

	for i := 0; i < out.Size(); i++ {
		idx := in.Index(out.Time(i))
		if idx < markerIndex && out.Time(i) > 0.49 {
			t.Errorf("event %d at t=%g straddles the restart", i, out.Time(i))
		}
	}
	if len(out.Restarts()) != 1 {
		t.Errorf("event stream has %d restart markers, want 1", len(out.Restarts()))
	}
}

func TestIntervalRejection(t *testing.T) {
	in := spikeTrace(1.0, 1e-4, []float64{0.1, 0.102, 0.5}, 20.0)
	out := data.NewEventData("Spikes", 1000, true, true)
	det := newDetector()
	det.TestInterval = true
	det.MinInterval = 0.01
	if err := det.Detect(in, out, 0, in.Size()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if out.Size() != 2 {
		t.Errorf("detected %d events with interval rejection, want 2", out.Size())
	}
}

func TestThresholdFollowsSize(t *testing.T) {
	in := spikeTrace(1.0, 1e-4, []float64{0.2}, 30.0)
	out := data.NewEventData("Spikes", 1000, true, true)
	det := newDetector()
	if err := det.Detect(in, out, 0, in.Size()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if out.Size() != 1 {
		t.Fatalf("detected %d events, want 1", out.Size())
	}
	// ratio 0.5 of a ~30 amplitude event
	if det.Threshold < 10.0 || det.Threshold > 16.0 {
		t.Errorf("threshold after event==%g, want about 15", det.Threshold)
	}
}

func TestMeanFilterGraph(t *testing.T) {
	in := data.NewInData("V-1", 1.0, 1e-3)
	in.Restart(0.0)
	out := data.NewInData("V-lp", 1.0, 1e-3)
	out.Restart(0.0)
	g := NewGraph(data.InList{in})
	g.AddFilter(&MeanFilter{Name: "lowpass", Tau: 0.01}, "V-1", out)
	if err := g.Sort(); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	for i := 0; i < 500; i++ {
		in.Push(1.0)
	}
	if err := g.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Size() != in.Size() {
		t.Fatalf("derived size==%d, want %d", out.Size(), in.Size())
	}
	if v := out.At(out.Size() - 1); math.Abs(v-1.0) > 1e-6 {
		t.Errorf("settled filter output==%g, want 1", v)
	}
	if out.RawSource {
		t.Errorf("derived trace flagged as raw source")
	}
}

func TestGraphSortOrdersChain(t *testing.T) {
	in := data.NewInData("V-1", 1.0, 1e-3)
	in.Restart(0.0)
	lp := data.NewInData("V-lp", 1.0, 1e-3)
	spikes := data.NewEventData("Spikes", 100, true, true)
	gated := data.NewEventData("Gated", 100, true, true)

	g := NewGraph(data.InList{in})
	// deliberately added in reverse dependency order
	g.AddEventFilter(&IntervalGate{Name: "gate", MinInterval: 0.01}, "Spikes", gated)
	g.AddDetector(newDetector(), "V-lp", spikes)
	g.AddFilter(&MeanFilter{Name: "lowpass", Tau: 0.001}, "V-1", lp)
	if err := g.Sort(); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	for i := 0; i < 100; i++ {
		in.Push(0)
	}
	if err := g.Process(); err != nil {
		t.Fatalf("Process after sort: %v", err)
	}
	if lp.Size() != 100 {
		t.Errorf("chained filter consumed %d samples, want 100", lp.Size())
	}
}

func TestGraphCycleDetected(t *testing.T) {
	in := data.NewInData("V-1", 1.0, 1e-3)
	a := data.NewInData("A", 1.0, 1e-3)
	b := data.NewInData("B", 1.0, 1e-3)
	g := NewGraph(data.InList{in})
	g.AddFilter(&MeanFilter{Name: "fa", Tau: 0.01}, "B", a)
	g.AddFilter(&MeanFilter{Name: "fb", Tau: 0.01}, "A", b)
	if err := g.Sort(); err == nil {
		t.Errorf("Sort accepted a cyclic graph, want error")
	}
}
