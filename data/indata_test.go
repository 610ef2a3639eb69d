package data

import (
	"math"
	"testing"
)

// TestSingleChannelAcquisition pushes a deterministic block into a trace
// configured like a 10 kHz channel with 0.5 s capacity and checks size,
// indexing, timing and windowed statistics.
func TestSingleChannelAcquisition(t *testing.T) {
	d := NewInData("V-1", 0.5, 1e-4)
	d.Restart(0.0)

	block := make([]float64, 5000)
	sum := 0.0
	for i := range block {
		block[i] = math.Sin(2.0 * math.Pi * float64(i) / 100.0)
		sum += block[i]
	}
	want := sum / float64(len(block))
	d.PushSlice(block)

	if d.Size() != 5000 {
		t.Errorf("Size()==%d, want 5000", d.Size())
	}
	if d.MinIndex() != 0 {
		t.Errorf("MinIndex()==%d, want 0", d.MinIndex())
	}
	if got := d.Pos(5000); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Pos(5000)==%g, want 0.5", got)
	}
	if got := d.Mean(0.0, 0.5); math.Abs(got-want) > 1e-9 {
		t.Errorf("Mean(0, 0.5)==%g, want %g", got, want)
	}
}

func TestMinIndexAfterWrap(t *testing.T) {
	d := NewInData("V-1", 0.1, 1e-3) // capacity 100
	for i := 0; i < 250; i++ {
		d.Push(float64(i))
	}
	if d.Size() != 250 {
		t.Errorf("Size()==%d, want 250", d.Size())
	}
	if d.MinIndex() != 150 {
		t.Errorf("MinIndex()==%d, want 150", d.MinIndex())
	}
	if v := d.At(149); v != 0 {
		t.Errorf("At(149)==%g below MinIndex, want 0", v)
	}
	if v := d.At(200); v != 200 {
		t.Errorf("At(200)==%g, want 200", v)
	}
}

// TestSignalIndexInvariant checks minIndex <= signalIndex <= size at all
// times while pushing and marking signals.
func TestSignalIndexInvariant(t *testing.T) {
	d := NewInData("V-1", 0.05, 1e-3) // capacity 50
	d.Restart(0.0)
	for i := 0; i < 200; i++ {
		d.Push(float64(i))
		if i%37 == 0 {
			d.SetSignal(d.CurrentTime(), d.Size())
		}
		if d.SignalIndex() > d.Size() {
			t.Fatalf("SignalIndex()==%d > Size()==%d", d.SignalIndex(), d.Size())
		}
		if d.SignalIndex() < d.MinIndex() {
			t.Fatalf("SignalIndex()==%d < MinIndex()==%d", d.SignalIndex(), d.MinIndex())
		}
	}
}

// TestRestartTiming verifies that the first sample pushed after a restart
// has the marker's wall-clock time within one sample interval.
func TestRestartTiming(t *testing.T) {
	d := NewInData("V-1", 1.0, 1e-4)
	d.Restart(0.0)
	for i := 0; i < 5000; i++ {
		d.Push(0)
	}
	// the clock is re-armed 0.2 s later than the sample count suggests
	wall := 0.7
	d.Restart(wall)
	first := d.Size()
	d.Push(1.0)
	if got := d.Pos(first); math.Abs(got-wall) > d.Stepsize {
		t.Errorf("Pos(first after restart)==%g, want %g within %g", got, wall, d.Stepsize)
	}
	// samples before the marker still use the old origin
	if got := d.Pos(first - 1); math.Abs(got-0.4999) > 1e-9 {
		t.Errorf("Pos(last before restart)==%g, want 0.4999", got)
	}
}

func TestIndexRoundTrip(t *testing.T) {
	d := NewInData("V-1", 1.0, 1e-4)
	d.Restart(0.0)
	for i := 0; i < 3000; i++ {
		d.Push(0)
	}
	d.Restart(0.5)
	for i := 0; i < 3000; i++ {
		d.Push(0)
	}
	for _, i := range []int{0, 1500, 3000, 4500, 5999} {
		if got := d.Index(d.Pos(i)); got != i {
			t.Errorf("Index(Pos(%d))==%d, want %d", i, got, i)
		}
	}
}

func TestStatsClampToMinIndex(t *testing.T) {
	d := NewInData("V-1", 0.01, 1e-3) // capacity 10
	d.Restart(0.0)
	for i := 0; i < 30; i++ {
		d.Push(2.0)
	}
	// window starts far below the accessible range; must clamp, not fail
	if got := d.Mean(0.0, d.CurrentTime()); math.Abs(got-2.0) > 1e-12 {
		t.Errorf("Mean over clamped window==%g, want 2", got)
	}
	if got := d.MaxValue(0.0, d.CurrentTime()); got != 2.0 {
		t.Errorf("MaxValue==%g, want 2", got)
	}
}

func TestHist(t *testing.T) {
	d := NewInData("V-1", 1.0, 1e-3)
	d.Restart(0.0)
	for i := 0; i < 100; i++ {
		d.Push(float64(i % 10))
	}
	h := NewSampleData(0.0, 10.0, 1.0)
	d.Hist(h, 0.0, d.CurrentTime())
	for k := 0; k < 10; k++ {
		if h.Values[k] != 10 {
			t.Errorf("hist bin %d==%g, want 10", k, h.Values[k])
		}
	}
}
