package pipeline

import (
	"math"

	"github.com/relacs/relacsd/data"
)

// MeanFilter is a running-average trace filter with an exponential
// kernel of the given time constant.
type MeanFilter struct {
	// Name identifies the filter in the pipeline
	Name string
	// Tau is the averaging time constant in seconds
	Tau float64

	state  float64
	primed bool
}

// Ident returns the filter name.
func (m *MeanFilter) Ident() string {
	return m.Name
}

// Reset discards the averaging state; called on restart markers.
func (m *MeanFilter) Reset() {
	m.primed = false
	m.state = 0
}

// Process averages input samples [from, to) into the output trace.
func (m *MeanFilter) Process(in *data.InData, out *data.InData, from, to int) error {
	fac := 1.0
	if m.Tau > 0 {
		fac = 1.0 - math.Exp(-in.Stepsize/m.Tau)
	}
	for i := from; i < to; i++ {
		v := in.At(i)
		if !m.primed {
			m.state = v
			m.primed = true
		} else {
			m.state += fac * (v - m.state)
		}
		out.Push(m.state)
	}
	return nil
}

// DiffFilter is a first-difference trace filter, the discrete derivative
// scaled to units per second.
type DiffFilter struct {
	// Name identifies the filter in the pipeline
	Name string

	prev   float64
	primed bool
}

// Ident returns the filter name.
func (d *DiffFilter) Ident() string {
	return d.Name
}

// Reset discards the previous sample; called on restart markers.
func (d *DiffFilter) Reset() {
	d.primed = false
	d.prev = 0
}

// Process differentiates input samples [from, to) into the output trace.
func (d *DiffFilter) Process(in *data.InData, out *data.InData, from, to int) error {
	for i := from; i < to; i++ {
		v := in.At(i)
		if !d.primed {
			d.prev = v
			d.primed = true
			out.Push(0)
			continue
		}
		out.Push((v - d.prev) / in.Stepsize)
		d.prev = v
	}
	return nil
}

// IntervalGate is an event filter that drops events following their
// predecessor closer than MinInterval.
type IntervalGate struct {
	// Name identifies the filter in the pipeline
	Name string
	// MinInterval is the minimum accepted inter-event interval, seconds
	MinInterval float64

	lastTime float64
	primed   bool
}

// Ident returns the filter name.
func (g *IntervalGate) Ident() string {
	return g.Name
}

// Reset discards the interval state; called on restart markers.
func (g *IntervalGate) Reset() {
	g.primed = false
	g.lastTime = 0
}

// FilterEvents copies accepted events [from, to) into the output stream.
func (g *IntervalGate) FilterEvents(in *data.EventData, out *data.EventData, from, to int) error {
	for i := from; i < to; i++ {
		t := in.Time(i)
		if g.primed && t-g.lastTime < g.MinInterval {
			continue
		}
		out.PushEvent(t, in.EventSize(i), in.EventWidth(i))
		g.lastTime = t
		g.primed = true
	}
	return nil
}
