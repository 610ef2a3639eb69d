package data

import "math"

// EventData is an append-only stream of event times with optional
// per-event size and width.  Like CyclicArray it is indexed by the
// absolute count of events ever pushed, with only the most recent
// capacity() events accessible.
//
// Push enforces monotonic times: an event earlier than the last kept
// event is dropped.
type EventData struct {
	// Ident is the stream name, e.g. "Spikes-1"
	Ident string
	// SizeUnit is the unit of the event sizes, e.g. "mV"
	SizeUnit string
	// SizeFormat is the printf style format for event sizes
	SizeFormat string
	// WidthUnit is the unit of the event widths
	WidthUnit string

	times  []float64
	sizes  []float64
	widths []float64
	size   int

	useSizes  bool
	useWidths bool

	meanSize  float64
	meanWidth float64
	meanRatio float64

	restarts   []RestartMarker
	signalTime float64
	haveSignal bool
}

// NewEventData creates an event stream with room for n events.
func NewEventData(ident string, n int, sizes, widths bool) *EventData {
	if n < 1 {
		n = 1
	}
	e := &EventData{
		Ident:     ident,
		times:     make([]float64, n),
		useSizes:  sizes,
		useWidths: widths,
		meanRatio: 0.03,
	}
	if sizes {
		e.sizes = make([]float64, n)
	}
	if widths {
		e.widths = make([]float64, n)
	}
	return e
}

// Capacity returns the number of events the stream can hold.
func (e *EventData) Capacity() int {
	return len(e.times)
}

// Size returns the total number of events ever accepted.
func (e *EventData) Size() int {
	return e.size
}

// MinIndex returns the index of the oldest accessible event.
func (e *EventData) MinIndex() int {
	m := e.size - len(e.times)
	if m < 0 {
		return 0
	}
	return m
}

// Push appends an event at time t.  Events whose time is earlier than the
// last kept event are dropped.  The return reports whether the event was
// kept.
func (e *EventData) Push(t float64) bool {
	return e.PushEvent(t, 0, 0)
}

// PushEvent appends an event with size and width.  The running mean size
// and width are updated with the configured mean ratio.
func (e *EventData) PushEvent(t, size, width float64) bool {
	if e.size > 0 && t < e.Back() {
		return false
	}
	i := e.size % len(e.times)
	e.times[i] = t
	if e.useSizes {
		e.sizes[i] = size
		e.meanSize += e.meanRatio * (size - e.meanSize)
	}
	if e.useWidths {
		e.widths[i] = width
		e.meanWidth += e.meanRatio * (width - e.meanWidth)
	}
	e.size++
	return true
}

// Time returns the time of event i, or 0 outside the accessible window.
func (e *EventData) Time(i int) float64 {
	if i < e.MinIndex() || i >= e.size {
		return 0
	}
	return e.times[i%len(e.times)]
}

// EventSize returns the size of event i.
func (e *EventData) EventSize(i int) float64 {
	if !e.useSizes || i < e.MinIndex() || i >= e.size {
		return 0
	}
	return e.sizes[i%len(e.times)]
}

// EventWidth returns the width of event i.
func (e *EventData) EventWidth(i int) float64 {
	if !e.useWidths || i < e.MinIndex() || i >= e.size {
		return 0
	}
	return e.widths[i%len(e.times)]
}

// Back returns the time of the most recent event.
func (e *EventData) Back() float64 {
	if e.size == 0 {
		return 0
	}
	return e.Time(e.size - 1)
}

// BackWidth returns the width of the most recent event.
func (e *EventData) BackWidth() float64 {
	if e.size == 0 {
		return 0
	}
	return e.EventWidth(e.size - 1)
}

// Next returns the index of the first accessible event with time >= t.
func (e *EventData) Next(t float64) int {
	lo, hi := e.MinIndex(), e.size
	for lo < hi {
		mid := (lo + hi) / 2
		if e.Time(mid) < t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Count returns the number of events with time in [t0, t1).
func (e *EventData) Count(t0, t1 float64) int {
	return e.Next(t1) - e.Next(t0)
}

// CountSince returns the number of events since time t.
func (e *EventData) CountSince(t float64) int {
	return e.size - e.Next(t)
}

// Rate returns the mean event rate in [t0, t1) in hertz.
func (e *EventData) Rate(t0, t1 float64) float64 {
	if t1 <= t0 {
		return 0
	}
	return float64(e.Count(t0, t1)) / (t1 - t0)
}

// MeanSize returns the running mean event size.
func (e *EventData) MeanSize() float64 {
	return e.meanSize
}

// MeanWidth returns the running mean event width.
func (e *EventData) MeanWidth() float64 {
	return e.meanWidth
}

// MeanRatio returns the update ratio of the running means.
func (e *EventData) MeanRatio() float64 {
	return e.meanRatio
}

// SetMeanRatio sets the update ratio of the running means.  Detectors
// reduce the ratio when few events arrive so the indicator cannot
// oscillate.
func (e *EventData) SetMeanRatio(r float64) {
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	e.meanRatio = r
}

// UpdateMean decays the running means n times towards zero.  Called by
// detectors when an interval passes without events.
func (e *EventData) UpdateMean(n int) {
	for k := 0; k < n; k++ {
		e.meanSize -= e.meanRatio * e.meanSize
		e.meanWidth -= e.meanRatio * e.meanWidth
	}
}

// SetSignal records the time of the last stimulus emission.
func (e *EventData) SetSignal(t float64) {
	e.signalTime = t
	e.haveSignal = true
}

// SignalTime returns the time of the last stimulus emission, or -1.
func (e *EventData) SignalTime() float64 {
	if !e.haveSignal {
		return -1.0
	}
	return e.signalTime
}

// Restart appends a restart marker at the current event index.
func (e *EventData) Restart(wallTime float64) {
	e.restarts = append(e.restarts, RestartMarker{Index: e.size, Time: wallTime})
}

// Restarts returns the recorded restart markers.
func (e *EventData) Restarts() []RestartMarker {
	return e.restarts
}

// AddFrequency accumulates a trial-by-trial firing rate estimate into
// rate.  Events are read relative to offset; bin k of rate counts events
// in [offset+rate.Pos(k), offset+rate.Pos(k+1)); an event at a bin edge
// counts in the upper bin.  The running mean over trials is
//
//	rate[k] += (newrate[k] - rate[k]) / (trial+1)
//
// and trial is incremented afterwards.
func (e *EventData) AddFrequency(rate *SampleData, trial *int, offset float64) {
	// shift the edges down by a tiny fraction of a bin so that rounding
	// cannot move an event sitting on an edge into the lower bin
	eps := 1e-6 * rate.Stepsize
	for k := 0; k < rate.Size(); k++ {
		t0 := offset + rate.Pos(k) - eps
		t1 := offset + rate.Pos(k+1) - eps
		newrate := float64(e.Count(t0, t1)) / rate.Stepsize
		rate.Values[k] += (newrate - rate.Values[k]) / float64(*trial+1)
	}
	*trial++
}

// SizeHist fills h with the histogram of event sizes in [t0, t1).
func (e *EventData) SizeHist(t0, t1 float64, h *SampleData) {
	if !e.useSizes {
		return
	}
	for i := range h.Values {
		h.Values[i] = 0
	}
	for i := e.Next(t0); i < e.Next(t1); i++ {
		k := int(math.Floor((e.EventSize(i) - h.Offset) / h.Stepsize))
		if k >= 0 && k < h.Size() {
			h.Values[k]++
		}
	}
}

// Intervals returns the inter-event intervals of all accessible events in
// [t0, t1).
func (e *EventData) Intervals(t0, t1 float64) []float64 {
	first, last := e.Next(t0), e.Next(t1)
	if last-first < 2 {
		return nil
	}
	out := make([]float64, 0, last-first-1)
	for i := first + 1; i < last; i++ {
		out = append(out, e.Time(i)-e.Time(i-1))
	}
	return out
}
