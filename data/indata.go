package data

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Reference is the analog input reference mode of a channel.
type Reference int

const (
	// RefCommon references the channel against analog common
	RefCommon Reference = iota
	// RefDifferential references the channel against its paired input
	RefDifferential
	// RefGround references the channel against analog ground
	RefGround
	// RefOther is a device-specific reference mode
	RefOther
)

// ValidateReference parses a reference mode name.
func ValidateReference(s string) (Reference, error) {
	switch s {
	case "common":
		return RefCommon, nil
	case "differential":
		return RefDifferential, nil
	case "ground":
		return RefGround, nil
	case "other":
		return RefOther, nil
	default:
		return -1, fmt.Errorf("reference mode must be a member of {common, differential, ground, other}")
	}
}

// FormatReference converts a reference mode to its name.
func FormatReference(r Reference) string {
	switch r {
	case RefCommon:
		return "common"
	case RefDifferential:
		return "differential"
	case RefGround:
		return "ground"
	case RefOther:
		return "other"
	default:
		return ""
	}
}

// RestartMarker records where the acquisition clock was re-armed: the
// absolute sample index at which the new arming begins and the wall-clock
// time of that sample.
type RestartMarker struct {
	Index int
	Time  float64
}

// InData is a single input trace: a cyclic buffer of engineering-unit
// values at a fixed sample interval, together with everything needed to
// map samples to volts, channels, and time.
//
// Time is derived from the sample count and the restart markers, never
// from a system clock; the wall-clock enters only through the markers
// themselves and through the signal time set after a stimulus is emitted.
type InData struct {
	*CyclicArray

	// Ident is the trace name, e.g. "V-1"
	Ident string
	// Unit is the engineering unit of the stored values, e.g. "mV"
	Unit string
	// Stepsize is the sample interval in seconds
	Stepsize float64
	// Channel is the channel number on the device
	Channel int
	// Device is the index of the input device
	Device int
	// GainIndex selects the device gain / input range
	GainIndex int
	// MaxVoltage is the upper end of the selected input range in volt
	MaxVoltage float64
	// MinVoltage is the lower end of the selected input range in volt
	MinVoltage float64
	// Scale converts volt to the engineering unit
	Scale float64
	// Reference is the input reference mode
	Reference Reference
	// RawSource is true for traces sampled from hardware, false for
	// traces derived by a filter
	RawSource bool
	// Priority requests that this trace survives output restarts
	Priority bool
	// Continuous selects unbounded acquisition
	Continuous bool

	// Err accumulates validation and acquisition errors
	Err DataError
	// ErrStr carries the device's human-readable error description
	ErrStr string

	restarts    []RestartMarker
	signalIndex int
	signalTime  float64
}

// NewInData creates a trace holding duration seconds sampled at 1/stepsize.
func NewInData(ident string, duration, stepsize float64) *InData {
	n := int(math.Ceil(duration / stepsize))
	return &InData{
		CyclicArray: NewCyclicArray(n),
		Ident:       ident,
		Stepsize:    stepsize,
		Scale:       1.0,
		GainIndex:   -1,
		signalIndex: -1,
	}
}

// SampleRate returns the sampling rate in hertz.
func (d *InData) SampleRate() float64 {
	return 1.0 / d.Stepsize
}

// SetSampleRate sets the sampling rate in hertz.
func (d *InData) SetSampleRate(rate float64) {
	d.Stepsize = 1.0 / rate
}

// AddError sets error bits on the trace.
func (d *InData) AddError(e DataError) {
	d.Err |= e
}

// AddErrorStr sets error bits together with a device supplied description.
func (d *InData) AddErrorStr(e DataError, s string) {
	d.Err |= e
	if d.ErrStr == "" {
		d.ErrStr = s
	} else {
		d.ErrStr += "; " + s
	}
}

// ClearError resets the error state.
func (d *InData) ClearError() {
	d.Err = 0
	d.ErrStr = ""
}

// Restart appends a restart marker at the current sample index with the
// given wall-clock time.  All time queries for samples at or after the
// marker use the marker as their origin.
func (d *InData) Restart(wallTime float64) {
	d.restarts = append(d.restarts, RestartMarker{Index: d.Size(), Time: wallTime})
}

// Restarts returns the recorded restart markers.
func (d *InData) Restarts() []RestartMarker {
	return d.restarts
}

// restartAt returns the last marker at or before index i.
func (d *InData) restartAt(i int) RestartMarker {
	m := RestartMarker{}
	for _, r := range d.restarts {
		if r.Index <= i {
			m = r
		} else {
			break
		}
	}
	return m
}

// Pos returns the time of sample i, corrected by the nearest preceding
// restart marker.
func (d *InData) Pos(i int) float64 {
	m := d.restartAt(i)
	return m.Time + float64(i-m.Index)*d.Stepsize
}

// Index returns the sample index of time t using the restart-aware
// mapping.  The result may lie outside the accessible window.
func (d *InData) Index(t float64) int {
	// walk the markers backwards; the last marker whose time is not
	// after t defines the origin
	m := RestartMarker{}
	for k := len(d.restarts) - 1; k >= 0; k-- {
		if d.restarts[k].Time <= t {
			m = d.restarts[k]
			break
		}
	}
	return m.Index + int(math.Floor((t-m.Time)/d.Stepsize+1e-6))
}

// CurrentTime returns the time of the next sample to be pushed.
func (d *InData) CurrentTime() float64 {
	return d.Pos(d.Size())
}

// MinTime returns the time of the oldest accessible sample.
func (d *InData) MinTime() float64 {
	return d.Pos(d.MinIndex())
}

// SetSignal records the emission of a stimulus at wall-clock time t and
// sample index i.
func (d *InData) SetSignal(t float64, i int) {
	d.signalTime = t
	d.signalIndex = i
}

// SignalTime returns the wall-clock of the last stimulus emission, or -1
// if no stimulus was emitted yet.
func (d *InData) SignalTime() float64 {
	if d.signalIndex < 0 {
		return -1.0
	}
	return d.signalTime
}

// SignalIndex returns the sample index of the last stimulus emission,
// never less than MinIndex: once that sample has been overwritten, or
// while no stimulus was emitted yet, it returns MinIndex.
func (d *InData) SignalIndex() int {
	if d.signalIndex < d.MinIndex() {
		return d.MinIndex()
	}
	return d.signalIndex
}

// indexWindow resolves a time window to a clamped index window.
func (d *InData) indexWindow(from, upto float64) (int, int) {
	i0 := d.Index(from)
	i1 := d.Index(upto)
	if i0 < d.MinIndex() {
		i0 = d.MinIndex()
	}
	if i1 > d.Size() {
		i1 = d.Size()
	}
	return i0, i1
}

// Mean returns the mean value in the time window [from, upto).
func (d *InData) Mean(from, upto float64) float64 {
	w := d.window(d.indexWindow(from, upto))
	if len(w) == 0 {
		return 0
	}
	return stat.Mean(w, nil)
}

// Variance returns the sample variance in the time window [from, upto).
func (d *InData) Variance(from, upto float64) float64 {
	w := d.window(d.indexWindow(from, upto))
	if len(w) < 2 {
		return 0
	}
	return stat.Variance(w, nil)
}

// Stdev returns the standard deviation in the time window [from, upto).
func (d *InData) Stdev(from, upto float64) float64 {
	return math.Sqrt(d.Variance(from, upto))
}

// RMS returns the root mean square in the time window [from, upto).
func (d *InData) RMS(from, upto float64) float64 {
	w := d.window(d.indexWindow(from, upto))
	if len(w) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(w)))
}

// MinValue returns the smallest sample in the time window [from, upto).
func (d *InData) MinValue(from, upto float64) float64 {
	i0, i1 := d.indexWindow(from, upto)
	return d.Min(i0, i1)
}

// MaxValue returns the largest sample in the time window [from, upto).
func (d *InData) MaxValue(from, upto float64) float64 {
	i0, i1 := d.indexWindow(from, upto)
	return d.Max(i0, i1)
}

// Hist fills h with the histogram of all samples in the time window
// [from, upto).  h's range defines the bins; samples outside are dropped.
func (d *InData) Hist(h *SampleData, from, upto float64) {
	w := d.window(d.indexWindow(from, upto))
	dividers := make([]float64, h.Size()+1)
	for i := range dividers {
		dividers[i] = h.Offset + float64(i)*h.Stepsize
	}
	for i := range h.Values {
		h.Values[i] = 0
	}
	inRange := w[:0:0]
	for _, v := range w {
		if v >= dividers[0] && v < dividers[len(dividers)-1] {
			inRange = append(inRange, v)
		}
	}
	if len(inRange) == 0 {
		return
	}
	sorted := append([]float64(nil), inRange...)
	sort.Float64s(sorted)
	stat.Histogram(h.Values, dividers, sorted, nil)
}

// MeanTo fills out with sliding-window means of width seconds computed at
// the positions time + out.Pos(i).
func (d *InData) MeanTo(time float64, out *SampleData, width float64) {
	if width <= 0 {
		width = out.Stepsize
	}
	for i := 0; i < out.Size(); i++ {
		t0 := time + out.Pos(i)
		out.Values[i] = d.Mean(t0, t0+width)
	}
}
