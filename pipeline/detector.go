package pipeline

import (
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/util"
)

// DynamicPeakDetector detects peaks (or troughs) with a dynamic
// threshold.  The threshold decays towards MinThresh with time constant
// Decay while no events occur, and is pulled to Ratio times the size of
// each accepted event, so it follows slow changes of the event amplitude.
//
// An extremum becomes a candidate once the trace has moved away from it
// by more than the current threshold; the candidate is accepted after
// its flanks are found and the width and interval tests pass.  Pending
// candidates are kept across Detect calls, so block boundaries do not
// lose events.
type DynamicPeakDetector struct {
	// Name identifies the detector in the pipeline
	Name string
	// Peaks selects peak detection; false detects troughs
	Peaks bool
	// Threshold is the current detection threshold
	Threshold float64
	// MinThresh is the floor the threshold decays towards
	MinThresh float64
	// MaxThresh caps the threshold
	MaxThresh float64
	// Decay is the threshold decay time constant in seconds
	Decay float64
	// Ratio maps an accepted event size onto the new threshold
	Ratio float64
	// TestWidth rejects events wider than MaxWidth at half height
	TestWidth bool
	// MaxWidth is the maximum half-height width in seconds
	MaxWidth float64
	// TestInterval rejects events closer than MinInterval to their
	// predecessor
	TestInterval bool
	// MinInterval is the minimum inter-event interval in seconds
	MinInterval float64
	// SubSample refines the event time with a parabola through the
	// extremum and its neighbours
	SubSample bool

	// scanning state
	dir        int // +1 climbing, -1 falling, 0 unknown
	extremeIdx int
	extremeVal float64
	primed     bool
}

// Ident returns the detector name.
func (p *DynamicPeakDetector) Ident() string {
	return p.Name
}

// Reset discards the scanning state; called on restart markers.
func (p *DynamicPeakDetector) Reset() {
	p.dir = 0
	p.primed = false
	p.extremeIdx = 0
	p.extremeVal = 0
}

// sign folds trough detection onto peak detection.
func (p *DynamicPeakDetector) sign() float64 {
	if p.Peaks {
		return 1.0
	}
	return -1.0
}

// Detect scans input samples [from, to) and pushes accepted events.
func (p *DynamicPeakDetector) Detect(in *data.InData, out *data.EventData, from, to int) error {
	s := p.sign()
	for i := from; i < to; i++ {
		v := s * in.At(i)

		// decay the threshold towards its floor
		if p.Decay > 0 && p.Threshold > p.MinThresh {
			p.Threshold -= (p.Threshold - p.MinThresh) * in.Stepsize / p.Decay
			if p.Threshold < p.MinThresh {
				p.Threshold = p.MinThresh
			}
		}

		if !p.primed {
			p.extremeIdx = i
			p.extremeVal = v
			p.primed = true
			continue
		}

		switch {
		case p.dir >= 0:
			if v > p.extremeVal {
				p.extremeIdx = i
				p.extremeVal = v
			} else if p.extremeVal-v >= p.Threshold {
				// the trace fell away from the maximum by more
				// than the threshold: accept the peak
				p.acceptEvent(in, out, p.extremeIdx, i)
				p.dir = -1
				p.extremeIdx = i
				p.extremeVal = v
			}
		default:
			if v < p.extremeVal {
				p.extremeIdx = i
				p.extremeVal = v
			} else if v-p.extremeVal >= p.Threshold {
				// climbing again; arm for the next peak
				p.dir = 1
				p.extremeIdx = i
				p.extremeVal = v
			}
		}
	}
	return nil
}

// acceptEvent runs the flank search and quality tests on the peak at
// index peak, confirmed at index conf, and pushes it if it passes.
func (p *DynamicPeakDetector) acceptEvent(in *data.InData, out *data.EventData, peak, conf int) {
	s := p.sign()
	peakVal := s * in.At(peak)
	maxSteps := 0
	if p.MaxWidth > 0 {
		maxSteps = int(3.0 * p.MaxWidth / in.Stepsize)
	}

	// walk down the left flank
	left := peak
	for left > in.MinIndex() {
		if s*in.At(left-1) >= s*in.At(left) {
			break
		}
		left--
		if maxSteps > 0 && peak-left > maxSteps {
			break
		}
	}
	// walk down the right flank
	right := peak
	for right < conf {
		if s*in.At(right+1) >= s*in.At(right) {
			break
		}
		right++
		if maxSteps > 0 && right-peak > maxSteps {
			break
		}
	}

	base1 := s * in.At(left)
	base2 := s * in.At(right)
	base := base1
	if base2 < base {
		base = base2
	}
	size := peakVal - base

	// width at half height
	half := peakVal - 0.5*size
	li := peak
	for li > left && s*in.At(li) > half {
		li--
	}
	ri := peak
	for ri < right && s*in.At(ri) > half {
		ri++
	}
	width := float64(ri-li) * in.Stepsize
	if p.TestWidth && p.MaxWidth > 0 && width > p.MaxWidth {
		return
	}

	t := in.Pos(peak)
	if p.SubSample && in.Accessible(peak-1) && in.Accessible(peak+1) {
		// parabola through the three samples around the extremum
		y0 := s * in.At(peak-1)
		y1 := peakVal
		y2 := s * in.At(peak+1)
		denom := y0 - 2.0*y1 + y2
		if denom < 0 {
			dt := 0.5 * (y0 - y2) / denom
			if dt > -1 && dt < 1 {
				t += dt * in.Stepsize
				size = y1 - 0.25*(y0-y2)*dt - base
			}
		}
	}

	if p.TestInterval && out.Size() > 0 && t-out.Back() < p.MinInterval {
		return
	}

	if !out.PushEvent(t, size, width) {
		return
	}

	// follow the event amplitude
	if p.MaxThresh > 0 {
		p.Threshold = util.Clamp(p.Ratio*size, p.MinThresh, p.MaxThresh)
	} else if p.Threshold = p.Ratio * size; p.Threshold < p.MinThresh {
		p.Threshold = p.MinThresh
	}
}
