package repros

import (
	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/repro"
)

// Baseline records spontaneous activity without stimulation and reports
// the mean rate and trace statistics.
type Baseline struct {
	// Trace is the voltage trace to characterise
	Trace string
	// EventStream is the spike stream to count
	EventStream string

	// MeanRate is the measured event rate in hertz
	MeanRate float64
	// TraceMean is the measured trace mean
	TraceMean float64
	// TraceStdev is the measured trace standard deviation
	TraceStdev float64
}

// NewBaseline creates the protocol with its default wiring.
func NewBaseline() *Baseline {
	return &Baseline{Trace: "V-1", EventStream: "Spikes"}
}

// Name identifies the protocol.
func (b *Baseline) Name() string {
	return "Baseline"
}

// Options returns the protocol defaults.
func (b *Baseline) Options() *options.Options {
	return options.Parse("duration=1s")
}

// Main waits for the requested duration and measures.
func (b *Baseline) Main(ctx *repro.Context) repro.Outcome {
	duration, _ := ctx.Opts.Number("duration", 1.0)

	trace := ctx.Trace(b.Trace)
	if trace == nil {
		ctx.Printlog("Baseline: no trace %q", b.Trace)
		return repro.Failed
	}

	ctx.Eng.LockTraces()
	start := trace.CurrentTime()
	ctx.Eng.UnlockTraces()

	if err := ctx.Sleep(duration); err != nil {
		return repro.Aborted
	}

	ctx.Eng.LockTraces()
	defer ctx.Eng.UnlockTraces()
	end := trace.CurrentTime()
	b.TraceMean = trace.Mean(start, end)
	b.TraceStdev = trace.Stdev(start, end)
	if events := ctx.Events(b.EventStream); events != nil {
		b.MeanRate = events.Rate(start, end)
	}
	ctx.StimulusData.SetNumber("baseline-rate", b.MeanRate, "Hz")
	return repro.Completed
}
