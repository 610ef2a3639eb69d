// Package repros provides the built-in research protocols: a baseline
// activity recorder and an f-I curve measurement.  They double as the
// reference for how protocols read traces, sweep parameters and emit
// stimuli.
package repros

import (
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/rangeloop"
	"github.com/relacs/relacsd/repro"
)

// FICurve measures an intensity-response curve: it sweeps the stimulus
// intensity with a RangeLoop, plays a carrier tone at each intensity,
// and accumulates the evoked firing rate trial by trial.
type FICurve struct {
	// OutTrace is the output trace the stimulus is written to
	OutTrace string
	// EventStream is the spike stream the response is read from
	EventStream string

	// Rates holds the accumulated rate per visited intensity index
	Rates map[int]*data.SampleData
	// Trials counts the trials per visited intensity index
	Trials map[int]int
}

// NewFICurve creates the protocol with its default wiring.
func NewFICurve() *FICurve {
	return &FICurve{OutTrace: "Stim", EventStream: "Spikes"}
}

// Name identifies the protocol.
func (f *FICurve) Name() string {
	return "FICurve"
}

// Options returns the protocol defaults.
func (f *FICurve) Options() *options.Options {
	return options.Parse(
		"intmin=30dB; intmax=90dB; intstep=10dB; carrier=5000Hz; " +
			"duration=0.4s; pause=0.4s; repeats=2; sequence=alternateoutup")
}

// Init resets the accumulators.
func (f *FICurve) Init(ctx *repro.Context) error {
	f.Rates = map[int]*data.SampleData{}
	f.Trials = map[int]int{}
	return nil
}

// Main sweeps the intensity range.
func (f *FICurve) Main(ctx *repro.Context) repro.Outcome {
	carrier, _ := ctx.Opts.Number("carrier", 5000)
	duration, _ := ctx.Opts.Number("duration", 0.4)
	pause, _ := ctx.Opts.Number("pause", 0.4)
	repeats := ctx.Opts.Integer("repeats", 2)

	sweep := rangeloop.New()
	if ints := ctx.Opts.Text("intensities", ""); ints != "" {
		// range shorthand, e.g. "30..90..10, alternateoutup, i:2"
		if err := sweep.SetString(ints, 1.0); err != nil {
			ctx.Printlog("FICurve: bad intensities %q: %v", ints, err)
			return repro.Failed
		}
		sweep.SetRepeat(repeats)
	} else {
		intmin, _ := ctx.Opts.Number("intmin", 30)
		intmax, _ := ctx.Opts.Number("intmax", 90)
		intstep, _ := ctx.Opts.Number("intstep", 10)
		sweep.Set(intmin, intmax, intstep, repeats, 1, 1, 1)
	}
	if seq, err := rangeloop.ValidateSequence(ctx.Opts.Text("sequence", "alternateoutup")); err == nil {
		sweep.SetSequence(seq)
	}

	events := ctx.Events(f.EventStream)

	for sweep.Reset(-1); !sweep.Done(); sweep.Step() {
		if ctx.SoftStop() {
			break
		}
		intensity := sweep.Value()

		o := data.NewOutData(f.OutTrace, 1.0/20000.0)
		o.SineWave(duration, carrier, 1.0)
		o.SetIntensity(intensity)
		o.Ident = "fi-tone"
		if err := ctx.Write(o); err != nil {
			if err == repro.ErrInterrupted {
				return repro.Aborted
			}
			if o.Err.Has(data.Overflow) || o.Err.Has(data.Underflow) {
				// out of the attenuator's range: skip this intensity
				// and carry on with the sweep
				sweep.SetSkip()
				sweep.NoCount()
				continue
			}
			ctx.Printlog("FICurve: write failed: %v", err)
			return repro.Failed
		}

		if err := ctx.Sleep(duration + pause); err != nil {
			return repro.Aborted
		}

		if events != nil {
			pos := sweep.Pos()
			rate := f.Rates[pos]
			if rate == nil {
				rate = data.NewSampleData(0.0, duration, duration/20.0)
				f.Rates[pos] = rate
			}
			trial := f.Trials[pos]
			ctx.Eng.LockTraces()
			events.AddFrequency(rate, &trial, ctx.Eng.SignalTime())
			ctx.Eng.UnlockTraces()
			f.Trials[pos] = trial
		}
	}
	return repro.Completed
}

// SaveData records the sweep summary into the stimulus data.
func (f *FICurve) SaveData(ctx *repro.Context) {
	ctx.StimulusData.SetNumber("fi-points", float64(len(f.Rates)), "")
}
