package data

import (
	"math"
)

// MuteIntensity requests that the attenuator mutes the channel and the
// digital scale is set to zero.
const MuteIntensity = -1.0e37

// NoIntensityValue marks an output signal that carries no intensity
// request; the attenuator level is used instead, if one is set.
const NoIntensityValue = -2.0e37

// NoLevel marks an output signal without an attenuator level request.
const NoLevel = -2.0e37

// OutData is a single output signal: a sample sequence bound to an output
// channel, together with the intensity or attenuation request and the
// scheduling parameters the engine needs to arm it.
//
// Lifecycle: built by a RePro, validated by TestWrite, committed by
// PrepareWrite, armed by StartWrite, freed after completion or Reset.
type OutData struct {
	// Samples is the signal in engineering units
	Samples []float64
	// Stepsize is the sample interval in seconds
	Stepsize float64
	// Delay is the requested delay between start and first sample, seconds
	Delay float64
	// CarrierFreq is the carrier frequency passed to the attenuator, hertz
	CarrierFreq float64
	// TraceName binds the signal to a declared output trace
	TraceName string
	// Device is the index of the output device, resolved by the engine
	Device int
	// Channel is the channel on the output device
	Channel int
	// Priority requests preemption of non-priority output
	Priority bool
	// RequestRestart asks the engine to re-arm the acquisition with the
	// signal so input and output share a common time zero
	RequestRestart bool
	// Continuous marks a signal that is repeated until stopped
	Continuous bool

	// Intensity is the requested stimulus intensity, or MuteIntensity,
	// or NoIntensityValue if Level is used instead
	Intensity float64
	// Level is the requested attenuator level in dB, or NoLevel
	Level float64
	// Scale multiplies the samples on their way to the converter; set by
	// the attenuation step
	Scale float64
	// MaxVoltage is the full scale output voltage of the bound channel
	MaxVoltage float64
	// Reversed inverts the polarity of the signal
	Reversed bool
	// Ident names the signal in logs and stimulus records
	Ident string

	// Err accumulates validation and write errors
	Err DataError
	// ErrStr carries the device's human readable error description
	ErrStr string
}

// NewOutData creates an empty signal bound to the named output trace.
func NewOutData(traceName string, stepsize float64) *OutData {
	return &OutData{
		TraceName: traceName,
		Stepsize:  stepsize,
		Device:    -1,
		Channel:   -1,
		Intensity: NoIntensityValue,
		Level:     NoLevel,
		Scale:     1.0,
	}
}

// SineWave fills the signal with duration seconds of a sine of the given
// frequency and amplitude and sets the carrier frequency.
func (o *OutData) SineWave(duration, freq, ampl float64) *OutData {
	n := int(duration/o.Stepsize + 0.5)
	o.Samples = make([]float64, n)
	for i := range o.Samples {
		o.Samples[i] = ampl * math.Sin(2.0*math.Pi*freq*float64(i)*o.Stepsize)
	}
	o.CarrierFreq = freq
	return o
}

// ConstWave fills the signal with duration seconds of the constant value v.
func (o *OutData) ConstWave(duration, v float64) *OutData {
	n := int(duration/o.Stepsize + 0.5)
	if n < 1 {
		n = 1
	}
	o.Samples = make([]float64, n)
	for i := range o.Samples {
		o.Samples[i] = v
	}
	return o
}

// PulseWave fills the signal with a rectangular pulse of the given width
// inside duration seconds.
func (o *OutData) PulseWave(duration, width, ampl, base float64) *OutData {
	n := int(duration/o.Stepsize + 0.5)
	w := int(width/o.Stepsize + 0.5)
	o.Samples = make([]float64, n)
	for i := range o.Samples {
		if i < w {
			o.Samples[i] = ampl
		} else {
			o.Samples[i] = base
		}
	}
	return o
}

// Size returns the number of samples.
func (o *OutData) Size() int {
	return len(o.Samples)
}

// Duration returns the length of the signal in seconds.
func (o *OutData) Duration() float64 {
	return float64(len(o.Samples)) * o.Stepsize
}

// SampleRate returns the sampling rate in hertz.
func (o *OutData) SampleRate() float64 {
	return 1.0 / o.Stepsize
}

// SetIntensity requests a stimulus intensity and clears a pending level
// request.
func (o *OutData) SetIntensity(intensity float64) {
	o.Intensity = intensity
	o.Level = NoLevel
}

// SetLevel requests a raw attenuator level and clears a pending intensity
// request.
func (o *OutData) SetLevel(level float64) {
	o.Level = level
	o.Intensity = NoIntensityValue
}

// Mute requests the attenuator to mute this channel.
func (o *OutData) Mute() {
	o.Intensity = MuteIntensity
	o.Level = NoLevel
}

// Muted reports whether the signal requests muting.
func (o *OutData) Muted() bool {
	return o.Intensity == MuteIntensity
}

// MinMax returns the extrema of the samples.
func (o *OutData) MinMax() (float64, float64) {
	if len(o.Samples) == 0 {
		return 0, 0
	}
	mn, mx := o.Samples[0], o.Samples[0]
	for _, v := range o.Samples[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	return mn, mx
}

// AddError sets error bits on the signal.
func (o *OutData) AddError(e DataError) {
	o.Err |= e
}

// AddErrorStr sets error bits together with a device supplied description.
func (o *OutData) AddErrorStr(e DataError, s string) {
	o.Err |= e
	if o.ErrStr == "" {
		o.ErrStr = s
	} else {
		o.ErrStr += "; " + s
	}
}

// ClearError resets the error state.
func (o *OutData) ClearError() {
	o.Err = 0
	o.ErrStr = ""
}

// Success reports whether the signal carries no errors.
func (o *OutData) Success() bool {
	return o.Err.Ok()
}
