package data

// TraceSpec declares an output channel: its name, hardware binding, unit,
// voltage limit, and polarity.  The engine resolves every OutData's
// TraceName against the declared specs before writing.
type TraceSpec struct {
	// Name is the trace name RePros refer to, e.g. "Current-1"
	Name string `yaml:"Name"`
	// Device is the index of the output device
	Device int `yaml:"Device"`
	// Channel is the channel on the output device
	Channel int `yaml:"Channel"`
	// Unit is the engineering unit of the signal values
	Unit string `yaml:"Unit"`
	// MaxVoltage limits the emitted voltage, volt
	MaxVoltage float64 `yaml:"MaxVoltage"`
	// Reversed inverts the signal polarity
	Reversed bool `yaml:"Reversed"`
	// FixedRate forces the declared sample rate on all signals
	FixedRate bool `yaml:"FixedRate"`
	// SampleRate is the fixed sample rate in hertz, if FixedRate is set
	SampleRate float64 `yaml:"SampleRate"`
	// Scale converts engineering units to volt
	Scale float64 `yaml:"Scale"`
}

// Apply copies the spec's hardware binding and limits onto a signal.
func (ts *TraceSpec) Apply(o *OutData) {
	o.Device = ts.Device
	o.Channel = ts.Channel
	o.MaxVoltage = ts.MaxVoltage
	o.Reversed = ts.Reversed
	if ts.FixedRate && ts.SampleRate > 0 {
		o.Stepsize = 1.0 / ts.SampleRate
	}
}
