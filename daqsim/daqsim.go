// Package daqsim provides a simulated DAQ back-end.
//
// The simulated input generates deterministic waveforms on demand; data
// becomes available when Produce is called, either from a pacing
// goroutine in simulation mode or directly from tests.  The simulated
// output records every armed signal and can loop written samples back
// into an input channel.  Timing is driven by the sample count, so runs
// are exactly reproducible.
package daqsim

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/options"
)

// ErrNotOpen is returned by operations on an unopened simulated device.
var ErrNotOpen = errors.New("simulated device not open")

// ErrNotPrepared is returned when start is called without prepare.
var ErrNotPrepared = errors.New("no prepared operation")

func init() {
	daq.Register("sim-ai", func() daq.Device { return NewAnalogInput() })
	daq.Register("sim-ao", func() daq.Device { return NewAnalogOutput() })
	daq.Register("sim-att", func() daq.Device { return NewAttenuator() })
}

// Waveform computes the simulated voltage at time t for one channel.
type Waveform func(t float64) float64

// AnalogInput is a simulated input device.
type AnalogInput struct {
	mu sync.Mutex

	name    string
	open    bool
	running bool

	traces data.InList
	ready  chan<- struct{}

	waveforms map[int]Waveform
	produced  int // raw samples generated per channel, not yet converted
	total     int // samples converted per channel since StartRead

	maxChannels int
	ranges      []float64

	// FailNextRead makes the next ReadData report an overflow, for
	// exercising the engine's restart path
	FailNextRead bool
}

// NewAnalogInput creates an unopened simulated input with 8 channels.
func NewAnalogInput() *AnalogInput {
	return &AnalogInput{
		waveforms:   map[int]Waveform{},
		maxChannels: 8,
		ranges:      []float64{10.0, 5.0, 2.0, 1.0},
	}
}

// Open claims the simulated device.
func (ai *AnalogInput) Open(spec string, opts *options.Options) error {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.name = spec
	ai.open = true
	return nil
}

// IsOpen reports whether Open succeeded.
func (ai *AnalogInput) IsOpen() bool {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.open
}

// Close releases the device.
func (ai *AnalogInput) Close() error {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.open = false
	ai.running = false
	return nil
}

// DeviceName identifies the device in logs.
func (ai *AnalogInput) DeviceName() string {
	if ai.name == "" {
		return "sim-ai"
	}
	return ai.name
}

// SetWaveform installs the generator for a channel.  Channels without a
// generator produce zero.
func (ai *AnalogInput) SetWaveform(channel int, w Waveform) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.waveforms[channel] = w
}

// Ranges returns the bipolar max voltages, largest first.
func (ai *AnalogInput) Ranges() []float64 {
	return ai.ranges
}

// TestRead validates channels, gains and the common sample rate.
func (ai *AnalogInput) TestRead(traces data.InList) error {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if !ai.open {
		for _, d := range traces {
			d.AddError(data.DeviceNotOpen)
		}
		return ErrNotOpen
	}
	ok := true
	for _, d := range traces {
		if d.Channel < 0 || d.Channel >= ai.maxChannels {
			d.AddErrorStr(data.InvalidChannel, fmt.Sprintf("channel %d not in [0, %d)", d.Channel, ai.maxChannels))
			ok = false
		}
		if d.GainIndex < 0 || d.GainIndex >= len(ai.ranges) {
			d.AddErrorStr(data.InvalidGain, fmt.Sprintf("gain index %d not in [0, %d)", d.GainIndex, len(ai.ranges)))
			ok = false
		}
		if d.Stepsize <= 0 {
			d.AddError(data.InvalidSampleRate)
			ok = false
		}
		if len(traces) > 1 && d.Stepsize != traces[0].Stepsize {
			d.AddError(data.InvalidSampleRate)
			ok = false
		}
	}
	if !ok {
		return fmt.Errorf("test read failed: %s", traces.ErrorText())
	}
	return nil
}

// PrepareRead stores the trace list and applies the selected ranges.
func (ai *AnalogInput) PrepareRead(traces data.InList) error {
	if err := ai.TestRead(traces); err != nil {
		return err
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	for _, d := range traces {
		d.MaxVoltage = ai.ranges[d.GainIndex]
		d.MinVoltage = -ai.ranges[d.GainIndex]
	}
	ai.traces = traces
	ai.produced = 0
	ai.total = 0
	return nil
}

// StartRead arms the simulated acquisition.
func (ai *AnalogInput) StartRead(ready chan<- struct{}) error {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if ai.traces == nil {
		return ErrNotPrepared
	}
	ai.ready = ready
	ai.running = true
	return nil
}

// Produce makes n samples per channel available and wakes the reader.
func (ai *AnalogInput) Produce(n int) {
	ai.mu.Lock()
	if !ai.running {
		ai.mu.Unlock()
		return
	}
	ai.produced += n
	ready := ai.ready
	ai.mu.Unlock()
	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}
}

// ReadData reports how many produced samples are pending.  A pending
// FailNextRead surfaces as an overflow, as a saturated hardware FIFO
// would.
func (ai *AnalogInput) ReadData() (int, error) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if !ai.running {
		return 0, nil
	}
	if ai.FailNextRead {
		ai.FailNextRead = false
		for _, d := range ai.traces {
			d.AddError(data.OverflowUnderrun)
		}
		return 0, fmt.Errorf("%s: fifo overflow", ai.DeviceName())
	}
	return ai.produced, nil
}

// ConvertData generates the pending samples from the channel waveforms
// and pushes them into the traces.
func (ai *AnalogInput) ConvertData() int {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	n := ai.produced
	if n == 0 || ai.traces == nil {
		return 0
	}
	ai.produced = 0
	for _, d := range ai.traces {
		w := ai.waveforms[d.Channel]
		for k := 0; k < n; k++ {
			v := 0.0
			if w != nil {
				v = w(float64(ai.total+k) * d.Stepsize)
			}
			d.Push(v * d.Scale)
		}
	}
	ai.total += n
	return n
}

// Running reports whether the acquisition is armed.
func (ai *AnalogInput) Running() bool {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.running
}

// Stop cancels the acquisition.
func (ai *AnalogInput) Stop() error {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.running = false
	return nil
}

// Reset stops and discards pending data.
func (ai *AnalogInput) Reset() error {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.running = false
	ai.produced = 0
	ai.total = 0
	return nil
}

// Take accepts any grouping; the simulation is always atomic.
func (ai *AnalogInput) Take(ais []daq.AnalogInput, aos []daq.AnalogOutput) bool {
	return true
}

// AnalogOutput is a simulated output device recording armed signals.
type AnalogOutput struct {
	mu sync.Mutex

	name    string
	open    bool
	status  daq.AOStatus
	sigs    data.OutList
	written []data.OutList

	loopback        *AnalogInput
	loopbackChannel int
}

// NewAnalogOutput creates an unopened simulated output.
func NewAnalogOutput() *AnalogOutput {
	return &AnalogOutput{}
}

// Open claims the simulated device.
func (ao *AnalogOutput) Open(spec string, opts *options.Options) error {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	ao.name = spec
	ao.open = true
	return nil
}

// IsOpen reports whether Open succeeded.
func (ao *AnalogOutput) IsOpen() bool {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	return ao.open
}

// Close releases the device.
func (ao *AnalogOutput) Close() error {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	ao.open = false
	ao.status = daq.Idle
	return nil
}

// DeviceName identifies the device in logs.
func (ao *AnalogOutput) DeviceName() string {
	if ao.name == "" {
		return "sim-ao"
	}
	return ao.name
}

// SetLoopback mirrors emitted samples into an input channel's waveform.
func (ao *AnalogOutput) SetLoopback(ai *AnalogInput, channel int) {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	ao.loopback = ai
	ao.loopbackChannel = channel
}

// TestWrite validates channels and amplitudes against the voltage limit.
func (ao *AnalogOutput) TestWrite(sigs data.OutList) error {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	if !ao.open {
		for _, o := range sigs {
			o.AddError(data.DeviceNotOpen)
		}
		return ErrNotOpen
	}
	ok := true
	for _, o := range sigs {
		if o.Channel < 0 {
			o.AddError(data.InvalidChannel)
			ok = false
		}
		if len(o.Samples) == 0 {
			o.AddError(data.NoData)
			ok = false
		}
		if o.Delay < 0 {
			o.AddError(data.InvalidDelay)
			ok = false
		}
		if o.MaxVoltage > 0 {
			mn, mx := o.MinMax()
			if mx*o.Scale > o.MaxVoltage {
				o.AddErrorStr(data.Overflow, fmt.Sprintf("peak %g V above %g V", mx*o.Scale, o.MaxVoltage))
				ok = false
			}
			if mn*o.Scale < -o.MaxVoltage {
				o.AddErrorStr(data.Overflow, fmt.Sprintf("trough %g V below %g V", mn*o.Scale, -o.MaxVoltage))
				ok = false
			}
		}
	}
	if !ok {
		return fmt.Errorf("test write failed: %s", sigs.ErrorText())
	}
	return nil
}

// PrepareWrite buffers the signals for the next StartWrite.
func (ao *AnalogOutput) PrepareWrite(sigs data.OutList) error {
	if err := ao.TestWrite(sigs); err != nil {
		return err
	}
	ao.mu.Lock()
	defer ao.mu.Unlock()
	ao.sigs = sigs
	return nil
}

// StartWrite arms the prepared signals and reports emission immediately;
// the simulation has no transfer latency.
func (ao *AnalogOutput) StartWrite(started chan<- struct{}) error {
	ao.mu.Lock()
	if ao.sigs == nil {
		ao.mu.Unlock()
		return ErrNotPrepared
	}
	ao.status = daq.Running
	ao.written = append(ao.written, ao.sigs)
	sigs := ao.sigs
	loop := ao.loopback
	ch := ao.loopbackChannel
	ao.sigs = nil
	ao.mu.Unlock()

	if loop != nil {
		for _, o := range sigs {
			if o.Channel == ch {
				applyLoopback(loop, ch, o)
			}
		}
	}
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	ao.mu.Lock()
	ao.status = daq.Idle
	ao.mu.Unlock()
	return nil
}

func applyLoopback(ai *AnalogInput, channel int, o *data.OutData) {
	samples := append([]float64(nil), o.Samples...)
	scale := o.Scale
	step := o.Stepsize
	ai.SetWaveform(channel, func(t float64) float64 {
		i := int(t / step)
		if i < 0 || i >= len(samples) {
			return 0
		}
		return samples[i] * scale
	})
}

// DirectWrite emits the signals immediately.
func (ao *AnalogOutput) DirectWrite(sigs data.OutList) error {
	if err := ao.PrepareWrite(sigs); err != nil {
		return err
	}
	return ao.StartWrite(nil)
}

// WriteData is a no-op for the simulation; the FIFO never drains.
func (ao *AnalogOutput) WriteData() (int, error) {
	return 0, nil
}

// Status returns the output state.
func (ao *AnalogOutput) Status() daq.AOStatus {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	return ao.status
}

// Stop cancels the running output.
func (ao *AnalogOutput) Stop() error {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	ao.status = daq.Idle
	ao.sigs = nil
	return nil
}

// Reset stops and discards buffered data.
func (ao *AnalogOutput) Reset() error {
	return ao.Stop()
}

// Written returns every signal list that was armed since Open.
func (ao *AnalogOutput) Written() []data.OutList {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	return ao.written
}

// LastWritten returns the most recently armed signal list, or nil.
func (ao *AnalogOutput) LastWritten() data.OutList {
	ao.mu.Lock()
	defer ao.mu.Unlock()
	if len(ao.written) == 0 {
		return nil
	}
	return ao.written[len(ao.written)-1]
}

// Attenuator is a simulated attenuator with a logarithmic intensity map.
type Attenuator struct {
	mu sync.Mutex

	name     string
	open     bool
	device   int
	channel  int
	minLevel float64
	maxLevel float64

	// LastLevel is the most recently programmed level
	LastLevel float64
	// MutedNow reports whether the channel is muted
	MutedNow bool
}

// NewAttenuator creates an unopened simulated attenuator covering
// -25..100 dB.
func NewAttenuator() *Attenuator {
	return &Attenuator{minLevel: -25.0, maxLevel: 100.0}
}

// Open claims the device; opts may carry "device" and "channel".
func (at *Attenuator) Open(spec string, opts *options.Options) error {
	at.mu.Lock()
	defer at.mu.Unlock()
	at.name = spec
	at.open = true
	if opts != nil {
		at.device = opts.Integer("device", 0)
		at.channel = opts.Integer("channel", 0)
	}
	return nil
}

// IsOpen reports whether Open succeeded.
func (at *Attenuator) IsOpen() bool {
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.open
}

// Close releases the device.
func (at *Attenuator) Close() error {
	at.mu.Lock()
	defer at.mu.Unlock()
	at.open = false
	return nil
}

// DeviceName identifies the device in logs.
func (at *Attenuator) DeviceName() string {
	if at.name == "" {
		return "sim-att"
	}
	return at.name
}

// AOChannel returns the output binding.
func (at *Attenuator) AOChannel() (int, int) {
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.device, at.channel
}

// NoAttenuator is false; this device models real hardware.
func (at *Attenuator) NoAttenuator() bool {
	return false
}

// TestAttenuate checks a level against the device range.
func (at *Attenuator) TestAttenuate(level float64) (float64, daq.AttenuatorError) {
	at.mu.Lock()
	defer at.mu.Unlock()
	if !at.open {
		return level, daq.AttNotOpen
	}
	if level < at.minLevel {
		return at.minLevel, daq.AttUnderflow
	}
	if level > at.maxLevel {
		return at.maxLevel, daq.AttOverflow
	}
	// half-dB resolution
	return math.Round(level*2.0) / 2.0, daq.AttOK
}

// Attenuate programs a level.
func (at *Attenuator) Attenuate(level float64) (float64, daq.AttenuatorError) {
	rounded, err := at.TestAttenuate(level)
	if err != daq.AttOK {
		return rounded, err
	}
	at.mu.Lock()
	defer at.mu.Unlock()
	at.LastLevel = rounded
	at.MutedNow = false
	return rounded, daq.AttOK
}

// intensityToLevel maps an intensity request at a carrier frequency onto
// an attenuation level.  The simulation uses a flat 100 dB reference.
func (at *Attenuator) intensityToLevel(intensity, frequency float64) float64 {
	return 100.0 - intensity
}

// TestWrite checks an intensity request.
func (at *Attenuator) TestWrite(intensity, frequency float64) (float64, daq.AttenuatorError) {
	return at.TestAttenuate(at.intensityToLevel(intensity, frequency))
}

// Write programs the device for an intensity at a carrier frequency.
func (at *Attenuator) Write(intensity, frequency float64) (float64, daq.AttenuatorError) {
	return at.Attenuate(at.intensityToLevel(intensity, frequency))
}

// Mute silences the channel.
func (at *Attenuator) Mute() daq.AttenuatorError {
	at.mu.Lock()
	defer at.mu.Unlock()
	if !at.open {
		return daq.AttNotOpen
	}
	at.MutedNow = true
	return daq.AttOK
}
