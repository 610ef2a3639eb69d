package daqusb

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/options"
)

func init() {
	daq.Register("usb-ai", func() daq.Device { return NewAnalogInput() })
	daq.Register("usb-ao", func() daq.Device { return NewAnalogOutput() })
}

// AnalogInput streams analog samples from the USB device's scan engine.
type AnalogInput struct {
	t transport

	mu sync.Mutex

	traces data.InList
	cals   []calibration
	ranges []float64

	raw     []byte
	pending []byte
	running bool
	ready   chan<- struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewAnalogInput creates an unopened USB input device.
func NewAnalogInput() *AnalogInput {
	return &AnalogInput{}
}

// Open claims the device given as "vid:pid" and discovers its input
// ranges.
func (ai *AnalogInput) Open(spec string, opts *options.Options) error {
	if err := ai.t.open(spec, opts); err != nil {
		return err
	}
	resp, err := ai.t.sendMessage("?AI:RANGES")
	if err != nil {
		ai.t.close()
		return err
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.ranges = parseRanges(resp)
	if len(ai.ranges) == 0 {
		ai.ranges = []float64{10.0}
	}
	return nil
}

// parseRanges reads "AI:RANGES=10,5,2,1" into descending voltages.
func parseRanges(resp string) []float64 {
	eq := strings.LastIndex(resp, "=")
	if eq < 0 {
		return nil
	}
	var out []float64
	for _, f := range strings.Split(resp[eq+1:], ",") {
		var v float64
		if _, err := fmt.Sscanf(strings.TrimSpace(f), "%g", &v); err == nil {
			out = append(out, v)
		}
	}
	// largest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] > out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// IsOpen reports whether the device is claimed.
func (ai *AnalogInput) IsOpen() bool {
	ai.t.mu.Lock()
	defer ai.t.mu.Unlock()
	return ai.t.open
}

// Close releases the device.
func (ai *AnalogInput) Close() error {
	ai.Stop()
	return ai.t.close()
}

// DeviceName identifies the device in logs.
func (ai *AnalogInput) DeviceName() string {
	return "usb-ai " + ai.t.name
}

// Ranges returns the bipolar max voltages, largest first.
func (ai *AnalogInput) Ranges() []float64 {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.ranges
}

// TestRead validates channels, gains and the common sample rate.
func (ai *AnalogInput) TestRead(traces data.InList) error {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if !ai.IsOpen() {
		for _, d := range traces {
			d.AddError(data.DeviceNotOpen)
		}
		return ErrNotOpen
	}
	ok := true
	for _, d := range traces {
		if d.Channel < 0 || d.Channel > 15 {
			d.AddError(data.InvalidChannel)
			ok = false
		}
		if d.GainIndex < 0 || d.GainIndex >= len(ai.ranges) {
			d.AddError(data.InvalidGain)
			ok = false
		}
		if d.Stepsize <= 0 || d.SampleRate() > 100000.0 {
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

// PrepareRead programs the scan engine and fetches the calibration of
// every channel.
func (ai *AnalogInput) PrepareRead(traces data.InList) error {
	if err := ai.TestRead(traces); err != nil {
		return err
	}

	cmds := []string{
		fmt.Sprintf("AISCAN:LOWCHAN=%d", traces[0].Channel),
		fmt.Sprintf("AISCAN:HIGHCHAN=%d", traces[len(traces)-1].Channel),
		fmt.Sprintf("AISCAN:RATE=%g", traces[0].SampleRate()),
	}
	if traces[0].Continuous {
		cmds = append(cmds, "AISCAN:SAMPLES=0")
	} else {
		cmds = append(cmds, fmt.Sprintf("AISCAN:SAMPLES=%d", traces[0].Capacity()))
	}
	for _, cmd := range cmds {
		if _, err := ai.t.sendMessage(cmd); err != nil {
			return err
		}
	}

	cals := make([]calibration, len(traces))
	for i, d := range traces {
		cal, err := ai.t.queryCalibration("AI", d.Channel)
		if err != nil {
			d.AddErrorStr(data.CalibrationFailed, err.Error())
			return err
		}
		cals[i] = cal
		if _, err := ai.t.sendMessage(fmt.Sprintf("AI{%d}:RANGE=%g", d.Channel, ai.ranges[d.GainIndex])); err != nil {
			return err
		}
		d.MaxVoltage = ai.ranges[d.GainIndex]
		d.MinVoltage = -ai.ranges[d.GainIndex]
	}

	// one bulk buffer holds 50 ms of data
	bufSamples := int(0.05*traces[0].SampleRate()) * len(traces)
	if bufSamples < 64 {
		bufSamples = 64
	}
	ai.t.setBufferDuration(50 * time.Millisecond)

	ai.mu.Lock()
	ai.traces = traces
	ai.cals = cals
	ai.raw = make([]byte, 2*bufSamples)
	ai.pending = ai.pending[:0]
	ai.mu.Unlock()
	return nil
}

// StartRead arms the scan and launches the bulk reader that posts on
// ready whenever data arrived.
func (ai *AnalogInput) StartRead(ready chan<- struct{}) error {
	ai.mu.Lock()
	if ai.traces == nil {
		ai.mu.Unlock()
		return fmt.Errorf("usb-ai: no prepared read")
	}
	if ai.running {
		ai.mu.Unlock()
		return nil
	}
	ai.running = true
	ai.ready = ready
	ai.stop = make(chan struct{})
	ai.mu.Unlock()

	if _, err := ai.t.sendMessage("AISCAN:START"); err != nil {
		ai.mu.Lock()
		ai.running = false
		ai.mu.Unlock()
		return err
	}

	ai.wg.Add(1)
	go ai.bulkLoop()
	return nil
}

// bulkLoop moves bulk transfers into the pending buffer.
func (ai *AnalogInput) bulkLoop() {
	defer ai.wg.Done()
	for {
		select {
		case <-ai.stop:
			return
		default:
		}
		buf := make([]byte, len(ai.raw))
		n, err := ai.t.bulkIn.Read(buf)
		if err != nil {
			// transient conditions resolve on the next transfer;
			// a dead device surfaces through the scan status query
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		ai.mu.Lock()
		ai.pending = append(ai.pending, buf[:n]...)
		ready := ai.ready
		ai.mu.Unlock()
		if ready != nil {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	}
}

// ReadData reports the pending byte count; an overrun reported by the
// scan engine surfaces as OverflowUnderrun.
func (ai *AnalogInput) ReadData() (int, error) {
	resp, err := ai.t.sendMessage("?AISCAN:STATUS")
	if err == nil && strings.Contains(resp, "OVERRUN") {
		ai.mu.Lock()
		for _, d := range ai.traces {
			d.AddError(data.OverflowUnderrun)
		}
		ai.mu.Unlock()
		return 0, fmt.Errorf("%s: scan overrun", ai.DeviceName())
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return len(ai.pending) / 2, nil
}

// ConvertData decodes pending raw samples, de-interleaves them per
// channel, applies the calibration and pushes engineering units into
// the traces.
func (ai *AnalogInput) ConvertData() int {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	nch := len(ai.traces)
	if nch == 0 {
		return 0
	}
	frames := len(ai.pending) / (2 * nch)
	if frames == 0 {
		return 0
	}
	for f := 0; f < frames; f++ {
		for c, d := range ai.traces {
			off := 2 * (f*nch + c)
			raw := uint16(ai.pending[off]) | uint16(ai.pending[off+1])<<8
			volts := (float64(raw) - 32768.0) / 32768.0 * d.MaxVoltage
			volts = volts*ai.cals[c].slope + ai.cals[c].offset
			d.Push(volts * d.Scale)
		}
	}
	ai.pending = ai.pending[2*frames*nch:]
	return frames
}

// Running reports whether the scan is armed.
func (ai *AnalogInput) Running() bool {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.running
}

// Stop cancels the scan; idempotent.
func (ai *AnalogInput) Stop() error {
	ai.mu.Lock()
	if !ai.running {
		ai.mu.Unlock()
		return nil
	}
	ai.running = false
	close(ai.stop)
	ai.mu.Unlock()
	ai.wg.Wait()
	_, err := ai.t.sendMessage("AISCAN:STOP")
	return err
}

// Reset stops the scan and discards pending data.
func (ai *AnalogInput) Reset() error {
	err := ai.Stop()
	ai.t.sendMessage("AISCAN:RESET")
	ai.mu.Lock()
	ai.pending = ai.pending[:0]
	ai.mu.Unlock()
	return err
}

// Take reports that this back-end cannot arm device groups atomically;
// the engine falls back to sequential starts.
func (ai *AnalogInput) Take(ais []daq.AnalogInput, aos []daq.AnalogOutput) bool {
	return false
}
