package daqusb

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/options"
)

// AnalogOutput streams signals into the USB device's output scan engine.
type AnalogOutput struct {
	t transport

	mu sync.Mutex

	sigs    data.OutList
	cals    map[int]calibration
	buffer  []byte
	written int
	status  daq.AOStatus

	stop chan struct{}
	wg   sync.WaitGroup

	// limiter paces the bulk FIFO refills of refillLoop
	limiter *rate.Limiter
}

// NewAnalogOutput creates an unopened USB output device.
func NewAnalogOutput() *AnalogOutput {
	return &AnalogOutput{
		cals:    map[int]calibration{},
		limiter: rate.NewLimiter(50, 5),
	}
}

// Open claims the device given as "vid:pid".
func (ao *AnalogOutput) Open(spec string, opts *options.Options) error {
	return ao.t.open(spec, opts)
}

// IsOpen reports whether the device is claimed.
func (ao *AnalogOutput) IsOpen() bool {
	ao.t.mu.Lock()
	defer ao.t.mu.Unlock()
	return ao.t.open
}

// Close releases the device.
func (ao *AnalogOutput) Close() error {
	ao.Stop()
	return ao.t.close()
}

// DeviceName identifies the device in logs.
func (ao *AnalogOutput) DeviceName() string {
	return "usb-ao " + ao.t.name
}

// TestWrite validates the signals without touching the scan engine.
func (ao *AnalogOutput) TestWrite(sigs data.OutList) error {
	if !ao.IsOpen() {
		for _, o := range sigs {
			o.AddError(data.DeviceNotOpen)
		}
		return ErrNotOpen
	}
	ok := true
	for _, o := range sigs {
		if o.Channel < 0 || o.Channel > 3 {
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
		if o.SampleRate() > 50000.0 {
			o.AddError(data.InvalidSampleRate)
			ok = false
		}
		if o.MaxVoltage > 0 {
			mn, mx := o.MinMax()
			if mx*o.Scale > o.MaxVoltage || mn*o.Scale < -o.MaxVoltage {
				o.AddError(data.Overflow)
				ok = false
			}
		}
	}
	if !ok {
		return fmt.Errorf("test write failed: %s", sigs.ErrorText())
	}
	return nil
}

// PrepareWrite programs the scan engine, fetches calibrations, and
// multiplexes the converted signals into the transfer buffer.
func (ao *AnalogOutput) PrepareWrite(sigs data.OutList) error {
	if err := ao.TestWrite(sigs); err != nil {
		return err
	}

	cmds := []string{
		fmt.Sprintf("AOSCAN:LOWCHAN=%d", sigs[0].Channel),
		fmt.Sprintf("AOSCAN:HIGHCHAN=%d", sigs[len(sigs)-1].Channel),
		fmt.Sprintf("AOSCAN:RATE=%g", sigs[0].SampleRate()),
	}
	if sigs[0].Continuous {
		cmds = append(cmds, "AOSCAN:SAMPLES=0")
	} else {
		cmds = append(cmds, fmt.Sprintf("AOSCAN:SAMPLES=%d", sigs[0].Size()))
	}
	for _, cmd := range cmds {
		if _, err := ao.t.sendMessage(cmd); err != nil {
			return err
		}
	}

	for _, o := range sigs {
		if _, ok := ao.cals[o.Channel]; ok {
			continue
		}
		cal, err := ao.t.queryCalibration("AO", o.Channel)
		if err != nil {
			o.AddErrorStr(data.CalibrationFailed, err.Error())
			return err
		}
		ao.mu.Lock()
		ao.cals[o.Channel] = cal
		ao.mu.Unlock()
	}

	buf, err := ao.multiplex(sigs)
	if err != nil {
		return err
	}

	ao.t.setBufferDuration(time.Duration(
		float64(time.Second) * float64(sigs[0].Size()) * sigs[0].Stepsize))

	ao.mu.Lock()
	ao.sigs = sigs
	ao.buffer = buf
	ao.written = 0
	ao.mu.Unlock()
	return nil
}

// multiplex converts all signals to raw codes in the card's interleaved
// format.
func (ao *AnalogOutput) multiplex(sigs data.OutList) ([]byte, error) {
	n := 0
	for _, o := range sigs {
		if o.Size() > n {
			n = o.Size()
		}
	}
	buf := make([]byte, 0, 2*n*len(sigs))
	for i := 0; i < n; i++ {
		for _, o := range sigs {
			v := 0.0
			if i < o.Size() {
				v = o.Samples[i] * o.Scale
			}
			code, err := ao.rawCode(o, v)
			if err != nil {
				o.AddError(data.Overflow)
				return nil, err
			}
			buf = append(buf, byte(code), byte(code>>8))
		}
	}
	return buf, nil
}

// rawCode converts volts to the device's straight-binary output code.
func (ao *AnalogOutput) rawCode(o *data.OutData, volts float64) (uint16, error) {
	maxV := o.MaxVoltage
	if maxV <= 0 {
		maxV = 10.0
	}
	ao.mu.Lock()
	cal := ao.cals[o.Channel]
	ao.mu.Unlock()
	if cal.slope == 0 {
		cal.slope = 1
	}
	code := math.Round((volts/maxV+1.0)*32768.0*cal.slope + cal.offset)
	if code < 0 || code > 65535 {
		return 0, fmt.Errorf("code %g for %g V out of range", code, volts)
	}
	return uint16(code), nil
}

// StartWrite arms the scan and launches the refill goroutine.  started
// is posted once the scan engine reports running.
func (ao *AnalogOutput) StartWrite(started chan<- struct{}) error {
	ao.mu.Lock()
	if ao.buffer == nil {
		ao.mu.Unlock()
		return fmt.Errorf("usb-ao: no prepared write")
	}
	ao.status = daq.Running
	ao.stop = make(chan struct{})
	ao.mu.Unlock()

	if _, err := ao.t.sendMessage("AOSCAN:START"); err != nil {
		ao.mu.Lock()
		ao.status = daq.Idle
		ao.mu.Unlock()
		return err
	}
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	ao.wg.Add(1)
	go ao.refillLoop()
	return nil
}

// refillLoop feeds the FIFO until the signal is fully transferred.
func (ao *AnalogOutput) refillLoop() {
	defer ao.wg.Done()
	for {
		select {
		case <-ao.stop:
			return
		default:
		}
		ao.limiter.Wait(context.Background())
		n, err := ao.WriteData()
		if err != nil {
			return
		}
		if n == 0 {
			ao.mu.Lock()
			done := ao.written >= len(ao.buffer)
			if done {
				ao.status = daq.Idle
			}
			ao.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// WriteData transfers the next chunk of the multiplexed buffer and
// returns the number of bytes moved.
func (ao *AnalogOutput) WriteData() (int, error) {
	ao.mu.Lock()
	if ao.buffer == nil || ao.written >= len(ao.buffer) {
		ao.mu.Unlock()
		return 0, nil
	}
	chunk := ao.buffer[ao.written:]
	if len(chunk) > 4096 {
		chunk = chunk[:4096]
	}
	ao.mu.Unlock()

	n, err := ao.t.bulkOut.Write(chunk)
	ao.mu.Lock()
	ao.written += n
	ao.mu.Unlock()
	if err != nil {
		return n, fmt.Errorf("bulk write: %w", err)
	}
	return n, nil
}

// DirectWrite emits single values immediately, bypassing the scan
// engine.
func (ao *AnalogOutput) DirectWrite(sigs data.OutList) error {
	if err := ao.TestWrite(sigs); err != nil {
		return err
	}
	for _, o := range sigs {
		v := 0.0
		if len(o.Samples) > 0 {
			v = o.Samples[0] * o.Scale
		}
		code, err := ao.rawCode(o, v)
		if err != nil {
			o.AddError(data.Overflow)
			return err
		}
		if _, err := ao.t.sendMessage(fmt.Sprintf("AO{%d}:VALUE=%d", o.Channel, code)); err != nil {
			return err
		}
	}
	return nil
}

// Status queries the scan engine state.
func (ao *AnalogOutput) Status() daq.AOStatus {
	resp, err := ao.t.sendMessage("?AOSCAN:STATUS")
	if err != nil {
		ao.mu.Lock()
		defer ao.mu.Unlock()
		return ao.status
	}
	switch {
	case strings.Contains(resp, "RUNNING"):
		return daq.Running
	case strings.Contains(resp, "UNDERRUN"):
		return daq.Underrun
	default:
		return daq.Idle
	}
}

// Stop cancels the running scan; idempotent.
func (ao *AnalogOutput) Stop() error {
	ao.mu.Lock()
	if ao.stop != nil {
		select {
		case <-ao.stop:
		default:
			close(ao.stop)
		}
	}
	ao.status = daq.Idle
	ao.mu.Unlock()
	ao.wg.Wait()
	_, err := ao.t.sendMessage("AOSCAN:STOP")
	return err
}

// Reset stops the scan and discards the buffered signal.
func (ao *AnalogOutput) Reset() error {
	err := ao.Stop()
	ao.t.sendMessage("AOSCAN:RESET")
	ao.mu.Lock()
	ao.sigs = nil
	ao.buffer = nil
	ao.written = 0
	ao.mu.Unlock()
	return err
}
