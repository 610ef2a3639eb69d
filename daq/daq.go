// Package daq defines the contracts between the acquisition engine and
// its hardware back-ends: analog input, analog output, attenuators,
// digital lines and triggers.
//
// The hierarchies are open sets; concrete back-ends register a factory
// under a device-type tag and are constructed from configuration.  The
// registry is the only process-wide state and is immutable after init.
package daq

import (
	"fmt"
	"sort"
	"sync"

	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/options"
)

// AOStatus is the state of an analog output operation.
type AOStatus int

const (
	// Idle means no output is armed or running
	Idle AOStatus = iota
	// Running means samples are being emitted
	Running
	// Underrun means the hardware FIFO ran dry mid-signal
	Underrun
)

// FormatAOStatus converts an output status to its name.
func FormatAOStatus(s AOStatus) string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Underrun:
		return "underrun"
	default:
		return ""
	}
}

// Device is the part of the contract every back-end shares.  Open must
// report failure through an error, never panic; Reset must be idempotent
// and bounded in time.
type Device interface {
	// Open claims the device described by the spec string
	Open(spec string, opts *options.Options) error
	// IsOpen reports whether the device is claimed
	IsOpen() bool
	// Close releases the device; safe to call on a closed device
	Close() error
	// DeviceName identifies the device in logs and error strings
	DeviceName() string
}

// AnalogInput is the contract of an input back-end.  PrepareRead
// allocates all buffers; StartRead arms the hardware without blocking;
// ReadData is non-blocking and returns 0 when no data is pending.
type AnalogInput interface {
	Device

	// Ranges returns the available bipolar max voltages, largest first
	Ranges() []float64
	// TestRead validates the request without touching hardware state,
	// annotating each trace with error bits
	TestRead(traces data.InList) error
	// PrepareRead programs channel list, sample rate and buffers
	PrepareRead(traces data.InList) error
	// StartRead arms the acquisition.  The back-end posts an empty
	// struct on ready whenever new data can be fetched with ReadData.
	StartRead(ready chan<- struct{}) error
	// ReadData moves pending raw data into the internal buffer and
	// returns the number of raw samples fetched; 0 means no data.
	// Short reads and transient errors are not fatal.
	ReadData() (int, error)
	// ConvertData converts buffered raw data to engineering units,
	// pushes it into the prepared traces and returns the number of
	// samples pushed per channel.
	ConvertData() int
	// Running reports whether an acquisition is armed
	Running() bool
	// Stop cancels the acquisition; idempotent
	Stop() error
	// Reset stops and discards pending data; idempotent
	Reset() error
	// Take merges this device into a group that is armed atomically
	// with the given peers.  Back-ends that cannot do this return
	// false, and the engine falls back to sequential starts.
	Take(ais []AnalogInput, aos []AnalogOutput) bool
}

// AnalogOutput is the contract of an output back-end.  DirectWrite
// emits a one-shot value sequence bypassing FIFO streaming; WriteData
// refills the FIFO of a streaming signal.
type AnalogOutput interface {
	Device

	// TestWrite validates signals without side effects, annotating each
	// with error bits
	TestWrite(sigs data.OutList) error
	// PrepareWrite converts and buffers the signals
	PrepareWrite(sigs data.OutList) error
	// StartWrite arms the output.  If started is non-nil the back-end
	// posts once on it when the first sample is emitted.
	StartWrite(started chan<- struct{}) error
	// DirectWrite converts and emits the signals immediately
	DirectWrite(sigs data.OutList) error
	// WriteData feeds more samples of a streaming signal to the
	// hardware and returns the number transferred
	WriteData() (int, error)
	// Status returns the output state
	Status() AOStatus
	// Stop cancels the running output; idempotent
	Stop() error
	// Reset stops and discards buffered data; idempotent
	Reset() error
}

// AttenuatorError is the error taxonomy of attenuator devices.
type AttenuatorError int

const (
	// AttOK means the level was set
	AttOK AttenuatorError = iota
	// AttUnderflow means the requested level is below the device range
	AttUnderflow
	// AttOverflow means the requested level is above the device range
	AttOverflow
	// AttIntensityUnderflow means the intensity maps below the range
	AttIntensityUnderflow
	// AttIntensityOverflow means the intensity maps above the range
	AttIntensityOverflow
	// AttIntensityFailed means the intensity could not be mapped
	AttIntensityFailed
	// AttNotOpen means the device is not open
	AttNotOpen
	// AttFailed means the device rejected the level
	AttFailed
	// AttNoDevice means no attenuator is assigned
	AttNoDevice
)

// FormatAttenuatorError converts an attenuator error to text.
func FormatAttenuatorError(e AttenuatorError) string {
	switch e {
	case AttOK:
		return "ok"
	case AttUnderflow:
		return "underflow"
	case AttOverflow:
		return "overflow"
	case AttIntensityUnderflow:
		return "intensity underflow"
	case AttIntensityOverflow:
		return "intensity overflow"
	case AttIntensityFailed:
		return "intensity failed"
	case AttNotOpen:
		return "not open"
	case AttFailed:
		return "failed"
	case AttNoDevice:
		return "no device"
	default:
		return ""
	}
}

// DataErrorFor maps an attenuator error onto the shared error bitset.
func DataErrorFor(e AttenuatorError) data.DataError {
	switch e {
	case AttOK:
		return 0
	case AttUnderflow, AttIntensityUnderflow:
		return data.Underflow | data.AttenuatorFailed
	case AttOverflow, AttIntensityOverflow:
		return data.Overflow | data.AttenuatorFailed
	case AttNoDevice:
		return data.NoDevice | data.AttenuatorFailed
	case AttNotOpen:
		return data.DeviceNotOpen | data.AttenuatorFailed
	default:
		return data.AttenuatorFailed
	}
}

// Attenuator is the contract of a stimulus attenuation device.  Write
// programs the device for an intensity at a carrier frequency and
// returns the level actually set; Attenuate programs a raw level.
// A pseudo attenuator reports NoAttenuator true and the engine folds
// the requested level into the digital scale instead.
type Attenuator interface {
	Device

	// AOChannel returns the output device index and channel this
	// attenuator is wired to
	AOChannel() (int, int)
	// NoAttenuator is true for pseudo attenuators without hardware
	NoAttenuator() bool
	// TestAttenuate checks a level without programming it and returns
	// the level the device would round to
	TestAttenuate(level float64) (float64, AttenuatorError)
	// Attenuate programs a level and returns the level actually set
	Attenuate(level float64) (float64, AttenuatorError)
	// TestWrite checks an intensity at a carrier frequency
	TestWrite(intensity, frequency float64) (float64, AttenuatorError)
	// Write programs the device for an intensity at a carrier
	// frequency and returns the level actually set
	Write(intensity, frequency float64) (float64, AttenuatorError)
	// Mute silences the output channel
	Mute() AttenuatorError
}

// DigitalIO is the contract of a digital line device.
type DigitalIO interface {
	Device

	// Lines returns the number of digital lines
	Lines() int
	// Configure sets line direction; output is true for an output line
	Configure(line int, output bool) error
	// Read returns the state of a line
	Read(line int) (bool, error)
	// Write sets the state of an output line
	Write(line int, high bool) error
}

// TriggerDevice is the contract of a trigger source.
type TriggerDevice interface {
	Device

	// SetCrossing configures a level crossing trigger
	SetCrossing(level float64, rising bool) error
	// Activate arms the trigger
	Activate() error
	// Disable disarms the trigger
	Disable() error
}

// Factory builds an unopened device of one concrete type.
type Factory func() Device

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a device factory under a type tag.  Register panics on a
// duplicate tag; it is meant to be called from package init functions.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[typ]; ok {
		panic(fmt.Sprintf("daq: duplicate device type %q", typ))
	}
	registry[typ] = f
}

// Create builds an unopened device of the given type tag.
func Create(typ string) (Device, error) {
	registryMu.Lock()
	f, ok := registry[typ]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("daq: unknown device type %q", typ)
	}
	return f(), nil
}

// Types returns the registered device type tags, sorted.
func Types() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
