package data

import "strings"

// DataError is a bitset of error conditions attached to an input trace
// request or an output signal.  Back-ends set bits and attach a
// human-readable string; the engine surfaces the set upward unchanged.
type DataError uint32

const (
	// NoDevice indicates no device was assigned to the trace or signal
	NoDevice DataError = 1 << iota
	// DeviceNotOpen indicates the assigned device is not open
	DeviceNotOpen
	// InvalidDevice indicates the assigned device does not exist
	InvalidDevice
	// Busy indicates the device is in use by a running operation
	Busy
	// Unknown is an otherwise unclassified device error
	Unknown
	// InvalidChannel indicates a channel number outside the device range
	InvalidChannel
	// InvalidGain indicates a gain index the device cannot provide
	InvalidGain
	// InvalidReference indicates an unsupported reference mode
	InvalidReference
	// InvalidSampleRate indicates a sampling rate the device cannot run
	InvalidSampleRate
	// InvalidDelay indicates an unsupported delay before signal onset
	InvalidDelay
	// InvalidStartSource indicates an unsupported trigger source
	InvalidStartSource
	// InvalidContinuous indicates continuous mode is not supported
	InvalidContinuous
	// NoData indicates an empty signal or an empty read
	NoData
	// BufferOverflow indicates the host-side buffer filled up
	BufferOverflow
	// OverflowUnderrun indicates the hardware FIFO over- or underran
	OverflowUnderrun
	// CalibrationFailed indicates the calibration constants are unusable
	CalibrationFailed
	// Overflow indicates the signal exceeds the output range
	Overflow
	// Underflow indicates the signal is below the resolvable range
	Underflow
	// NoIntensity indicates a signal on an attenuated channel without intensity
	NoIntensity
	// AttenuatorFailed wraps an error from the attenuator device
	AttenuatorFailed
	// MultipleDelays indicates mixed delays within one output list
	MultipleDelays
	// MultiplePriorities indicates mixed priorities within one output list
	MultiplePriorities
)

var errorNames = map[DataError]string{
	NoDevice:           "no device",
	DeviceNotOpen:      "device not open",
	InvalidDevice:      "invalid device",
	Busy:               "device busy",
	Unknown:            "unknown device error",
	InvalidChannel:     "invalid channel",
	InvalidGain:        "invalid gain",
	InvalidReference:   "invalid reference",
	InvalidSampleRate:  "invalid sample rate",
	InvalidDelay:       "invalid delay",
	InvalidStartSource: "invalid start source",
	InvalidContinuous:  "invalid continuous mode",
	NoData:             "no data",
	BufferOverflow:     "buffer overflow",
	OverflowUnderrun:   "overflow/underrun",
	CalibrationFailed:  "calibration failed",
	Overflow:           "signal overflow",
	Underflow:          "signal underflow",
	NoIntensity:        "no intensity",
	AttenuatorFailed:   "attenuator failed",
	MultipleDelays:     "multiple delays",
	MultiplePriorities: "multiple priorities",
}

// order in which bits are reported; range and intensity errors are
// formatted before the wrapped attenuator error so the dominant cause
// leads the message.
var errorOrder = []DataError{
	NoDevice, DeviceNotOpen, InvalidDevice, Busy, Unknown,
	InvalidChannel, InvalidGain, InvalidReference, InvalidSampleRate,
	InvalidDelay, InvalidStartSource, InvalidContinuous,
	NoData, BufferOverflow, OverflowUnderrun, CalibrationFailed,
	Overflow, Underflow, NoIntensity, AttenuatorFailed,
	MultipleDelays, MultiplePriorities,
}

// Ok returns true if no error bit is set.
func (e DataError) Ok() bool {
	return e == 0
}

// Has returns true if all bits of flag are set.
func (e DataError) Has(flag DataError) bool {
	return e&flag == flag
}

// Error formats the set bits as a comma separated string.
func (e DataError) Error() string {
	if e == 0 {
		return ""
	}
	var parts []string
	for _, flag := range errorOrder {
		if e&flag != 0 {
			parts = append(parts, errorNames[flag])
		}
	}
	return strings.Join(parts, ", ")
}
