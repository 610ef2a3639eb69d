package daqsim

import (
	"fmt"
	"sync"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/options"
)

func init() {
	daq.Register("sim-dio", func() daq.Device { return NewDigitalIO() })
	daq.Register("sim-trigger", func() daq.Device { return NewTrigger() })
}

// DigitalIO is a simulated bank of 8 digital lines.
type DigitalIO struct {
	mu sync.Mutex

	name    string
	open    bool
	outputs uint8
	states  uint8
}

// NewDigitalIO creates an unopened simulated digital IO device.
func NewDigitalIO() *DigitalIO {
	return &DigitalIO{}
}

// Open claims the device.
func (d *DigitalIO) Open(spec string, opts *options.Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = spec
	d.open = true
	return nil
}

// IsOpen reports whether Open succeeded.
func (d *DigitalIO) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Close releases the device.
func (d *DigitalIO) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// DeviceName identifies the device in logs.
func (d *DigitalIO) DeviceName() string {
	if d.name == "" {
		return "sim-dio"
	}
	return d.name
}

// Lines returns the number of digital lines.
func (d *DigitalIO) Lines() int {
	return 8
}

// Configure sets the direction of a line.
func (d *DigitalIO) Configure(line int, output bool) error {
	if line < 0 || line >= d.Lines() {
		return fmt.Errorf("line %d not in [0, %d)", line, d.Lines())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if output {
		d.outputs |= 1 << line
	} else {
		d.outputs &^= 1 << line
	}
	return nil
}

// Read returns the state of a line.
func (d *DigitalIO) Read(line int) (bool, error) {
	if line < 0 || line >= d.Lines() {
		return false, fmt.Errorf("line %d not in [0, %d)", line, d.Lines())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states&(1<<line) != 0, nil
}

// Write sets the state of an output line.
func (d *DigitalIO) Write(line int, high bool) error {
	if line < 0 || line >= d.Lines() {
		return fmt.Errorf("line %d not in [0, %d)", line, d.Lines())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outputs&(1<<line) == 0 {
		return fmt.Errorf("line %d is not configured for output", line)
	}
	if high {
		d.states |= 1 << line
	} else {
		d.states &^= 1 << line
	}
	return nil
}

// Trigger is a simulated level-crossing trigger source.
type Trigger struct {
	mu sync.Mutex

	name   string
	open   bool
	level  float64
	rising bool
	armed  bool
}

// NewTrigger creates an unopened simulated trigger.
func NewTrigger() *Trigger {
	return &Trigger{}
}

// Open claims the device.
func (t *Trigger) Open(spec string, opts *options.Options) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = spec
	t.open = true
	return nil
}

// IsOpen reports whether Open succeeded.
func (t *Trigger) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Close releases the device.
func (t *Trigger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	t.armed = false
	return nil
}

// DeviceName identifies the device in logs.
func (t *Trigger) DeviceName() string {
	if t.name == "" {
		return "sim-trigger"
	}
	return t.name
}

// SetCrossing configures the level crossing.
func (t *Trigger) SetCrossing(level float64, rising bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.level = level
	t.rising = rising
	return nil
}

// Activate arms the trigger.
func (t *Trigger) Activate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return ErrNotOpen
	}
	t.armed = true
	return nil
}

// Disable disarms the trigger.
func (t *Trigger) Disable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	return nil
}

// Armed reports whether the trigger is active.
func (t *Trigger) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}
