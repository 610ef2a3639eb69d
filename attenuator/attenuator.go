// Package attenuator implements stimulus attenuation back-ends: a
// line-protocol device on a serial or TCP link, and a pseudo attenuator
// that folds the requested level into the digital scale when no hardware
// is present.
package attenuator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/tarm/serial"

	"github.com/relacs/relacsd/comm"
	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/options"
)

func init() {
	daq.Register("serial-att", func() daq.Device { return NewSerial() })
	daq.Register("pseudo-att", func() daq.Device { return NewPseudo() })
}

// Serial is a programmable attenuator speaking a line protocol:
// "ATT <level>" sets a level and answers with the rounded level,
// "MUTE" silences the channel, "RANGE?" answers "<min> <max>".
type Serial struct {
	mu sync.Mutex

	link comm.Link
	open bool

	device  int
	channel int

	minLevel float64
	maxLevel float64

	// RefIntensity maps intensity requests onto levels:
	// level = RefIntensity - intensity
	RefIntensity float64
}

// NewSerial creates an unopened serial attenuator.
func NewSerial() *Serial {
	return &Serial{minLevel: -25, maxLevel: 100, RefIntensity: 100}
}

// Open connects to the device and queries its level range.  The spec is
// a serial device path or a host:port address; opts may carry "device",
// "channel", "baud" and "intensity" (the reference intensity).
func (s *Serial) Open(spec string, opts *options.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	isSerial := strings.HasPrefix(spec, "/dev/")
	var cfg *serial.Config
	if isSerial {
		baud := 9600
		if opts != nil {
			baud = opts.Integer("baud", baud)
		}
		cfg = &serial.Config{Name: spec, Baud: baud}
	}
	s.link = comm.NewLink(spec, isSerial, nil, cfg)
	if err := s.link.Open(); err != nil {
		return err
	}
	if opts != nil {
		s.device = opts.Integer("device", 0)
		s.channel = opts.Integer("channel", 0)
		s.RefIntensity, _ = opts.Number("intensity", s.RefIntensity)
	}
	resp, err := s.link.SendRecv([]byte("RANGE?"))
	if err == nil {
		fields := strings.Fields(string(resp))
		if len(fields) == 2 {
			if lo, err := strconv.ParseFloat(fields[0], 64); err == nil {
				s.minLevel = lo
			}
			if hi, err := strconv.ParseFloat(fields[1], 64); err == nil {
				s.maxLevel = hi
			}
		}
	}
	s.open = true
	return nil
}

// IsOpen reports whether the device is connected.
func (s *Serial) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close disconnects from the device.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return s.link.Close()
}

// DeviceName identifies the device in logs.
func (s *Serial) DeviceName() string {
	return "serial-att " + s.link.Addr
}

// AOChannel returns the output device index and channel this attenuator
// is wired to.
func (s *Serial) AOChannel() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device, s.channel
}

// NoAttenuator is false; this is real hardware.
func (s *Serial) NoAttenuator() bool {
	return false
}

// TestAttenuate checks a level against the device range without
// programming it.
func (s *Serial) TestAttenuate(level float64) (float64, daq.AttenuatorError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return level, daq.AttNotOpen
	}
	if level < s.minLevel {
		return s.minLevel, daq.AttUnderflow
	}
	if level > s.maxLevel {
		return s.maxLevel, daq.AttOverflow
	}
	return level, daq.AttOK
}

// Attenuate programs a level and returns the level the device reports.
func (s *Serial) Attenuate(level float64) (float64, daq.AttenuatorError) {
	if rounded, aerr := s.TestAttenuate(level); aerr != daq.AttOK {
		return rounded, aerr
	}
	resp, err := s.link.SendRecv([]byte(fmt.Sprintf("ATT %.2f", level)))
	if err != nil {
		return level, daq.AttFailed
	}
	set, err := strconv.ParseFloat(strings.TrimSpace(string(resp)), 64)
	if err != nil {
		return level, daq.AttFailed
	}
	return set, daq.AttOK
}

// TestWrite checks an intensity request at a carrier frequency.
func (s *Serial) TestWrite(intensity, frequency float64) (float64, daq.AttenuatorError) {
	level := s.RefIntensity - intensity
	rounded, aerr := s.TestAttenuate(level)
	switch aerr {
	case daq.AttUnderflow:
		return rounded, daq.AttIntensityOverflow
	case daq.AttOverflow:
		return rounded, daq.AttIntensityUnderflow
	default:
		return rounded, aerr
	}
}

// Write programs the device for an intensity at a carrier frequency and
// returns the level set.
func (s *Serial) Write(intensity, frequency float64) (float64, daq.AttenuatorError) {
	rounded, aerr := s.TestWrite(intensity, frequency)
	if aerr != daq.AttOK {
		return rounded, aerr
	}
	return s.Attenuate(s.RefIntensity - intensity)
}

// Mute silences the output channel.
func (s *Serial) Mute() daq.AttenuatorError {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open {
		return daq.AttNotOpen
	}
	if _, err := s.link.SendRecv([]byte("MUTE")); err != nil {
		return daq.AttFailed
	}
	return daq.AttOK
}

// Pseudo is the attenuator stand-in for channels without hardware
// attenuation.  The engine folds the requested level into the digital
// scale factor instead of programming a device.
type Pseudo struct {
	mu sync.Mutex

	open    bool
	device  int
	channel int

	// Level is the most recently requested level
	Level float64
	// IsMuted reports whether the channel is muted
	IsMuted bool
}

// NewPseudo creates an unopened pseudo attenuator.
func NewPseudo() *Pseudo {
	return &Pseudo{}
}

// Open accepts any spec; opts may carry "device" and "channel".
func (p *Pseudo) Open(spec string, opts *options.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	if opts != nil {
		p.device = opts.Integer("device", 0)
		p.channel = opts.Integer("channel", 0)
	}
	return nil
}

// IsOpen reports whether Open was called.
func (p *Pseudo) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Close marks the device closed.
func (p *Pseudo) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// DeviceName identifies the device in logs.
func (p *Pseudo) DeviceName() string {
	return "pseudo-att"
}

// AOChannel returns the output binding.
func (p *Pseudo) AOChannel() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device, p.channel
}

// NoAttenuator is true; the engine scales digitally instead.
func (p *Pseudo) NoAttenuator() bool {
	return true
}

// TestAttenuate accepts any finite level.
func (p *Pseudo) TestAttenuate(level float64) (float64, daq.AttenuatorError) {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return level, daq.AttFailed
	}
	return level, daq.AttOK
}

// Attenuate records the level; the scale fold happens in the engine.
func (p *Pseudo) Attenuate(level float64) (float64, daq.AttenuatorError) {
	if _, aerr := p.TestAttenuate(level); aerr != daq.AttOK {
		return level, aerr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Level = level
	p.IsMuted = false
	return level, daq.AttOK
}

// TestWrite maps intensity 1:1 onto the level.
func (p *Pseudo) TestWrite(intensity, frequency float64) (float64, daq.AttenuatorError) {
	return p.TestAttenuate(-intensity)
}

// Write records the level for the engine's scale fold.
func (p *Pseudo) Write(intensity, frequency float64) (float64, daq.AttenuatorError) {
	return p.Attenuate(-intensity)
}

// Mute records the mute; the engine zeroes the scale.
func (p *Pseudo) Mute() daq.AttenuatorError {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IsMuted = true
	return daq.AttOK
}
