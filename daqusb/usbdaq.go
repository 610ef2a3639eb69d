// Package daqusb implements an analog input and output back-end for USB
// DAQ devices that speak a text control protocol ("AISCAN:RATE=20000",
// "?AI{0}:SLOPE") next to bulk data endpoints.
//
// Control telegrams are CRC framed; streamed samples are little-endian
// unsigned 16 bit values that are converted with per-channel calibration
// slope and offset.  Bulk transfer timeouts are derived from the
// requested buffer duration.
package daqusb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/gousb"
	"github.com/snksoft/crc"

	"github.com/relacs/relacsd/options"
)

var (
	// ErrNotOpen is returned by operations on an unopened device
	ErrNotOpen = errors.New("usb daq not open")

	// ErrBadFrame is returned when a control response fails the CRC
	ErrBadFrame = errors.New("usb daq: control frame crc mismatch")

	crcTable = crc.NewTable(crc.XMODEM)
)

const (
	// control endpoints carry the text protocol
	controlOutEndpoint = 1
	controlInEndpoint  = 1
	// stream endpoints carry bulk sample data
	streamInEndpoint  = 2
	streamOutEndpoint = 2

	maxControlFrame = 64
)

// transport is the shared USB plumbing under the input and output halves.
type transport struct {
	mu sync.Mutex

	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	closer func()

	ctlIn  *gousb.InEndpoint
	ctlOut *gousb.OutEndpoint
	bulkIn *gousb.InEndpoint
	bulkOut *gousb.OutEndpoint

	name string
	open bool

	// timeout for one bulk transfer, derived from the buffer duration
	bulkTimeout time.Duration
}

// parseSpec reads "vid:pid" in hex, e.g. "09db:00ea".
func parseSpec(spec string) (uint16, uint16, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("device spec %q not of the form vid:pid", spec)
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad vendor id %q: %v", parts[0], err)
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad product id %q: %v", parts[1], err)
	}
	return uint16(vid), uint16(pid), nil
}

// open claims the device.  The claim is retried with exponential
// backoff; a freshly replugged device needs a moment before it accepts
// an interface claim.
func (t *transport) open(spec string, opts *options.Options) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return nil
	}
	vid, pid, err := parseSpec(spec)
	if err != nil {
		return err
	}

	op := func() error {
		t.ctx = gousb.NewContext()
		t.device, err = t.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
		if err != nil {
			t.ctx.Close()
			return err
		}
		if t.device == nil {
			t.ctx.Close()
			return fmt.Errorf("no usb device %s", spec)
		}
		if err := t.device.SetAutoDetach(true); err != nil {
			t.device.Close()
			t.ctx.Close()
			return err
		}
		t.iface, t.closer, err = t.device.DefaultInterface()
		if err != nil {
			t.device.Close()
			t.ctx.Close()
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Second,
		MaxElapsedTime:      5 * time.Second,
		Clock:               backoff.SystemClock}); err != nil {
		return err
	}

	if t.ctlIn, err = t.iface.InEndpoint(controlInEndpoint); err != nil {
		t.release()
		return err
	}
	if t.ctlOut, err = t.iface.OutEndpoint(controlOutEndpoint); err != nil {
		t.release()
		return err
	}
	if t.bulkIn, err = t.iface.InEndpoint(streamInEndpoint); err != nil {
		t.release()
		return err
	}
	if t.bulkOut, err = t.iface.OutEndpoint(streamOutEndpoint); err != nil {
		t.release()
		return err
	}

	t.name = spec
	t.bulkTimeout = 100 * time.Millisecond
	t.open = true
	return nil
}

func (t *transport) release() {
	if t.closer != nil {
		t.closer()
		t.closer = nil
	}
	if t.device != nil {
		t.device.Close()
		t.device = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
}

func (t *transport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	t.release()
	return nil
}

// frame wraps a control message: length byte, payload, XMODEM CRC16.
func frame(msg string) []byte {
	b := make([]byte, 0, len(msg)+3)
	b = append(b, byte(len(msg)))
	b = append(b, msg...)
	sum := crc.CalculateCRC(crcTable, []byte(msg))
	var c [2]byte
	binary.BigEndian.PutUint16(c[:], uint16(sum))
	return append(b, c[:]...)
}

// unframe validates and strips a control frame.
func unframe(b []byte) (string, error) {
	if len(b) < 3 {
		return "", ErrBadFrame
	}
	n := int(b[0])
	if len(b) < n+3 {
		return "", ErrBadFrame
	}
	msg := b[1 : n+1]
	want := binary.BigEndian.Uint16(b[n+1 : n+3])
	if uint16(crc.CalculateCRC(crcTable, msg)) != want {
		return "", ErrBadFrame
	}
	return string(msg), nil
}

// sendMessage performs one control transaction: send a framed command,
// read the framed response.
func (t *transport) sendMessage(msg string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return "", ErrNotOpen
	}
	if _, err := t.ctlOut.Write(frame(msg)); err != nil {
		return "", fmt.Errorf("control write %q: %w", msg, err)
	}
	buf := make([]byte, maxControlFrame)
	n, err := t.ctlIn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("control read for %q: %w", msg, err)
	}
	return unframe(buf[:n])
}

// queryFloat sends a "?..." query and parses "NAME=<value>".
func (t *transport) queryFloat(msg string) (float64, error) {
	resp, err := t.sendMessage(msg)
	if err != nil {
		return 0, err
	}
	eq := strings.LastIndex(resp, "=")
	if eq < 0 {
		return 0, fmt.Errorf("malformed response %q to %q", resp, msg)
	}
	return strconv.ParseFloat(resp[eq+1:], 64)
}

// setBufferDuration derives the bulk transfer timeout from the duration
// of buffered data, with headroom for USB scheduling.
func (t *transport) setBufferDuration(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bulkTimeout = d + d/2 + 50*time.Millisecond
}

// calibration converts raw codes to volts: v = (raw-zero)*slope + offset.
type calibration struct {
	slope  float64
	offset float64
}

// queryCalibration fetches the calibration of one channel.
func (t *transport) queryCalibration(sub string, channel int) (calibration, error) {
	c := calibration{slope: 1.0}
	slope, err := t.queryFloat(fmt.Sprintf("?%s{%d}:SLOPE", sub, channel))
	if err != nil {
		return c, err
	}
	offset, err := t.queryFloat(fmt.Sprintf("?%s{%d}:OFFSET", sub, channel))
	if err != nil {
		return c, err
	}
	c.slope = slope
	c.offset = offset
	return c, nil
}
