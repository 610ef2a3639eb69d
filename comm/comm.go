/*Package comm provides the serial/TCP link layer for rack devices that
the acquisition core talks to over a wire protocol, such as programmable
attenuators and trigger boxes.

Most usages boil down to:
 1. embed Link in a type that represents your device
 2. pass custom terminators to NewLink if the device does not use
    carriage returns
 3. write methods on top of SendRecv for the device's command set

Connects and write->read transactions are done under a lock, so a Link
is safe to share between the engine's writer path and a status poller.
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when IsSerial is true but no serial
	// configuration was provided
	ErrNoSerialConf = errors.New("serial link without serial.Config")

	// ErrNotConnected is generated when Send or Recv is called on a
	// closed link
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is
	// missing from a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// DefaultTerminator is the default transmission termination byte.
const DefaultTerminator = byte('\r')

// Terminators holds the Rx and Tx terminators, one byte each.
type Terminators struct {
	Rx, Tx byte
}

// Link is a TCP or serial connection to a remote device.
type Link struct {
	sync.Mutex

	// Addr is the remote address, host:port or a serial device path
	Addr string

	// IsSerial selects serial (true) or TCP (false) transport
	IsSerial bool

	// Timeout bounds connects, reads and writes
	Timeout time.Duration

	// Conn is the underlying connection; nil when closed
	Conn io.ReadWriteCloser

	txTerm byte
	rxTerm byte
	serCfg *serial.Config
}

// NewLink creates an unconnected Link.  t may be nil for carriage return
// terminators; s must be non-nil for serial links.
func NewLink(addr string, isSerial bool, t *Terminators, s *serial.Config) Link {
	rx, tx := DefaultTerminator, DefaultTerminator
	if t != nil {
		rx, tx = t.Rx, t.Tx
	}
	return Link{
		Addr:     addr,
		IsSerial: isSerial,
		Timeout:  3 * time.Second,
		txTerm:   tx,
		rxTerm:   rx,
		serCfg:   s,
	}
}

// Open establishes the connection.  Repeated connection attempts back
// off exponentially; devices on terminal servers do not like being
// connection thrashed.  Open on an open link is a no-op.
func (l *Link) Open() error {
	if l.Conn != nil {
		return nil
	}
	l.Lock()
	defer l.Unlock()
	wasTimeout := false
	op := func() error {
		err := l.open()
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s", l.Addr)
	}
	return err
}

func (l *Link) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if l.IsSerial {
		if l.serCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(l.serCfg)
	} else {
		conn, err = tcpSetup(l.Addr, l.Timeout)
	}
	if err != nil {
		return err
	}
	l.Conn = conn
	return nil
}

// Close closes the connection.  Errors from an already closed connection
// are benign and suppressed.
func (l *Link) Close() error {
	l.Lock()
	defer l.Unlock()
	if l.Conn == nil {
		return nil
	}
	err := l.Conn.Close()
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "closed") {
		err = nil
	}
	if err == nil {
		l.Conn = nil
	}
	return err
}

// Send writes b with the Tx terminator appended.
func (l *Link) Send(b []byte) error {
	if l.Conn == nil {
		return ErrNotConnected
	}
	if conn, ok := l.Conn.(net.Conn); ok {
		conn.SetDeadline(time.Now().Add(l.Timeout))
	}
	b = append(b, l.txTerm)
	_, err := l.Conn.Write(b)
	return err
}

// Recv reads a response and strips the Rx terminator.
func (l *Link) Recv() ([]byte, error) {
	if l.Conn == nil {
		return nil, ErrNotConnected
	}
	buf, err := bufio.NewReader(l.Conn).ReadBytes(l.rxTerm)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{l.rxTerm}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv performs one write->read transaction under the link's lock.
func (l *Link) SendRecv(b []byte) ([]byte, error) {
	if l.Conn == nil {
		return []byte{}, ErrNotConnected
	}
	l.Lock()
	defer l.Unlock()
	if err := l.Send(b); err != nil {
		return []byte{}, err
	}
	return l.Recv()
}

func tcpSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Now().Add(timeout))
	return conn, nil
}
