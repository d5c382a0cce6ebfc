// Package slcan implements a lower-half controller speaking the
// Lawicel SLCAN ASCII protocol over a serial port. One frame is one
// CR-terminated line:
//
//	tIIIL[DD..]   standard data frame
//	TIIIIIIIIL..  extended data frame
//	rIIIL         standard remote frame
//	RIIIIIIIIL    extended remote frame
//
// where I are hex identifier digits, L the single-digit length and DD
// hex payload bytes.
package slcan

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/candev"
	"github.com/kstaniek/go-can-chardev/internal/logging"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
	"github.com/kstaniek/go-can-chardev/internal/serial"
)

const (
	cmdOpen  = "O\r"
	cmdClose = "C\r"
)

// ErrBadLine is returned for a line that is not a valid SLCAN frame.
var ErrBadLine = errors.New("slcan: malformed line")

// Driver is an SLCAN adapter behind a serial port. A serial adapter has
// no transmit FIFO visible to us: a write to the port is the transfer,
// so sends complete synchronously.
type Driver struct {
	port serial.Port
	up   candev.Upper

	rxEnabled atomic.Bool
	running   atomic.Bool
	done      chan struct{}
}

// New wraps an open serial port.
func New(port serial.Port) *Driver {
	return &Driver{port: port}
}

// Bind stores the upper-half callbacks.
func (d *Driver) Bind(up candev.Upper) { d.up = up }

// Reset closes the adapter channel so Setup starts from a known state.
func (d *Driver) Reset() error {
	_, err := d.port.Write([]byte(cmdClose))
	return err
}

// Setup opens the adapter channel and starts the reader.
func (d *Driver) Setup() error {
	if _, err := d.port.Write([]byte(cmdOpen)); err != nil {
		return fmt.Errorf("slcan open: %w", err)
	}
	if d.running.Swap(true) {
		return nil
	}
	d.done = make(chan struct{})
	go d.readLoop(d.done)
	return nil
}

// Shutdown closes the adapter channel and stops the reader.
func (d *Driver) Shutdown() error {
	if d.running.Swap(false) {
		close(d.done)
	}
	_, err := d.port.Write([]byte(cmdClose))
	return err
}

func (d *Driver) RxInt(enable bool) { d.rxEnabled.Store(enable) }
func (d *Driver) TxInt(enable bool) {}

func (d *Driver) TxReady() bool { return true }
func (d *Driver) TxEmpty() bool { return true }

// Send writes one frame line and completes the transfer.
func (d *Driver) Send(m *can.Msg) error {
	line, err := EncodeFrame(m)
	if err != nil {
		return err
	}
	if _, err := d.port.Write(line); err != nil {
		metrics.IncError(metrics.ErrLowerHalf)
		return fmt.Errorf("slcan send: %w", err)
	}
	return d.up.TxDoneLocked()
}

// RemoteRequest transmits a zero-length remote frame for id.
func (d *Driver) RemoteRequest(id uint32) error {
	m := can.Msg{Hdr: can.Hdr{ID: id, RTR: true, ExtID: id > can.CAN_SFF_MASK}}
	line, err := EncodeFrame(&m)
	if err != nil {
		return err
	}
	if _, err := d.port.Write(line); err != nil {
		metrics.IncError(metrics.ErrLowerHalf)
		return fmt.Errorf("slcan remote request: %w", err)
	}
	return nil
}

// Ioctl passes raw command lines through to the adapter. cmd is
// ignored; arg must be a string ending in CR.
func (d *Driver) Ioctl(cmd int, arg any) (int, error) {
	s, ok := arg.(string)
	if !ok {
		return 0, fmt.Errorf("slcan: unsupported ioctl %#x", cmd)
	}
	if _, err := d.port.Write([]byte(s)); err != nil {
		return 0, err
	}
	return 0, nil
}

// readLoop accumulates bytes from the port and feeds complete lines to
// the upper half.
func (d *Driver) readLoop(done chan struct{}) {
	buf := make([]byte, 256)
	var acc []byte
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := d.port.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			acc = d.drainLines(acc)
		}
		if err != nil {
			if !d.running.Load() {
				return
			}
			logging.L().Warn("slcan_read_error", "error", err)
			metrics.IncError(metrics.ErrLowerHalf)
			return
		}
	}
}

func (d *Driver) drainLines(acc []byte) []byte {
	for {
		cr := -1
		for i, b := range acc {
			if b == '\r' || b == '\n' {
				cr = i
				break
			}
		}
		if cr < 0 {
			return acc
		}
		line := acc[:cr]
		acc = acc[cr+1:]
		if len(line) == 0 {
			continue
		}
		m, err := DecodeFrame(line)
		if err != nil {
			metrics.IncMalformed()
			logging.L().Debug("slcan_bad_line", "line", string(line))
			continue
		}
		if d.rxEnabled.Load() {
			nbytes := can.DLCToBytes(m.Hdr.DLC, false)
			_ = d.up.Receive(m.Hdr, m.Data[:nbytes])
		}
	}
}

// EncodeFrame renders m as a CR-terminated SLCAN line.
func EncodeFrame(m *can.Msg) ([]byte, error) {
	nbytes := int(can.DLCToBytes(m.Hdr.DLC, false))
	if m.Hdr.DLC > 8 {
		return nil, fmt.Errorf("slcan: dlc %d beyond classic CAN", m.Hdr.DLC)
	}
	var line []byte
	switch {
	case m.Hdr.RTR && m.Hdr.ExtID:
		line = append(line, 'R')
	case m.Hdr.RTR:
		line = append(line, 'r')
	case m.Hdr.ExtID:
		line = append(line, 'T')
	default:
		line = append(line, 't')
	}
	if m.Hdr.ExtID {
		line = appendHex(line, m.Hdr.ID&can.CAN_EFF_MASK, 8)
	} else {
		line = appendHex(line, m.Hdr.ID&can.CAN_SFF_MASK, 3)
	}
	line = append(line, hexDigit(uint32(m.Hdr.DLC)))
	if !m.Hdr.RTR {
		for _, b := range m.Data[:nbytes] {
			line = appendHex(line, uint32(b), 2)
		}
	}
	return append(line, '\r'), nil
}

// DecodeFrame parses one SLCAN line (without the CR).
func DecodeFrame(line []byte) (can.Msg, error) {
	var m can.Msg
	if len(line) < 1 {
		return m, ErrBadLine
	}
	kind := line[0]
	idDigits := 3
	switch kind {
	case 'T', 'R':
		m.Hdr.ExtID = true
		idDigits = 8
	case 't', 'r':
	default:
		return m, ErrBadLine
	}
	m.Hdr.RTR = kind == 'r' || kind == 'R'
	if len(line) < 1+idDigits+1 {
		return m, ErrBadLine
	}
	id, err := parseHex(line[1 : 1+idDigits])
	if err != nil {
		return m, err
	}
	m.Hdr.ID = id
	dlc, err := parseHex(line[1+idDigits : 1+idDigits+1])
	if err != nil || dlc > 8 {
		return m, ErrBadLine
	}
	m.Hdr.DLC = uint8(dlc)
	if m.Hdr.RTR {
		if len(line) != 1+idDigits+1 {
			return m, ErrBadLine
		}
		return m, nil
	}
	payload := line[1+idDigits+1:]
	if len(payload) != int(dlc)*2 {
		return m, ErrBadLine
	}
	for i := 0; i < int(dlc); i++ {
		b, err := parseHex(payload[i*2 : i*2+2])
		if err != nil {
			return m, err
		}
		m.Data[i] = byte(b)
	}
	return m, nil
}

func hexDigit(v uint32) byte {
	const digits = "0123456789ABCDEF"
	return digits[v&0xF]
}

func appendHex(dst []byte, v uint32, digits int) []byte {
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, hexDigit(v>>(uint(i)*4)))
	}
	return dst
}

func parseHex(s []byte) (uint32, error) {
	var v uint32
	for _, c := range s {
		var d uint32
		switch {
		case c >= '0' && c <= '9':
			d = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint32(c-'A') + 10
		default:
			return 0, ErrBadLine
		}
		v = v<<4 | d
	}
	return v, nil
}
