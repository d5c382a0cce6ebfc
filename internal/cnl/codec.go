// Package cnl implements the TCP bridge wire format: one frame is a
// 4-byte big-endian identifier word with SocketCAN-style EFF/RTR/ERR
// flag bits, one payload length byte, then the payload. Classic
// endpoints accept lengths up to 8, CAN FD endpoints up to 64.
package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
)

// Codec encodes/decodes bridge frames. Stateless and safe for
// concurrent use; FD widens the accepted payload range.
type Codec struct {
	FD bool
}

// ErrInvalidLength is returned when a frame length is outside the
// range the endpoint accepts.
var ErrInvalidLength = errors.New("cnl: invalid length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("cnl: truncated frame")

func (c *Codec) maxLen() int {
	if c.FD {
		return can.MaxDataFD
	}
	return can.MaxDataClassic
}

// Encode packs frames into a single buffer.
func (c *Codec) Encode(msgs []can.Msg) []byte {
	if len(msgs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(msgs) * (4 + 1 + can.MaxDataClassic))
	_, _ = c.EncodeTo(&buf, msgs)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of msgs to w and returns
// bytes written.
func (c *Codec) EncodeTo(w io.Writer, msgs []can.Msg) (int, error) {
	var total int
	for i := range msgs {
		m := &msgs[i]
		nbytes := int(can.DLCToBytes(m.Hdr.DLC, c.FD))
		var hdr [5]byte
		binary.BigEndian.PutUint32(hdr[:4], can.PackID(m.Hdr))
		hdr[4] = byte(nbytes)
		n, err := w.Write(hdr[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("cnl encode hdr: %w", err)
		}
		if nbytes > 0 {
			n, err = w.Write(m.Data[:nbytes])
			total += n
			if err != nil {
				return total, fmt.Errorf("cnl encode data: %w", err)
			}
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF if called
// at a clean frame boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (can.Msg, error) {
	var m can.Msg
	var idb [4]byte
	if _, err := io.ReadFull(r, idb[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return m, fmt.Errorf("cnl decode id: %w", ErrTruncatedFrame)
		}
		return m, err
	}
	m.Hdr = can.UnpackID(binary.BigEndian.Uint32(idb[:]))

	var lb [1]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		if errors.Is(err, io.EOF) {
			metrics.IncMalformed()
			return m, fmt.Errorf("cnl decode length: %w", ErrTruncatedFrame)
		}
		return m, err
	}
	ln := int(lb[0])
	if ln > c.maxLen() {
		metrics.IncMalformed()
		return m, fmt.Errorf("cnl decode: %w (%d)", ErrInvalidLength, ln)
	}
	m.Hdr.DLC = can.BytesToDLC(uint8(ln), c.FD)
	if ln > 0 {
		if _, err := io.ReadFull(r, m.Data[:ln]); err != nil {
			metrics.IncMalformed()
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return m, fmt.Errorf("cnl decode payload: %w", ErrTruncatedFrame)
			}
			return m, fmt.Errorf("cnl decode payload: %w", err)
		}
	}
	return m, nil
}

// DecodeN decodes up to max frames (if max>0) or until EOF (if max<=0)
// invoking onMsg for each. It returns the number of frames decoded and
// the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onMsg func(can.Msg)) (int, error) {
	var n int
	for max <= 0 || n < max {
		m, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onMsg(m)
		n++
	}
	return n, nil
}
