package can

import (
	"encoding/binary"
	"errors"
)

// Serialized frame layout (little-endian host order):
//
//	[0:4]  identifier, 11 or 29 bits
//	[4]    bits 0..3 DLC, bit 4 RTR, bit 5 error, bit 6 extended id
//	[5]    padding, zero
//	[6:]   payload, DLCToBytes(DLC) bytes
const (
	flagRTR   = 1 << 4
	flagErr   = 1 << 5
	flagExtID = 1 << 6
)

// ErrShortBuffer is returned when a buffer cannot hold a full header or
// the payload implied by the header's DLC.
var ErrShortBuffer = errors.New("can: short buffer")

// EncodeHdr packs h into the first HdrSize bytes of dst.
func EncodeHdr(dst []byte, h Hdr) error {
	if len(dst) < HdrSize {
		return ErrShortBuffer
	}
	mask := uint32(CAN_SFF_MASK)
	if h.ExtID {
		mask = CAN_EFF_MASK
	}
	binary.LittleEndian.PutUint32(dst[0:4], h.ID&mask)
	b := h.DLC & 0x0F
	if h.RTR {
		b |= flagRTR
	}
	if h.Err {
		b |= flagErr
	}
	if h.ExtID {
		b |= flagExtID
	}
	dst[4] = b
	dst[5] = 0
	return nil
}

// DecodeHdr unpacks a header from the first HdrSize bytes of src.
func DecodeHdr(src []byte) (Hdr, error) {
	if len(src) < HdrSize {
		return Hdr{}, ErrShortBuffer
	}
	b := src[4]
	h := Hdr{
		DLC:   b & 0x0F,
		RTR:   b&flagRTR != 0,
		Err:   b&flagErr != 0,
		ExtID: b&flagExtID != 0,
	}
	id := binary.LittleEndian.Uint32(src[0:4])
	if h.ExtID {
		h.ID = id & CAN_EFF_MASK
	} else {
		h.ID = id & CAN_SFF_MASK
	}
	return h, nil
}

// EncodeMsg serializes m into dst and returns the number of bytes
// written, MsgLen(DLCToBytes(m.Hdr.DLC, fd)).
func EncodeMsg(dst []byte, m *Msg, fd bool) (int, error) {
	n := int(DLCToBytes(m.Hdr.DLC, fd))
	msglen := MsgLen(n)
	if len(dst) < msglen {
		return 0, ErrShortBuffer
	}
	if err := EncodeHdr(dst, m.Hdr); err != nil {
		return 0, err
	}
	copy(dst[HdrSize:msglen], m.Data[:n])
	return msglen, nil
}

// DecodeMsg deserializes one frame from the front of src and returns it
// with the number of bytes consumed.
func DecodeMsg(src []byte, fd bool) (Msg, int, error) {
	var m Msg
	n, err := DecodeMsgInto(&m, src, fd)
	return m, n, err
}

// DecodeMsgInto deserializes one frame from the front of src into m and
// returns the number of bytes consumed.
func DecodeMsgInto(m *Msg, src []byte, fd bool) (int, error) {
	hdr, err := DecodeHdr(src)
	if err != nil {
		return 0, err
	}
	n := int(DLCToBytes(hdr.DLC, fd))
	msglen := MsgLen(n)
	if len(src) < msglen {
		return 0, ErrShortBuffer
	}
	m.Hdr = hdr
	copy(m.Data[:n], src[HdrSize:msglen])
	for i := n; i < len(m.Data); i++ {
		m.Data[i] = 0
	}
	return msglen, nil
}
