// Package can defines the CAN frame model shared by the upper-half
// character driver, the lower-half controllers and the network codecs.
//
// A frame is a fixed 6-byte packed header followed by up to 64 data
// bytes (8 for classic CAN). The header carries the identifier, the
// 4-bit data length code and the RTR/error/extended-id flag bits.
package can

// SocketCAN flag bits for a packed can_id (same values as <linux/can.h>).
// Used by the stream codecs and the raw-socket lower half, which carry
// EFF/RTR/ERR in the upper bits of a 32-bit identifier word.
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

const (
	// HdrSize is the serialized header size in bytes.
	HdrSize = 6

	// MaxDataClassic and MaxDataFD bound the payload for the two bus
	// flavors. Msg always reserves room for the larger.
	MaxDataClassic = 8
	MaxDataFD      = 64

	// MaxDLC is the largest encodable data length code.
	MaxDLC = 15
)

// Internal error reporting. When error reporting is enabled, a latched
// internal error is surfaced to the reader as a single frame with
// InternalErrorID, ErrorDLC data bytes and the latch value in Data[5].
const (
	InternalErrorID uint32 = 0x7F0
	ErrorDLC        uint8  = 8

	// Latch bits (Data[5] of the error frame).
	ErrorRxOverflow uint8 = 1 << 0
)

// Hdr is the decoded CAN frame header.
type Hdr struct {
	ID    uint32 // 11-bit standard or 29-bit extended identifier
	DLC   uint8  // data length code, 0..15
	RTR   bool   // remote transmission request
	Err   bool   // error frame
	ExtID bool   // 29-bit identifier
}

// Msg is a CAN frame held by value. Only the first DLCToBytes(Hdr.DLC)
// bytes of Data are meaningful.
type Msg struct {
	Hdr  Hdr
	Data [MaxDataFD]byte
}

// MsgLen returns the serialized length of a frame carrying n data bytes.
func MsgLen(n int) int { return HdrSize + n }

// PackID folds a header into a SocketCAN-style 32-bit identifier word
// with the EFF/RTR/ERR flags in the upper bits.
func PackID(h Hdr) uint32 {
	id := h.ID & CAN_SFF_MASK
	if h.ExtID {
		id = h.ID&CAN_EFF_MASK | CAN_EFF_FLAG
	}
	if h.RTR {
		id |= CAN_RTR_FLAG
	}
	if h.Err {
		id |= CAN_ERR_FLAG
	}
	return id
}

// UnpackID splits a SocketCAN-style identifier word into a header with
// a zero DLC.
func UnpackID(canid uint32) Hdr {
	h := Hdr{
		RTR:   canid&CAN_RTR_FLAG != 0,
		Err:   canid&CAN_ERR_FLAG != 0,
		ExtID: canid&CAN_EFF_FLAG != 0,
	}
	if h.ExtID {
		h.ID = canid & CAN_EFF_MASK
	} else {
		h.ID = canid & CAN_SFF_MASK
	}
	return h
}
