package transport

import (
	"io"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/cnl"
)

// FrameDecoder decodes a single CAN frame from a stream.
type FrameDecoder interface {
	Decode(r io.Reader) (can.Msg, error)
}

// MultiFrameDecoder optionally drains multiple frames from a stream.
type MultiFrameDecoder interface {
	DecodeN(r io.Reader, max int, onMsg func(can.Msg)) (int, error)
}

// FrameBatchEncoder can encode batches efficiently (either to bytes or directly to writer).
type FrameBatchEncoder interface {
	Encode([]can.Msg) []byte
	EncodeTo(w io.Writer, msgs []can.Msg) (int, error)
}

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Msg) error
}

// Compile-time assertions that *cnl.Codec satisfies the optional capabilities.
var (
	_ FrameDecoder      = (*cnl.Codec)(nil)
	_ MultiFrameDecoder = (*cnl.Codec)(nil)
	_ FrameBatchEncoder = (*cnl.Codec)(nil)
)
