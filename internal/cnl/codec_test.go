package cnl

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/kstaniek/go-can-chardev/internal/can"
)

func frame(id uint32, ext, rtr bool, data ...byte) can.Msg {
	m := can.Msg{Hdr: can.Hdr{ID: id, ExtID: ext, RTR: rtr, DLC: can.BytesToDLC(uint8(len(data)), true)}}
	copy(m.Data[:], data)
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := &Codec{}
	msgs := []can.Msg{
		frame(0x123, false, false, 0xAA, 0xBB),
		frame(0x1FFFFFFF, true, false, 1, 2, 3, 4, 5, 6, 7, 8),
		frame(0x42, false, true),
	}
	buf := bytes.NewReader(c.Encode(msgs))
	for i, want := range msgs {
		got, err := c.Decode(buf)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if got.Hdr != want.Hdr {
			t.Fatalf("frame %d hdr %+v want %+v", i, got.Hdr, want.Hdr)
		}
		n := can.DLCToBytes(want.Hdr.DLC, false)
		if !bytes.Equal(got.Data[:n], want.Data[:n]) {
			t.Fatalf("frame %d data mismatch", i)
		}
	}
	if _, err := c.Decode(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("tail: got %v want EOF", err)
	}
}

func TestDecodeRejectsLongClassic(t *testing.T) {
	c := &Codec{}
	raw := []byte{0, 0, 1, 0x23, 9}
	if _, err := c.Decode(bytes.NewReader(raw)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("got %v", err)
	}
}

func TestDecodeAcceptsFDLengths(t *testing.T) {
	c := &Codec{FD: true}
	m := frame(0x10, false, false, make([]byte, 64)...)
	got, err := c.Decode(bytes.NewReader(c.Encode([]can.Msg{m})))
	if err != nil {
		t.Fatal(err)
	}
	if got.Hdr.DLC != 15 {
		t.Fatalf("dlc %d want 15", got.Hdr.DLC)
	}
}

func TestDecodeTruncated(t *testing.T) {
	c := &Codec{}
	full := c.Encode([]can.Msg{frame(0x123, false, false, 1, 2, 3)})
	if _, err := c.Decode(bytes.NewReader(full[:len(full)-1])); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("got %v", err)
	}
}

func TestDecodeN(t *testing.T) {
	c := &Codec{}
	msgs := []can.Msg{frame(1, false, false, 9), frame(2, false, false, 8)}
	var seen []uint32
	n, err := c.DecodeN(bytes.NewReader(c.Encode(msgs)), 0, func(m can.Msg) { seen = append(seen, m.Hdr.ID) })
	if !errors.Is(err, io.EOF) || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("order %v", seen)
	}
}

func FuzzDecode(f *testing.F) {
	c := &Codec{}
	f.Add([]byte{0, 0, 1, 0x23, 2, 0xAA, 0xBB})
	f.Add([]byte{0x80, 0, 0, 1, 0})
	f.Fuzz(func(t *testing.T, raw []byte) {
		r := bytes.NewReader(raw)
		for {
			if _, err := c.Decode(r); err != nil {
				return
			}
		}
	})
}

func BenchmarkEncodeTo(b *testing.B) {
	c := &Codec{}
	msgs := make([]can.Msg, 64)
	for i := range msgs {
		msgs[i] = frame(uint32(i), false, false, 1, 2, 3, 4, 5, 6, 7, 8)
	}
	var sink bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		sink.Reset()
		if _, err := c.EncodeTo(&sink, msgs); err != nil {
			b.Fatal(err)
		}
	}
}
