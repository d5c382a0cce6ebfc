package slcan

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-can-chardev/internal/can"
)

func TestEncodeFrame(t *testing.T) {
	cases := []struct {
		name string
		msg  can.Msg
		want string
	}{
		{"std", can.Msg{Hdr: can.Hdr{ID: 0x123, DLC: 2}, Data: [can.MaxDataFD]byte{0xAA, 0xBB}}, "t1232AABB\r"},
		{"std-empty", can.Msg{Hdr: can.Hdr{ID: 0x7FF, DLC: 0}}, "t7FF0\r"},
		{"ext", can.Msg{Hdr: can.Hdr{ID: 0x1ABCDEF0, DLC: 1, ExtID: true}, Data: [can.MaxDataFD]byte{0x42}}, "T1ABCDEF0142\r"},
		{"rtr", can.Msg{Hdr: can.Hdr{ID: 0x55, DLC: 3, RTR: true}}, "r0553\r"},
		{"ext-rtr", can.Msg{Hdr: can.Hdr{ID: 0x1000, DLC: 0, RTR: true, ExtID: true}}, "R000010000\r"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := EncodeFrame(&c.msg)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != c.want {
				t.Fatalf("got %q want %q", got, c.want)
			}
		})
	}
}

func TestEncodeRejectsFDLengths(t *testing.T) {
	m := can.Msg{Hdr: can.Hdr{ID: 1, DLC: 9}}
	if _, err := EncodeFrame(&m); err == nil {
		t.Fatal("dlc 9 encoded for a classic-only adapter")
	}
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	msgs := []can.Msg{
		{Hdr: can.Hdr{ID: 0x123, DLC: 2}, Data: [can.MaxDataFD]byte{0xAA, 0xBB}},
		{Hdr: can.Hdr{ID: 0x1ABCDEF0, DLC: 8, ExtID: true}, Data: [can.MaxDataFD]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{Hdr: can.Hdr{ID: 0x55, DLC: 3, RTR: true}},
	}
	for _, m := range msgs {
		line, err := EncodeFrame(&m)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeFrame(bytes.TrimRight(line, "\r"))
		if err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if got.Hdr != m.Hdr {
			t.Fatalf("hdr %+v want %+v", got.Hdr, m.Hdr)
		}
		n := can.DLCToBytes(m.Hdr.DLC, false)
		if !m.Hdr.RTR && !bytes.Equal(got.Data[:n], m.Data[:n]) {
			t.Fatalf("data % x want % x", got.Data[:n], m.Data[:n])
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	bad := []string{
		"",
		"x1230",
		"t123",      // missing dlc
		"t1232AA",   // short payload
		"t1232AABBC", // long payload
		"t123Z",     // bad dlc digit
		"t12G0",     // bad id digit
		"r0553AA",   // rtr with payload
		"t1239",     // dlc beyond classic
	}
	for _, s := range bad {
		if _, err := DecodeFrame([]byte(s)); err == nil {
			t.Errorf("decoded malformed line %q", s)
		}
	}
}
