package candev

import (
	"bytes"
	"context"
	"testing"

	"github.com/kstaniek/go-can-chardev/internal/can"
)

func TestFDFrameRoundTrip(t *testing.T) {
	drv := newFakeDriver()
	cfg := baseCfg()
	cfg.FD = true
	d := newTestDevice(t, cfg, drv)
	ctx := context.Background()

	out := can.Msg{Hdr: can.Hdr{ID: 0x600, DLC: 9}} // 12 data bytes
	for i := 0; i < 12; i++ {
		out.Data[i] = byte(0xF0 + i)
	}
	buf := make([]byte, can.MsgLen(can.MaxDataFD))
	n, err := can.EncodeMsg(buf, &out, true)
	if err != nil {
		t.Fatal(err)
	}
	if wn, err := d.Write(ctx, 0, buf[:n]); err != nil || wn != can.MsgLen(12) {
		t.Fatalf("write: n=%d err=%v", wn, err)
	}
	if err := d.TxDone(); err != nil {
		t.Fatal(err)
	}

	sent := drv.sentAt(0)
	if err := d.Receive(sent.Hdr, sent.Data[:12]); err != nil {
		t.Fatal(err)
	}
	rd := make([]byte, 128)
	rn, err := d.Read(ctx, 0, rd)
	if err != nil || rn != can.MsgLen(12) {
		t.Fatalf("read: n=%d err=%v", rn, err)
	}
	got, _, err := can.DecodeMsg(rd[:rn], true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hdr != out.Hdr || !bytes.Equal(got.Data[:12], out.Data[:12]) {
		t.Fatalf("fd round trip mismatch: %+v", got.Hdr)
	}
}

// On a classic device a DLC above 8 still moves only 8 payload bytes.
func TestClassicClampsHighDLC(t *testing.T) {
	drv := newFakeDriver()
	d := newTestDevice(t, baseCfg(), drv)
	ctx := context.Background()

	out := can.Msg{Hdr: can.Hdr{ID: 0x601, DLC: 12}}
	for i := 0; i < 8; i++ {
		out.Data[i] = byte(i + 1)
	}
	buf := make([]byte, can.MsgLen(can.MaxDataFD))
	n, err := can.EncodeMsg(buf, &out, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != can.MsgLen(8) {
		t.Fatalf("classic encode length %d", n)
	}
	wn, err := d.Write(ctx, 0, buf[:n])
	if err != nil || wn != can.MsgLen(8) {
		t.Fatalf("write: n=%d err=%v", wn, err)
	}
}

func TestExtIDStrippedWhenDisabled(t *testing.T) {
	drv := newFakeDriver()
	d := newTestDevice(t, baseCfg(), drv) // ExtID off
	m := can.Msg{Hdr: can.Hdr{ID: 0x1F, DLC: 0, ExtID: true}}
	if err := d.Receive(m.Hdr, nil); err != nil {
		t.Fatal(err)
	}
	rd := make([]byte, 64)
	n, err := d.Read(context.Background(), 0, rd)
	if err != nil {
		t.Fatal(err)
	}
	got, _, _ := can.DecodeMsg(rd[:n], false)
	if got.Hdr.ExtID {
		t.Fatal("extended-id flag survived on a standard-only device")
	}
}
