package candev

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-chardev/internal/can"
)

// fakeDriver is a scriptable lower half. Hook functions run while the
// device's interrupt line is held, so they must not call the
// self-masking device entry points; tests fire those from their own
// goroutines instead.
type fakeDriver struct {
	up Upper

	mu         sync.Mutex
	sent       []can.Msg
	remoteReqs []uint32
	ioctls     []int
	setups     int
	shutdowns  int
	resets     int
	rxEnabled  bool
	txIntOn    bool

	txReadyFn func() bool
	txEmptyFn func() bool
	sendFn    func(m *can.Msg) error // runs after the frame is recorded
	setupErr  error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		txReadyFn: func() bool { return true },
		txEmptyFn: func() bool { return true },
	}
}

func (f *fakeDriver) Bind(up Upper) { f.up = up }

func (f *fakeDriver) Reset() error { f.mu.Lock(); f.resets++; f.mu.Unlock(); return nil }

func (f *fakeDriver) Setup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setupErr != nil {
		return f.setupErr
	}
	f.setups++
	return nil
}

func (f *fakeDriver) Shutdown() error { f.mu.Lock(); f.shutdowns++; f.mu.Unlock(); return nil }

func (f *fakeDriver) RxInt(enable bool) { f.mu.Lock(); f.rxEnabled = enable; f.mu.Unlock() }
func (f *fakeDriver) TxInt(enable bool) { f.mu.Lock(); f.txIntOn = enable; f.mu.Unlock() }

func (f *fakeDriver) TxReady() bool { return f.txReadyFn() }
func (f *fakeDriver) TxEmpty() bool { return f.txEmptyFn() }

func (f *fakeDriver) Send(m *can.Msg) error {
	f.mu.Lock()
	f.sent = append(f.sent, *m)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(m)
	}
	return nil
}

func (f *fakeDriver) RemoteRequest(id uint32) error {
	f.mu.Lock()
	f.remoteReqs = append(f.remoteReqs, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) Ioctl(cmd int, arg any) (int, error) {
	f.mu.Lock()
	f.ioctls = append(f.ioctls, cmd)
	f.mu.Unlock()
	return 42, nil
}

func (f *fakeDriver) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeDriver) sentAt(i int) can.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i]
}

// newTestDevice builds an opened device over a fake driver.
func newTestDevice(t *testing.T, cfg Config, drv *fakeDriver) *Device {
	t.Helper()
	d, err := New(cfg, drv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func mkMsg(id uint32, dlc uint8, data ...byte) can.Msg {
	m := can.Msg{Hdr: can.Hdr{ID: id, DLC: dlc}}
	copy(m.Data[:], data)
	return m
}

func encMsg(t *testing.T, m can.Msg, fd bool) []byte {
	t.Helper()
	buf := make([]byte, can.MsgLen(can.MaxDataFD))
	n, err := can.EncodeMsg(buf, &m, fd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf[:n]
}

// cursors snapshots the TX ring state under the interrupt line.
func (d *Device) cursors() (head, queue, tail int) {
	st := d.line.Save()
	defer st.Restore()
	return d.xmit.head, d.xmit.queue, d.xmit.tail
}

func (d *Device) txWaiters() uint32 {
	st := d.line.Save()
	defer st.Restore()
	return d.ntxWaiters
}

func (d *Device) rxEmpty() bool {
	st := d.line.Save()
	defer st.Restore()
	return d.recv.empty()
}

func (d *Device) pendingRTR() int {
	st := d.line.Save()
	defer st.Restore()
	return d.npendRTR
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// checkOrdered asserts head <= queue <= tail in the unwrapped sense by
// walking forward from head.
func checkOrdered(t *testing.T, d *Device) {
	t.Helper()
	head, queue, tail := d.cursors()
	n := len(d.xmit.buf)
	dq := (queue - head + n) % n
	dt := (tail - head + n) % n
	if dq > dt {
		t.Fatalf("cursor order violated: head=%d queue=%d tail=%d", head, queue, tail)
	}
}
