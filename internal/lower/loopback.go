// Package lower provides in-memory lower-half controllers. The
// loopback controller echoes transmitted frames back to the receive
// path and answers remote requests from a response table; it backs the
// default daemon backend and end-to-end tests.
package lower

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/candev"
)

// ErrNotSupported is returned for ioctl commands the loopback has no
// use for.
var ErrNotSupported = errors.New("lower: unsupported ioctl")

// Loopback is a virtual CAN controller: every frame it transmits is
// delivered back through the upper-half receive callback, as if a bus
// partner echoed it.
type Loopback struct {
	up candev.Upper

	rxEnabled atomic.Bool
	running   atomic.Bool

	mu         sync.Mutex
	responders map[uint32]can.Msg

	ch   chan can.Msg
	done chan struct{}
}

// NewLoopback returns a stopped loopback controller. depth sizes the
// virtual wire between transmit and receive.
func NewLoopback(depth int) *Loopback {
	if depth <= 0 {
		depth = 64
	}
	return &Loopback{
		responders: make(map[uint32]can.Msg),
		ch:         make(chan can.Msg, depth),
	}
}

// Bind stores the upper-half callbacks.
func (l *Loopback) Bind(up candev.Upper) { l.up = up }

// Respond installs the frame delivered when a remote request for id
// arrives.
func (l *Loopback) Respond(id uint32, m can.Msg) {
	l.mu.Lock()
	l.responders[id] = m
	l.mu.Unlock()
}

func (l *Loopback) Reset() error {
	l.rxEnabled.Store(false)
	return nil
}

// Setup starts the virtual wire pump.
func (l *Loopback) Setup() error {
	if l.running.Swap(true) {
		return nil
	}
	l.done = make(chan struct{})
	go l.pump(l.done)
	return nil
}

// Shutdown stops the pump. Frames still on the wire are dropped.
func (l *Loopback) Shutdown() error {
	if !l.running.Swap(false) {
		return nil
	}
	close(l.done)
	return nil
}

func (l *Loopback) pump(done chan struct{}) {
	for {
		select {
		case m := <-l.ch:
			if !l.rxEnabled.Load() {
				continue
			}
			n := can.DLCToBytes(m.Hdr.DLC, true)
			_ = l.up.Receive(m.Hdr, m.Data[:n])
		case <-done:
			return
		}
	}
}

func (l *Loopback) RxInt(enable bool) { l.rxEnabled.Store(enable) }
func (l *Loopback) TxInt(enable bool) {}

func (l *Loopback) TxReady() bool { return len(l.ch) < cap(l.ch) }
func (l *Loopback) TxEmpty() bool { return len(l.ch) == 0 }

// Send puts the frame on the virtual wire and completes synchronously.
func (l *Loopback) Send(m *can.Msg) error {
	select {
	case l.ch <- *m:
	default:
		return errors.New("lower: loopback wire full")
	}
	return l.up.TxDoneLocked()
}

// RemoteRequest delivers the installed response for id, if any. An
// unanswered request is not an error; the bus just stays silent.
func (l *Loopback) RemoteRequest(id uint32) error {
	l.mu.Lock()
	m, ok := l.responders[id]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case l.ch <- m:
	default:
		return errors.New("lower: loopback wire full")
	}
	return nil
}

func (l *Loopback) Ioctl(cmd int, arg any) (int, error) { return 0, ErrNotSupported }
