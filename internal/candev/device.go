// Package candev implements the hardware-independent upper half of a
// CAN character device. It owns a three-cursor transmit ring, a receive
// ring with remote-request rendezvous and the open/close/read/write/
// ioctl facade; a lower-half Driver provides the controller-specific
// transport underneath it.
//
// Mutual exclusion between thread-level entry points and interrupt-side
// callbacks is a per-device interrupt line (irq.Line). Every cursor,
// waiter count and RTR slot is touched only while the line is held;
// blocking waits release the line while suspended and re-validate their
// predicate on wakeup.
package candev

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/devfs"
	"github.com/kstaniek/go-can-chardev/internal/irq"
	"github.com/kstaniek/go-can-chardev/internal/logging"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
	"github.com/kstaniek/go-can-chardev/internal/sem"
	"github.com/kstaniek/go-can-chardev/internal/work"
)

// Driver is the lower-half controller interface. Reset and Ioctl are
// called without the device's interrupt line; TxEmpty is also called
// without it while the last close polls for the hardware to drain.
// Every other call is made with the line held and must not suspend.
//
// Send hands one frame to the hardware. It may complete the transfer
// synchronously by calling Upper.TxDoneLocked before returning; the
// upper half advances its queue cursor before calling Send so that a
// synchronous completion observes a consistent ring.
type Driver interface {
	// Reset returns the controller to a known state. Called once at
	// device creation, before the node is published.
	Reset() error
	// Setup configures the controller for use. Called on first open.
	Setup() error
	// Shutdown disables the controller. Called on last close.
	Shutdown() error
	// RxInt enables or disables receive interrupts.
	RxInt(enable bool)
	// TxInt enables or disables transmit-completion interrupts.
	TxInt(enable bool)
	// TxReady reports whether the hardware can accept a frame.
	TxReady() bool
	// TxEmpty reports whether all hardware transmit buffers are idle.
	TxEmpty() bool
	// Send hands one frame to the hardware.
	Send(m *can.Msg) error
	// RemoteRequest transmits a remote frame asking for id.
	RemoteRequest(id uint32) error
	// Ioctl handles commands the upper half does not recognize.
	Ioctl(cmd int, arg any) (int, error)
}

// Upper is the callback surface the upper half exposes to lower halves.
// Receive, TxDone and TxReady take the interrupt line themselves and
// are what a controller's interrupt delivery calls. TxDoneLocked is the
// one exception: it must only be called from within Driver.Send, where
// the line is already held.
type Upper interface {
	Receive(hdr can.Hdr, data []byte) error
	TxDone() error
	TxReady() error
	TxDoneLocked() error
}

// Binder is implemented by lower halves that deliver interrupts and
// need the upper-half callbacks. New calls Bind before Reset.
type Binder interface {
	Bind(up Upper)
}

// Device is the upper-half state for one CAN character device.
type Device struct {
	cfg  Config
	drv  Driver
	line irq.Line
	log  *slog.Logger

	xmit txFIFO
	recv rxFIFO

	rtr      []rtrWait
	npendRTR int

	ocount     uint8
	ntxWaiters uint32
	nrxWaiters uint32
	errLatch   uint8

	closeSem *sem.Counting
	txWork   work.Work
}

var _ devfs.Ops = (*Device)(nil)
var _ Upper = (*Device)(nil)

// New builds a device over drv, binds the callbacks and resets the
// controller. The returned device is ready to be registered.
func New(cfg Config, drv Driver) (*Device, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if drv == nil {
		return nil, fmt.Errorf("candev: nil driver")
	}
	d := &Device{
		cfg:      cfg,
		drv:      drv,
		log:      cfg.Logger,
		xmit:     newTxFIFO(cfg.NTx),
		recv:     newRxFIFO(cfg.NRx),
		rtr:      make([]rtrWait, cfg.NRtr),
		closeSem: sem.New(1),
	}
	if d.log == nil {
		d.log = logging.L()
	}
	for i := range d.rtr {
		d.rtr[i].sem = sem.New(0)
	}
	if b, ok := drv.(Binder); ok {
		b.Bind(d)
	}
	if err := drv.Reset(); err != nil {
		return nil, fmt.Errorf("candev: reset: %w", err)
	}
	return d, nil
}

// Register publishes the device at path in reg with mode 0666.
func Register(reg *devfs.Registry, path string, d *Device) error {
	d.log.Info("can_register", "path", path)
	return reg.Register(path, 0o666, d)
}

// assertf reports a cursor-protocol violation. These indicate
// programming bugs, never bad input, and are fatal.
func (d *Device) assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("candev: "+format, args...))
	}
}

func (d *Device) traceCursors(where string) {
	d.log.Debug("xmit_cursors", "where", where,
		"head", d.xmit.head, "queue", d.xmit.queue, "tail", d.xmit.tail)
}

// xmitLocked feeds the hardware from the queue cursor until the ring is
// drained or the hardware stops accepting. It returns the number of
// frames handed over and the first send error, or errNothingToSend when
// the ring was empty on entry. Caller holds the interrupt line.
func (d *Device) xmitLocked() (int, error) {
	d.traceCursors("xmit")

	if d.xmit.empty() {
		d.assertf(d.xmit.queue == d.xmit.head,
			"empty tx fifo with queue=%d head=%d", d.xmit.queue, d.xmit.head)
		if d.cfg.TxReadyWork == nil {
			// Without a hardware FIFO there is nothing left to
			// complete, so TX interrupts can be quiesced. With one,
			// they must stay armed until the hardware drains.
			d.drv.TxInt(false)
		}
		return 0, errNothingToSend
	}

	var (
		sent int
		err  error
	)
	for d.xmit.queue != d.xmit.tail && d.drv.TxReady() {
		d.assertf(!d.xmit.empty(), "tx fifo drained during xmit")

		// Advance queue before Send: a synchronous completion from
		// inside Send consumes from head and must observe head < queue.
		idx := d.xmit.queue
		d.xmit.queue = d.xmit.next(d.xmit.queue)

		if err = d.drv.Send(&d.xmit.buf[idx]); err != nil {
			d.log.Warn("dev_send_failed", "error", err)
			break
		}
		sent++
		metrics.IncDevTx()
	}

	d.drv.TxInt(true)
	return sent, err
}
