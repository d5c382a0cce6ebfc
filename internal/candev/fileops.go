package candev

import (
	"context"
	"runtime"
	"time"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/devfs"
)

// Ioctl commands handled by the upper half. Anything else is forwarded
// verbatim to the lower half.
const (
	// IoctlRTR sends a remote transmission request and waits for the
	// matching response. The argument is a *RTRRequest.
	IoctlRTR = 0x43_52_01
)

// RTRRequest is the IoctlRTR payload: the identifier to request and the
// frame the response is delivered into.
type RTRRequest struct {
	ID  uint32
	Msg *can.Msg
}

// Open counts a reference to the device. The first open sets up the
// hardware, empties both rings and enables receive interrupts.
func (d *Device) Open(ctx context.Context) error {
	if err := d.closeSem.Wait(ctx, nil); err != nil {
		return interrupted(err)
	}
	defer d.closeSem.Post()
	d.log.Debug("can_open", "ocount", d.ocount)

	tmp := d.ocount + 1
	if tmp == 0 {
		// More than 255 opens; the counter would wrap.
		return ErrTooManyOpens
	}
	if tmp > 1 {
		d.ocount = tmp
		return nil
	}

	st := d.line.Save()
	defer st.Restore()
	if err := d.drv.Setup(); err != nil {
		return err
	}
	d.xmit.reset()
	d.recv.reset()
	d.drv.RxInt(true)
	d.ocount = 1
	return nil
}

// Release drops a reference. The last close stops input, waits for the
// software and hardware transmit paths to drain, then shuts the
// controller down. The drain polls are deliberately uninterruptible.
func (d *Device) Release(ctx context.Context) error {
	if err := d.closeSem.Wait(ctx, nil); err != nil {
		return interrupted(err)
	}
	defer d.closeSem.Post()
	d.log.Debug("can_close", "ocount", d.ocount)

	if d.ocount > 1 {
		d.ocount--
		return nil
	}
	d.ocount = 0

	st := d.line.Save()
	d.drv.RxInt(false)
	st.Restore()

	for !d.txDrained() {
		d.drainPause()
	}
	for !d.drv.TxEmpty() {
		d.drainPause()
	}

	st = d.line.Save()
	err := d.drv.Shutdown()
	st.Restore()
	return err
}

func (d *Device) txDrained() bool {
	st := d.line.Save()
	drained := d.xmit.empty()
	st.Restore()
	return drained
}

func (d *Device) drainPause() {
	if d.cfg.BusyWaitClose {
		deadline := time.Now().Add(d.cfg.drainInterval())
		for time.Now().Before(deadline) {
			runtime.Gosched()
		}
		return
	}
	time.Sleep(d.cfg.drainInterval())
}

// Read drains buffered frames into p. A caller buffer that cannot hold
// the smallest frame is not an error; Read returns 0 and consumes
// nothing. When the device has a latched internal error, a synthesized
// error frame is returned ahead of any data.
func (d *Device) Read(ctx context.Context, flags devfs.OpenFlag, p []byte) (int, error) {
	if len(p) < can.MsgLen(0) {
		return 0, nil
	}

	st := d.line.Save()
	defer st.Restore()

	if d.cfg.Errors && d.errLatch != 0 {
		if len(p) < can.MsgLen(int(can.ErrorDLC)) {
			return 0, nil
		}
		var m can.Msg
		m.Hdr = can.Hdr{ID: can.InternalErrorID, DLC: can.ErrorDLC, Err: true}
		m.Data[5] = d.errLatch
		d.errLatch = 0
		n, err := can.EncodeMsg(p, &m, d.cfg.FD)
		if err != nil {
			return 0, err
		}
		return n, nil
	}

	for d.recv.empty() {
		if flags&devfs.NonBlock != 0 {
			return 0, ErrWouldBlock
		}

		// Bumped once around the whole blocking episode; the sem can
		// wake us with the ring already drained by another reader, so
		// re-check and go back to sleep.
		d.nrxWaiters++
		var err error
		for {
			err = d.recv.sem.Wait(ctx, &d.line)
			if err != nil || !d.recv.empty() {
				break
			}
		}
		d.nrxWaiters--
		if err != nil {
			return 0, interrupted(err)
		}
	}

	nread := 0
	for !d.recv.empty() {
		m := &d.recv.buf[d.recv.head]
		msglen := can.MsgLen(int(can.DLCToBytes(m.Hdr.DLC, d.cfg.FD)))
		if nread+msglen > len(p) {
			break
		}
		n, err := can.EncodeMsg(p[nread:], m, d.cfg.FD)
		if err != nil {
			return nread, err
		}
		nread += n
		d.recv.head = d.recv.next(d.recv.head)
	}
	return nread, nil
}

// Write copies serialized frames from p into the transmit ring and
// kicks the hardware when it was idle. Trailing bytes shorter than a
// minimum frame are ignored. On a full ring a blocking writer suspends
// until a completion frees a slot; a non-blocking writer gets
// ErrWouldBlock if nothing was accepted yet.
func (d *Device) Write(ctx context.Context, flags devfs.OpenFlag, p []byte) (int, error) {
	st := d.line.Save()
	defer st.Restore()

	// If the hardware is idle there is no completion interrupt coming
	// to drain the ring for us; remember to kick it ourselves.
	inactive := d.drv.TxEmpty()

	nsent := 0
	for len(p)-nsent >= can.MsgLen(0) {
		hdr, err := can.DecodeHdr(p[nsent:])
		if err != nil {
			break
		}
		if !d.cfg.ExtID {
			hdr.ExtID = false
		}
		msglen := can.MsgLen(int(can.DLCToBytes(hdr.DLC, d.cfg.FD)))
		if nsent+msglen > len(p) {
			// Truncated trailing frame; stop at the clean boundary.
			break
		}

		for d.xmit.full() {
			if flags&devfs.NonBlock != 0 {
				if nsent == 0 {
					return 0, ErrWouldBlock
				}
				return nsent, nil
			}
			if inactive {
				_, _ = d.xmitLocked()
			}

			d.assertf(d.ntxWaiters < 255, "tx waiter count overflow")
			d.ntxWaiters++
			err := d.xmit.sem.Wait(ctx, &d.line)
			d.ntxWaiters--
			if err != nil {
				return nsent, interrupted(err)
			}
			inactive = d.drv.TxEmpty()
		}

		slot := &d.xmit.buf[d.xmit.tail]
		if _, err := can.DecodeMsgInto(slot, p[nsent:nsent+msglen], d.cfg.FD); err != nil {
			return nsent, err
		}
		if !d.cfg.ExtID {
			slot.Hdr.ExtID = false
		}
		d.xmit.tail = d.xmit.next(d.xmit.tail)
		nsent += msglen
	}

	if inactive {
		_, _ = d.xmitLocked()
	}
	return nsent, nil
}

// Ioctl dispatches device control commands.
func (d *Device) Ioctl(ctx context.Context, cmd int, arg any) (int, error) {
	d.log.Debug("can_ioctl", "cmd", cmd)
	switch cmd {
	case IoctlRTR:
		req, ok := arg.(*RTRRequest)
		if !ok || req == nil || req.Msg == nil {
			return 0, ErrBadIoctl
		}
		return 0, d.rtrRead(ctx, req)
	default:
		return d.drv.Ioctl(cmd, arg)
	}
}

// rtrRead performs the send-wait-receive remote request: claim a table
// slot, transmit the remote frame, then wait for the receive path to
// deliver the response into the caller's frame.
func (d *Device) rtrRead(ctx context.Context, req *RTRRequest) error {
	st := d.line.Save()
	defer st.Restore()

	w := d.rtrRegister(req.ID, req.Msg)
	if w == nil {
		return ErrNoSlot
	}

	release := func() {
		// Abandon the slot unless the receive path already resolved it.
		if w.dest != nil {
			w.dest = nil
			d.npendRTR--
		}
	}

	if err := d.drv.RemoteRequest(req.ID); err != nil {
		release()
		return err
	}
	if err := w.sem.Wait(ctx, &d.line); err != nil {
		if w.dest == nil {
			// Resolved concurrently with the cancellation; the
			// response is in the caller's frame, count it a success.
			// Drain the wakeup so the slot's next user doesn't
			// inherit a stale credit.
			w.sem.TryWait()
			return nil
		}
		release()
		return interrupted(err)
	}
	return nil
}
