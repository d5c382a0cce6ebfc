package candev

import (
	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
)

// Receive delivers an inbound frame from the lower half. A frame that
// satisfies a pending remote request is routed straight to the waiter
// and never enters the ring; anything else is buffered, or dropped with
// the overflow bit latched when the ring is full.
func (d *Device) Receive(hdr can.Hdr, data []byte) error {
	st := d.line.Save()
	defer st.Restore()

	d.log.Debug("can_receive", "id", hdr.ID, "dlc", hdr.DLC)

	if !d.cfg.ExtID {
		hdr.ExtID = false
	}

	if d.rtrResolve(hdr, data) {
		metrics.IncRTRMatched()
		return nil
	}

	next := d.recv.next(d.recv.tail)
	if next == d.recv.head {
		if d.cfg.Errors {
			d.errLatch |= can.ErrorRxOverflow
		}
		metrics.IncDevRxOverflow()
		return ErrRxOverflow
	}

	slot := &d.recv.buf[d.recv.tail]
	slot.Hdr = hdr
	nbytes := int(can.DLCToBytes(hdr.DLC, d.cfg.FD))
	n := copy(slot.Data[:nbytes], data)
	for ; n < len(slot.Data); n++ {
		slot.Data[n] = 0
	}
	d.recv.tail = next

	metrics.IncDevRx()
	if d.nrxWaiters > 0 {
		d.recv.sem.Post()
	}
	return nil
}

// TxDone reports that the hardware finished (or, with a hardware FIFO,
// accepted) the oldest in-flight frame. It frees the slot, feeds the
// hardware the next frame and wakes one blocked writer.
func (d *Device) TxDone() error {
	st := d.line.Save()
	defer st.Restore()
	return d.TxDoneLocked()
}

// TxDoneLocked is TxDone for callers that already hold the interrupt
// line — specifically a Driver.Send that completes synchronously.
func (d *Device) TxDoneLocked() error {
	d.traceCursors("txdone")

	if d.xmit.empty() {
		return ErrTxEmpty
	}

	// xmit advances queue before every Send, so a completion always
	// observes the in-flight region non-empty.
	d.assertf(d.xmit.head != d.xmit.queue,
		"txdone with head=%d == queue", d.xmit.head)

	d.xmit.head = d.xmit.next(d.xmit.head)

	_, _ = d.xmitLocked()

	if d.ntxWaiters > 0 {
		d.xmit.sem.Post()
	}
	return nil
}

// TxReady bridges controllers with a hardware TX FIFO: when the FIFO
// stops being full no further completion interrupts are coming, so the
// lower half calls TxReady and the upper half schedules a transmit kick
// on the deferred-work queue. Feeding the hardware can post semaphores,
// which must not happen in interrupt context.
func (d *Device) TxReady() error {
	st := d.line.Save()
	defer st.Restore()

	d.traceCursors("txready")

	if d.cfg.TxReadyWork == nil {
		return ErrTxReadyDisabled
	}
	if d.xmit.empty() {
		return ErrTxEmpty
	}
	if !d.txWork.Available() {
		return ErrBusy
	}
	return d.cfg.TxReadyWork.Submit(&d.txWork, d.txReadyWork)
}

// txReadyWork runs on the deferred-work queue. It re-checks the ring
// under the line, feeds the hardware and wakes a blocked writer if any
// frame went out.
func (d *Device) txReadyWork() {
	st := d.line.Save()
	defer st.Restore()

	metrics.IncTxReadyWork()

	if d.xmit.empty() {
		return
	}
	sent, err := d.xmitLocked()
	if err == nil && sent > 0 && d.ntxWaiters > 0 {
		d.xmit.sem.Post()
	}
}
