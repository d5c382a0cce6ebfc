package candev

import (
	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/sem"
)

// rtrWait is one pending remote-request slot. A slot is occupied while
// dest is non-nil; the table is small and scanned linearly.
type rtrWait struct {
	id   uint32
	dest *can.Msg
	sem  *sem.Counting
}

// rtrRegister claims the first free slot for id writing into dest.
// Caller holds the interrupt line.
func (d *Device) rtrRegister(id uint32, dest *can.Msg) *rtrWait {
	for i := range d.rtr {
		w := &d.rtr[i]
		if w.dest == nil {
			w.id = id
			w.dest = dest
			d.npendRTR++
			return w
		}
	}
	return nil
}

// rtrResolve copies the incoming frame into every occupied slot whose
// id matches, clears those slots and wakes their waiters. It reports
// whether any slot matched. Caller holds the interrupt line.
func (d *Device) rtrResolve(hdr can.Hdr, data []byte) bool {
	if d.npendRTR == 0 {
		return false
	}
	matched := false
	nbytes := int(can.DLCToBytes(hdr.DLC, d.cfg.FD))
	for i := range d.rtr {
		w := &d.rtr[i]
		if w.dest == nil || w.id != hdr.ID {
			continue
		}
		w.dest.Hdr = hdr
		n := copy(w.dest.Data[:nbytes], data)
		for ; n < len(w.dest.Data); n++ {
			w.dest.Data[n] = 0
		}
		w.dest = nil
		d.npendRTR--
		w.sem.Post()
		matched = true
	}
	return matched
}
