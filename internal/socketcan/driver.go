//go:build linux

// Package socketcan adapts a Linux raw CAN socket into a lower-half
// controller, so the character device can sit on top of a kernel CAN
// interface (vcan, real hardware behind socketcan, etc.).
package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/candev"
	"github.com/kstaniek/go-can-chardev/internal/logging"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
)

// Driver is a lower half backed by one AF_CAN raw socket.
type Driver struct {
	iface string
	fd    int
	up    candev.Upper

	rxEnabled atomic.Bool
	running   atomic.Bool
}

// New returns a driver for the named CAN interface. The socket is not
// opened until Setup.
func New(iface string) *Driver {
	return &Driver{iface: iface, fd: -1}
}

// Bind stores the upper-half callbacks.
func (d *Driver) Bind(up candev.Upper) { d.up = up }

// Reset has no work to do before the socket exists.
func (d *Driver) Reset() error { return nil }

// Setup opens and binds the raw socket and starts the receive loop.
func (d *Driver) Setup() error {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(d.iface)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("if %q: %w", d.iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("bind(can@%s): %w", d.iface, err)
	}
	d.fd = fd
	d.running.Store(true)
	go d.readLoop(fd)
	return nil
}

// Shutdown closes the socket, which also terminates the receive loop.
func (d *Driver) Shutdown() error {
	d.running.Store(false)
	if d.fd >= 0 {
		err := unix.Close(d.fd)
		d.fd = -1
		return err
	}
	return nil
}

func (d *Driver) RxInt(enable bool) { d.rxEnabled.Store(enable) }
func (d *Driver) TxInt(enable bool) {}

// TxReady and TxEmpty: the kernel queues behind the socket, so the
// device is always willing to take a frame and never reports pending
// hardware state of its own.
func (d *Driver) TxReady() bool { return true }
func (d *Driver) TxEmpty() bool { return true }

// Send writes one classic CAN frame to the socket and completes the
// transfer.
//
// struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// The kernel takes fields in host byte order; common Linux targets are
// little-endian.
func (d *Driver) Send(m *can.Msg) error {
	if d.fd < 0 {
		return errors.New("socketcan: not set up")
	}
	nbytes := can.DLCToBytes(m.Hdr.DLC, false)
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], can.PackID(m.Hdr))
	buf[4] = nbytes
	copy(buf[8:], m.Data[:nbytes])
	if _, err := unix.Write(d.fd, buf[:]); err != nil {
		metrics.IncError(metrics.ErrLowerHalf)
		return fmt.Errorf("socketcan send: %w", err)
	}
	return d.up.TxDoneLocked()
}

// RemoteRequest writes a remote frame for id.
func (d *Driver) RemoteRequest(id uint32) error {
	m := can.Msg{Hdr: can.Hdr{ID: id, RTR: true, ExtID: id > can.CAN_SFF_MASK}}
	if d.fd < 0 {
		return errors.New("socketcan: not set up")
	}
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], can.PackID(m.Hdr))
	if _, err := unix.Write(d.fd, buf[:]); err != nil {
		metrics.IncError(metrics.ErrLowerHalf)
		return fmt.Errorf("socketcan remote request: %w", err)
	}
	return nil
}

// Ioctl has no socket-level commands.
func (d *Driver) Ioctl(cmd int, arg any) (int, error) {
	return 0, fmt.Errorf("socketcan: unsupported ioctl %#x", cmd)
}

func (d *Driver) readLoop(fd int) {
	for {
		var buf [unix.CAN_MTU]byte
		n, err := unix.Read(fd, buf[:])
		if err != nil {
			if d.running.Load() {
				logging.L().Warn("socketcan_read_error", "error", err)
				metrics.IncError(metrics.ErrLowerHalf)
			}
			return
		}
		if n != unix.CAN_MTU {
			metrics.IncMalformed()
			continue
		}
		if !d.rxEnabled.Load() {
			continue
		}
		hdr := can.UnpackID(binary.LittleEndian.Uint32(buf[0:4]))
		dlc := buf[4]
		if dlc > 8 {
			dlc = 8
		}
		hdr.DLC = dlc
		_ = d.up.Receive(hdr, buf[8:8+dlc])
	}
}
