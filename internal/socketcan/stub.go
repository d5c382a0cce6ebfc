//go:build !linux

// Package socketcan adapts a Linux raw CAN socket into a lower-half
// controller. On non-linux platforms only this stub is compiled so the
// daemon still builds; selecting the backend fails at startup.
package socketcan

import (
	"errors"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/candev"
)

var errUnsupported = errors.New("socketcan: only available on linux")

// Driver is the non-linux placeholder.
type Driver struct{}

func New(iface string) *Driver { return &Driver{} }

func (d *Driver) Bind(up candev.Upper) {}

func (d *Driver) Reset() error { return errUnsupported }

func (d *Driver) Setup() error { return errUnsupported }

func (d *Driver) Shutdown() error { return nil }

func (d *Driver) RxInt(enable bool) {}

func (d *Driver) TxInt(enable bool) {}

func (d *Driver) TxReady() bool { return false }

func (d *Driver) TxEmpty() bool { return true }

func (d *Driver) Send(m *can.Msg) error { return errUnsupported }

func (d *Driver) RemoteRequest(id uint32) error { return errUnsupported }

func (d *Driver) Ioctl(cmd int, arg any) (int, error) { return 0, errUnsupported }
