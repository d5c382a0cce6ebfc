package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-can-chardev/internal/candev"
	"github.com/kstaniek/go-can-chardev/internal/lower"
	"github.com/kstaniek/go-can-chardev/internal/serial"
	"github.com/kstaniek/go-can-chardev/internal/slcan"
	"github.com/kstaniek/go-can-chardev/internal/socketcan"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// initBackend builds the lower-half controller selected by the config
// and a cleanup for resources that outlive the device.
func initBackend(cfg *appConfig, l *slog.Logger) (candev.Driver, func(), error) {
	switch cfg.backend {
	case "loopback":
		l.Info("backend_loopback")
		return lower.NewLoopback(loopbackWireDepth), func() {}, nil
	case "slcan":
		port, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, func() {}, fmt.Errorf("open serial: %w", err)
		}
		l.Info("backend_slcan", "device", cfg.serialDev, "baud", cfg.baud)
		return slcan.New(port), func() { _ = port.Close() }, nil
	case "socketcan":
		l.Info("backend_socketcan", "if", cfg.canIf)
		return socketcan.New(cfg.canIf), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use loopback|slcan|socketcan)", cfg.backend)
	}
}
