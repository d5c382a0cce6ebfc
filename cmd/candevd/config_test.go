package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		backend:      "loopback",
		devPath:      "/dev/can0",
		serialDev:    "/dev/ttyUSB0",
		baud:         115200,
		serialReadTO: 50 * time.Millisecond,
		canIf:        "can0",
		ntx:          32,
		nrx:          32,
		nrtr:         4,
		txReady:      "off",
		listenAddr:   ":20000",
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    512,
		hubPolicy:    "drop",
		handshakeTO:  3 * time.Second,
		clientReadTO: time.Minute,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("default-shaped config rejected: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*appConfig)
	}{
		{"bad backend", func(c *appConfig) { c.backend = "pigeon" }},
		{"bad log format", func(c *appConfig) { c.logFormat = "xml" }},
		{"bad log level", func(c *appConfig) { c.logLevel = "loud" }},
		{"bad hub policy", func(c *appConfig) { c.hubPolicy = "explode" }},
		{"bad txready", func(c *appConfig) { c.txReady = "mid" }},
		{"empty dev path", func(c *appConfig) { c.devPath = "" }},
		{"tiny tx fifo", func(c *appConfig) { c.ntx = 1 }},
		{"tiny rx fifo", func(c *appConfig) { c.nrx = 1 }},
		{"no rtr slots", func(c *appConfig) { c.nrtr = 0 }},
		{"zero hub buffer", func(c *appConfig) { c.hubBuffer = 0 }},
		{"zero baud", func(c *appConfig) { c.baud = 0 }},
		{"negative max clients", func(c *appConfig) { c.maxClients = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("validate accepted a bad config")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CANDEVD_BACKEND", "slcan")
	t.Setenv("CANDEVD_TX_FIFO", "64")
	t.Setenv("CANDEVD_FD", "yes")
	t.Setenv("CANDEVD_HANDSHAKE_TIMEOUT", "5s")
	cfg := validConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{}); err != nil {
		t.Fatal(err)
	}
	if cfg.backend != "slcan" || cfg.ntx != 64 || !cfg.fd || cfg.handshakeTO != 5*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestFlagsWinOverEnv(t *testing.T) {
	t.Setenv("CANDEVD_BACKEND", "socketcan")
	cfg := validConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{"backend": {}}); err != nil {
		t.Fatal(err)
	}
	if cfg.backend != "loopback" {
		t.Fatalf("flag value lost to environment: %s", cfg.backend)
	}
}

func TestEnvOverrideBadNumber(t *testing.T) {
	t.Setenv("CANDEVD_BAUD", "fast")
	cfg := validConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{}); err == nil {
		t.Fatal("invalid numeric env accepted")
	}
}
