package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	backend      string
	devPath      string
	serialDev    string
	baud         int
	serialReadTO time.Duration
	canIf        string

	ntx         int
	nrx         int
	nrtr        int
	fd          bool
	errorFrames bool
	txReady     string

	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	backend := flag.String("backend", "loopback", "CAN backend: loopback|slcan|socketcan")
	devPath := flag.String("dev-path", "/dev/can0", "Character device path in the process-local registry")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path (when --backend=slcan)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	ntx := flag.Int("tx-fifo", 32, "TX ring capacity in slots")
	nrx := flag.Int("rx-fifo", 32, "RX ring capacity in slots")
	nrtr := flag.Int("rtr-slots", 4, "Pending remote-request table size")
	fd := flag.Bool("fd", false, "Enable CAN FD data length coding")
	errorFrames := flag.Bool("error-frames", true, "Report latched internal errors as error frames")
	txReady := flag.String("txready", "off", "Deferred TX-ready work queue: off|hi|lo")
	listen := flag.String("listen", ":20000", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Client handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default candevd-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.devPath = *devPath
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.canIf = *canIf
	cfg.ntx = *ntx
	cfg.nrx = *nrx
	cfg.nrtr = *nrtr
	cfg.fd = *fd
	cfg.errorFrames = *errorFrames
	cfg.txReady = *txReady
	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.backend {
	case "loopback", "slcan", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	switch c.txReady {
	case "off", "hi", "lo":
	default:
		return fmt.Errorf("invalid txready: %s", c.txReady)
	}
	if c.devPath == "" {
		return errors.New("dev-path must not be empty")
	}
	if c.ntx < 2 {
		return fmt.Errorf("tx-fifo must be >= 2 (got %d)", c.ntx)
	}
	if c.nrx < 2 {
		return fmt.Errorf("rx-fifo must be >= 2 (got %d)", c.nrx)
	}
	if c.nrtr < 1 {
		return fmt.Errorf("rtr-slots must be >= 1 (got %d)", c.nrtr)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CANDEVD_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing is lax:
// empty values ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, min int, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("backend", "CANDEVD_BACKEND", &c.backend)
	str("dev-path", "CANDEVD_DEV_PATH", &c.devPath)
	str("serial", "CANDEVD_SERIAL", &c.serialDev)
	num("baud", "CANDEVD_BAUD", 1, &c.baud)
	dur("serial-read-timeout", "CANDEVD_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("can-if", "CANDEVD_IF", &c.canIf)
	num("tx-fifo", "CANDEVD_TX_FIFO", 2, &c.ntx)
	num("rx-fifo", "CANDEVD_RX_FIFO", 2, &c.nrx)
	num("rtr-slots", "CANDEVD_RTR_SLOTS", 1, &c.nrtr)
	boolean("fd", "CANDEVD_FD", &c.fd)
	boolean("error-frames", "CANDEVD_ERROR_FRAMES", &c.errorFrames)
	str("txready", "CANDEVD_TXREADY", &c.txReady)
	str("listen", "CANDEVD_LISTEN", &c.listenAddr)
	str("log-format", "CANDEVD_LOG_FORMAT", &c.logFormat)
	str("log-level", "CANDEVD_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANDEVD_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	num("hub-buffer", "CANDEVD_HUB_BUFFER", 1, &c.hubBuffer)
	str("hub-policy", "CANDEVD_HUB_POLICY", &c.hubPolicy)
	dur("log-metrics-interval", "CANDEVD_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	num("max-clients", "CANDEVD_MAX_CLIENTS", 0, &c.maxClients)
	dur("handshake-timeout", "CANDEVD_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "CANDEVD_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	boolean("mdns-enable", "CANDEVD_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "CANDEVD_MDNS_NAME", &c.mdnsName)
	return firstErr
}
