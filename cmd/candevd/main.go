package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstaniek/go-can-chardev/internal/candev"
	"github.com/kstaniek/go-can-chardev/internal/cnl"
	"github.com/kstaniek/go-can-chardev/internal/devfs"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
	"github.com/kstaniek/go-can-chardev/internal/server"
	"github.com/kstaniek/go-can-chardev/internal/work"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("candevd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	drv, backendCleanup, err := initBackend(cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	defer backendCleanup()

	devCfg := candev.Config{
		NTx:    cfg.ntx,
		NRx:    cfg.nrx,
		NRtr:   cfg.nrtr,
		FD:     cfg.fd,
		ExtID:  true,
		Errors: cfg.errorFrames,
		Logger: l,
	}
	var workQ *work.Queue
	switch cfg.txReady {
	case "hi":
		workQ = work.NewQueue("hpwork", workQueueDepth)
	case "lo":
		workQ = work.NewQueue("lpwork", workQueueDepth)
	}
	if workQ != nil {
		devCfg.TxReadyWork = workQ
		defer workQ.Close()
	}

	dev, err := candev.New(devCfg, drv)
	if err != nil {
		l.Error("device_init_error", "error", err)
		return
	}
	registry := devfs.NewRegistry()
	if err := candev.Register(registry, cfg.devPath, dev); err != nil {
		l.Error("device_register_error", "error", err)
		return
	}
	handle, err := registry.OpenFile(ctx, cfg.devPath, 0)
	if err != nil {
		l.Error("device_open_error", "error", err)
		return
	}

	sendFunc, bridgeCleanup := runBridge(ctx, h, handle, cfg.fd, l, &wg)

	srv := server.NewServer(
		server.WithHub(h),
		server.WithCodec(&cnl.Codec{FD: cfg.fd}),
		server.WithSend(sendFunc),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	srv.SetListenAddr(cfg.listenAddr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the device node is published and the listener bound.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	_ = srv.Shutdown(context.Background())
	bridgeCleanup()
	if err := handle.Close(context.Background()); err != nil {
		l.Warn("device_close_error", "error", err)
	}
	wg.Wait()
}
