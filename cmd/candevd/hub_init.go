package main

import (
	"log/slog"

	"github.com/kstaniek/go-can-chardev/internal/hub"
)

func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	switch cfg.hubPolicy {
	case "kick":
		h.Policy = hub.PolicyKick
	default:
		h.Policy = hub.PolicyDrop
	}
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "policy", cfg.hubPolicy, "buffer", h.OutBufSize)
	return h
}
