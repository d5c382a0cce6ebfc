package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-chardev/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	DevRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candev_rx_frames_total",
		Help: "Total CAN frames buffered into the device receive ring.",
	})
	DevTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candev_tx_frames_total",
		Help: "Total CAN frames handed to the lower-half controller.",
	})
	DevRxOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candev_rx_overflow_total",
		Help: "Total inbound CAN frames dropped on a full receive ring.",
	})
	RTRMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candev_rtr_matched_total",
		Help: "Total inbound frames routed to a pending remote-request waiter.",
	})
	TxReadyWorkRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candev_txready_work_total",
		Help: "Total deferred TX-ready work executions.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total CAN frames received from TCP clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total CAN frames sent to TCP clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead     = "tcp_read"
	ErrTCPWrite    = "tcp_write"
	ErrHandshake   = "handshake"
	ErrDevRead     = "dev_read"
	ErrDevWrite    = "dev_write"
	ErrDevOverflow = "dev_tx_overflow"
	ErrLowerHalf   = "lower_half"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address
// along with a /ready probe backed by the registered readiness function.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localDevRx     uint64
	localDevTx     uint64
	localOverflow  uint64
	localRTR       uint64
	localTxWork    uint64
	localTCPRx     uint64
	localTCPTx     uint64
	localHubDrop   uint64
	localHubKick   uint64
	localClients   uint64
	localMalformed uint64
	localErrors    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	DevRx       uint64
	DevTx       uint64
	RxOverflows uint64
	RTRMatched  uint64
	TxWorkRuns  uint64
	TCPRx       uint64
	TCPTx       uint64
	HubDrops    uint64
	HubKicks    uint64
	HubClients  uint64
	Malformed   uint64
	Errors      uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		DevRx:       atomic.LoadUint64(&localDevRx),
		DevTx:       atomic.LoadUint64(&localDevTx),
		RxOverflows: atomic.LoadUint64(&localOverflow),
		RTRMatched:  atomic.LoadUint64(&localRTR),
		TxWorkRuns:  atomic.LoadUint64(&localTxWork),
		TCPRx:       atomic.LoadUint64(&localTCPRx),
		TCPTx:       atomic.LoadUint64(&localTCPTx),
		HubDrops:    atomic.LoadUint64(&localHubDrop),
		HubKicks:    atomic.LoadUint64(&localHubKick),
		HubClients:  atomic.LoadUint64(&localClients),
		Malformed:   atomic.LoadUint64(&localMalformed),
		Errors:      atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncDevRx() {
	DevRxFrames.Inc()
	atomic.AddUint64(&localDevRx, 1)
}

func IncDevTx() {
	DevTxFrames.Inc()
	atomic.AddUint64(&localDevTx, 1)
}

func IncDevRxOverflow() {
	DevRxOverflows.Inc()
	atomic.AddUint64(&localOverflow, 1)
}

func IncRTRMatched() {
	RTRMatched.Inc()
	atomic.AddUint64(&localRTR, 1)
}

func IncTxReadyWork() {
	TxReadyWorkRuns.Inc()
	atomic.AddUint64(&localTxWork, 1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrDevRead, ErrDevWrite, ErrDevOverflow, ErrLowerHalf,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
