package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"flowfield-rts/internal/game"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics with bounded cardinality (no per-unit or per-target labels)
var (
	// Simulation metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "navsim_tick_duration_seconds",
		Help:    "Time spent in one simulation tick",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	})

	unitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navsim_units",
		Help: "Current number of live units",
	})

	movingCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navsim_units_moving",
		Help: "Units currently following a flow field",
	})

	commandsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navsim_commands_applied_total",
		Help: "Queued commands applied at tick start",
	})

	// Field cache metrics
	fieldsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "navsim_fields",
		Help: "Cached flow fields by state",
	}, []string{"state"}) // Bounded: "stale", "queued", "up_to_date"

	jobQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navsim_field_jobs_pending",
		Help: "Recompute jobs waiting in the queue",
	})

	fieldsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navsim_fields_computed_total",
		Help: "Flow fields recomputed",
	})

	jobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navsim_field_jobs_dropped_total",
		Help: "Recompute jobs discarded because their field was removed",
	})

	fieldsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navsim_fields_evicted_total",
		Help: "Flow fields evicted after going unused",
	})

	bucketOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navsim_spatial_max_bucket",
		Help: "Largest spatial hash bucket after the last rebuild",
	})

	// Event log metrics
	eventLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin check or auth",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "auth", "ws_limit", "ws_rate"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "WebSocket messages by direction",
	}, []string{"direction"}) // Bounded: "in", "out"
)

// MetricsObserver feeds per-tick engine statistics into Prometheus. The
// engine reports cumulative cache counters, so the observer keeps the last
// values and adds deltas.
type MetricsObserver struct {
	mu           sync.Mutex
	lastComputed uint64
	lastDropped  uint64
	lastEvicted  uint64
	lastEvents   uint64
	lastEvDrops  uint64
}

// NewMetricsObserver creates an observer for Engine.SetObserver.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// ObserveTick implements game.TickObserver. It runs on the simulation
// goroutine after the snapshot is published.
func (m *MetricsObserver) ObserveTick(s game.TickStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tickDuration.Observe(s.Duration.Seconds())
	unitCount.Set(float64(s.Units))
	movingCount.Set(float64(s.Moving))
	commandsApplied.Add(float64(s.Commands))

	fieldsByState.WithLabelValues("stale").Set(float64(s.Cache.Stale))
	fieldsByState.WithLabelValues("queued").Set(float64(s.Cache.Queued))
	fieldsByState.WithLabelValues("up_to_date").Set(float64(s.Cache.UpToDate))
	jobQueueLength.Set(float64(s.Cache.QueueLen))
	bucketOccupancy.Set(float64(s.Grid.MaxInBucket))

	fieldsComputed.Add(float64(delta(s.Cache.Computed, &m.lastComputed)))
	jobsDropped.Add(float64(delta(s.Cache.Dropped, &m.lastDropped)))
	fieldsEvicted.Add(float64(delta(s.Cache.Evicted, &m.lastEvicted)))

	eventLogTotal.Add(float64(delta(s.Events.Total, &m.lastEvents)))
	eventLogDropped.Add(float64(delta(s.Events.Dropped, &m.lastEvDrops)))
}

// delta returns cur minus *last and stores cur. A counter that went
// backwards (engine restarted) counts from zero.
func delta(cur uint64, last *uint64) uint64 {
	d := cur - *last
	if cur < *last {
		d = cur
	}
	*last = cur
	return d
}

// RecordConnectionRejected increments the rejection counter
// reason must be one of: "rate_limit", "origin", "auth", "ws_limit", "ws_rate"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments the WebSocket message counter for direction
// "in" or "out".
func IncrementWSMessages(direction string) {
	wsMessagesTotal.WithLabelValues(direction).Inc()
}

// DebugConfig configures the debug server
type DebugConfig struct {
	Port          int // 0 disables the server
	BasicAuthUser string
	BasicAuthPass string
}

// StartDebugServer starts the pprof and /metrics server. It always binds to
// 127.0.0.1 so profiling endpoints are never reachable from outside the
// host. Returns nil when the server is disabled.
func StartDebugServer(cfg DebugConfig, logger *zap.Logger) *http.Server {
	if cfg.Port == 0 {
		logger.Info("debug server disabled")
		return nil
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("debug server starting",
			zap.String("addr", srv.Addr),
			zap.String("pprof", "/debug/pprof/"),
			zap.String("metrics", "/metrics"))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("debug server error", zap.Error(err))
		}
	}()

	return srv
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
