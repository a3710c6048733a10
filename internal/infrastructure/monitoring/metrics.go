package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabcore"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Tab metrics
	TabsByState  *prometheus.GaugeVec
	TabsCreated  prometheus.Counter
	TabsClosed   prometheus.Counter
	Crashes      prometheus.Counter
	Unresponsive prometheus.Counter

	// Memory metrics
	RSSBytes      prometheus.Gauge
	PressureLevel prometheus.Gauge
	HeapBytes     prometheus.Gauge
	GhostBytes    prometheus.Gauge

	// Hibernation metrics
	Hibernations      *prometheus.CounterVec
	Restores          *prometheus.CounterVec
	HibernateDuration prometheus.Histogram
	HydrateDuration   prometheus.Histogram
	CompressedSize    prometheus.Histogram
	StorageBytes      prometheus.Gauge
	EventsDropped     *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON stats endpoint
type Snapshot struct {
	TotalRequests       int64   `json:"total_requests"`
	TotalErrors         int64   `json:"total_errors"`
	AvgRequestSeconds   float64 `json:"avg_request_seconds"`
	Hibernations        int64   `json:"hibernations"`
	HibernationFailures int64   `json:"hibernation_failures"`
	Restores            int64   `json:"restores"`
	RestoreFailures     int64   `json:"restore_failures"`
	Crashes             int64   `json:"crashes"`
	UptimeSeconds       float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a collector backed by its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		TabsByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tabs",
				Help:      "Number of tabs by lifecycle state",
			},
			[]string{"state"},
		),
		TabsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tabs_created_total",
			Help:      "Total number of tabs opened",
		}),
		TabsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tabs_closed_total",
			Help:      "Total number of tabs closed",
		}),
		Crashes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tab_crashes_total",
			Help:      "Worker faults converted to crash reports",
		}),
		Unresponsive: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tab_unresponsive_total",
			Help:      "Stale heartbeat episodes reported by the watchdog",
		}),

		RSSBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rss_bytes",
			Help:      "Last sampled resident set size",
		}),
		PressureLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_pressure_level",
			Help:      "Memory pressure level (0 low .. 3 critical)",
		}),
		HeapBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tab_heap_bytes",
			Help:      "Bytes allocated across all live tab heaps",
		}),
		GhostBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ghost_bytes",
			Help:      "Resident bytes held by ghost tabs",
		}),

		Hibernations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hibernations_total",
				Help:      "Tab hibernations by result",
			},
			[]string{"result"},
		),
		Restores: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restores_total",
				Help:      "Tab restores by result",
			},
			[]string{"result"},
		),
		HibernateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hibernate_duration_seconds",
			Help:      "Time from capture to ghost installation",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		HydrateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hydrate_duration_seconds",
			Help:      "Time to read and decode a snapshot",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		CompressedSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_compressed_bytes",
			Help:      "Compressed snapshot payload size",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		StorageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hibernation_storage_bytes",
			Help:      "Bytes used by hibernation files",
		}),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events dropped by rate limits or slow subscribers",
			},
			[]string{"reason"},
		),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of active WebSocket connections",
		}),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetTabStates replaces the per-state tab gauges
func (m *Metrics) SetTabStates(counts map[string]int) {
	m.TabsByState.Reset()
	for state, n := range counts {
		m.TabsByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordHibernation records one suspend attempt
func (m *Metrics) RecordHibernation(result string, duration time.Duration, compressed uint64) {
	m.Hibernations.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		m.HibernateDuration.Observe(duration.Seconds())
		m.CompressedSize.Observe(float64(compressed))
	}

	m.mu.Lock()
	if result == ResultSuccess {
		m.snapshot.Hibernations++
	} else {
		m.snapshot.HibernationFailures++
	}
	m.mu.Unlock()
}

// RecordRestore records one restore attempt
func (m *Metrics) RecordRestore(result string, hydrate time.Duration) {
	m.Restores.WithLabelValues(result).Inc()
	if hydrate > 0 {
		m.HydrateDuration.Observe(hydrate.Seconds())
	}

	m.mu.Lock()
	if result == ResultSuccess {
		m.snapshot.Restores++
	} else {
		m.snapshot.RestoreFailures++
	}
	m.mu.Unlock()
}

// IncCrashes counts a worker fault
func (m *Metrics) IncCrashes() {
	m.Crashes.Inc()
	m.mu.Lock()
	m.snapshot.Crashes++
	m.mu.Unlock()
}

// SetMemory records process and tab memory gauges
func (m *Metrics) SetMemory(rss uint64, level int, heapBytes, ghostBytes int64) {
	m.RSSBytes.Set(float64(rss))
	m.PressureLevel.Set(float64(level))
	m.HeapBytes.Set(float64(heapBytes))
	m.GhostBytes.Set(float64(ghostBytes))
}

// RecordDropped counts an event that was not delivered
func (m *Metrics) RecordDropped(reason string) {
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns current totals
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.TotalRequests > 0 {
		s.AvgRequestSeconds = s.totalDuration / float64(s.TotalRequests)
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// SetStorageBytes records hibernation directory usage
func (m *Metrics) SetStorageBytes(n int64) {
	m.StorageBytes.Set(float64(n))
}
