package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const namespace = "actlog"

// Collector is the process-wide Prometheus registry for the pipeline:
// queue throughput, per-sink health, reconfiguration activity, codec and
// reader I/O, and the runtime/system gauges every deployment needs
// regardless of domain.
type Collector struct {
	// Queue metrics
	QueueDepth        prometheus.Gauge
	QueueEnqueued     prometheus.Counter
	QueueDequeued     prometheus.Counter
	QueueDropped      prometheus.Counter

	// Sink metrics
	SinkHandled     *prometheus.CounterVec
	SinkFaulted     *prometheus.CounterVec
	SinkQuarantined *prometheus.CounterVec

	// Reconfiguration metrics
	ReconfigApplied   prometheus.Counter
	ReconfigCoalesced prometheus.Counter

	// Codec metrics
	CodecBytesWritten *prometheus.CounterVec
	CodecEOFWrites    *prometheus.CounterVec

	// Reader metrics
	ReaderCorruptions prometheus.Counter
	ReaderBadEOFs     prometheus.Counter

	// Multireader metrics
	MultireaderMonitors prometheus.Gauge

	// Fault log metrics
	FaultLogEntriesWritten prometheus.Counter
	FaultLogSegments       prometheus.Gauge
	FaultLogCompactions    prometheus.Counter

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge
	SystemGCPauses   prometheus.Histogram

	// Circuit breaker metrics, driven by internal/reliability breakers
	// guarding sink construction during reconciliation.
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerConsecutive *prometheus.GaugeVec

	// Health metrics. Registered here; internal/health does not set them.
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.RWMutex
	started  bool
}

// NewCollector creates a new metrics collector with its own private
// Prometheus registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initQueueMetrics()
	c.initSinkMetrics()
	c.initReconfigMetrics()
	c.initCodecMetrics()
	c.initReaderMetrics()
	c.initMultireaderMetrics()
	c.initFaultLogMetrics()
	c.initSystemMetrics()
	c.initCircuitBreakerMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initQueueMetrics() {
	c.QueueDepth = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of entries waiting in the dispatcher queue",
		},
	)

	c.QueueEnqueued = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of entries submitted to the dispatcher queue",
		},
	)

	c.QueueDequeued = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dequeued_total",
			Help:      "Total number of entries taken off the dispatcher queue for dispatch",
		},
	)

	c.QueueDropped = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Total number of entries dropped because the dispatcher had already stopped",
		},
	)
}

func (c *Collector) initSinkMetrics() {
	c.SinkHandled = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "handled_total",
			Help:      "Total number of entries a sink handled successfully",
		},
		[]string{"sink_name", "kind"},
	)

	c.SinkFaulted = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "faulted_total",
			Help:      "Total number of sink operation faults, by operation",
		},
		[]string{"sink_name", "op"},
	)

	c.SinkQuarantined = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "quarantined_total",
			Help:      "Total number of times a sink was quarantined and dropped from rotation",
		},
		[]string{"sink_name"},
	)
}

func (c *Collector) initReconfigMetrics() {
	c.ReconfigApplied = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconfig",
			Name:      "applied_total",
			Help:      "Total number of reconfiguration batches actually applied by the worker",
		},
	)

	c.ReconfigCoalesced = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconfig",
			Name:      "coalesced_total",
			Help:      "Total number of pending reconfigurations superseded before being applied (last-wins coalescing)",
		},
	)
}

func (c *Collector) initCodecMetrics() {
	c.CodecBytesWritten = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "bytes_written_total",
			Help:      "Total bytes written by the binary codec, by compression kind",
		},
		[]string{"codec"},
	)

	c.CodecEOFWrites = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "eof_sentinel_writes_total",
			Help:      "Total number of EOF sentinel tags written when closing a segment",
		},
		[]string{"codec"},
	)
}

func (c *Collector) initReaderMetrics() {
	c.ReaderCorruptions = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "corruptions_total",
			Help:      "Total number of times a sequential reader transitioned to Corrupt",
		},
	)

	c.ReaderBadEOFs = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "bad_eof_total",
			Help:      "Total number of times a reader hit an unexpected end of file before the EOF sentinel",
		},
	)
}

func (c *Collector) initMultireaderMetrics() {
	c.MultireaderMonitors = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "multireader",
			Name:      "monitors",
			Help:      "Current number of distinct monitor IDs known to the multi-file reader",
		},
	)
}

func (c *Collector) initFaultLogMetrics() {
	c.FaultLogEntriesWritten = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fault_log",
			Name:      "entries_written_total",
			Help:      "Total number of fault records persisted to the rotating fault log",
		},
	)

	c.FaultLogSegments = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fault_log",
			Name:      "segments",
			Help:      "Current number of fault log segment files on disk",
		},
	)

	c.FaultLogCompactions = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fault_log",
			Name:      "compactions_total",
			Help:      "Total number of times the fault log dropped its oldest segments",
		},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)

	c.SystemMemSys = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_system_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	c.SystemGCPauses = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "gc_pause_seconds",
			Help:      "GC pause duration",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
	)
}

func (c *Collector) initCircuitBreakerMetrics() {
	c.CircuitBreakerState = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	c.CircuitBreakerConsecutive = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "consecutive_failures",
			Help:      "Current number of consecutive failures",
		},
		[]string{"name"},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

// Start begins collecting system metrics periodically.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			c.mu.RLock()
			running := c.started
			c.mu.RUnlock()
			if !running {
				return
			}
			c.collectSystemMetrics()
		}
	}()
}

// Stop stops the metrics collector's background system-metric sampling;
// the sampling goroutine exits at its next tick.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))

	if len(m.PauseNs) > 0 {
		lastPause := m.PauseNs[(m.NumGC+255)%256]
		c.SystemGCPauses.Observe(float64(lastPause) / 1e9)
	}
}

// Registry returns the Prometheus registry backing this collector, for
// wiring into internal/server's /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

var (
	globalCollector *Collector
	once            sync.Once
)

// GetGlobalCollector returns the process-wide metrics collector, lazily
// constructing and starting it on first use.
func GetGlobalCollector() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
		globalCollector.Start()
	})
	return globalCollector
}
