package metrics

import (
	"testing"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()

	if c.QueueDepth == nil {
		t.Error("QueueDepth should not be nil")
	}
	if c.SinkHandled == nil {
		t.Error("SinkHandled should not be nil")
	}
	if c.ReconfigApplied == nil {
		t.Error("ReconfigApplied should not be nil")
	}
	if c.CodecBytesWritten == nil {
		t.Error("CodecBytesWritten should not be nil")
	}
	if c.Registry() == nil {
		t.Error("Registry() should not be nil")
	}
}

func TestQueueMetrics(t *testing.T) {
	c := NewCollector()

	c.QueueDepth.Set(5)
	c.QueueEnqueued.Inc()
	c.QueueDequeued.Inc()
	c.QueueDropped.Inc()
}

func TestSinkMetrics(t *testing.T) {
	c := NewCollector()

	c.SinkHandled.WithLabelValues("console-1", "console").Inc()
	c.SinkFaulted.WithLabelValues("console-1", "handle").Inc()
	c.SinkQuarantined.WithLabelValues("console-1").Inc()
}

func TestReconfigMetrics(t *testing.T) {
	c := NewCollector()

	c.ReconfigApplied.Inc()
	c.ReconfigCoalesced.Inc()
}

func TestCodecMetrics(t *testing.T) {
	c := NewCollector()

	c.CodecBytesWritten.WithLabelValues("gzip").Add(128)
	c.CodecEOFWrites.WithLabelValues("gzip").Inc()
}

func TestReaderMetrics(t *testing.T) {
	c := NewCollector()

	c.ReaderCorruptions.Inc()
	c.ReaderBadEOFs.Inc()
}

func TestMultireaderMetrics(t *testing.T) {
	c := NewCollector()

	c.MultireaderMonitors.Set(3)
}

func TestFaultLogMetrics(t *testing.T) {
	c := NewCollector()

	c.FaultLogEntriesWritten.Inc()
	c.FaultLogSegments.Set(2)
	c.FaultLogCompactions.Inc()
}

func TestSystemMetrics(t *testing.T) {
	c := NewCollector()
	c.collectSystemMetrics()
}

func TestStartStop(t *testing.T) {
	c := NewCollector()
	c.Start()
	c.Start() // idempotent
	c.Stop()
}

func TestGetGlobalCollector(t *testing.T) {
	c1 := GetGlobalCollector()
	c2 := GetGlobalCollector()
	if c1 != c2 {
		t.Error("GetGlobalCollector should return the same instance")
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	c := NewCollector()

	c.CircuitBreakerState.WithLabelValues("binary-file").Set(1)
	c.CircuitBreakerConsecutive.WithLabelValues("binary-file").Set(3)
}

func TestHealthMetrics(t *testing.T) {
	c := NewCollector()

	c.HealthStatus.WithLabelValues("dispatcher").Set(1)
}
