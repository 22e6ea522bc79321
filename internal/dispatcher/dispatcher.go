// Package dispatcher implements the single-consumer queue and background
// worker at the center of the pipeline: it owns every active sink,
// applies reconfigurations atomically, drives periodic timer callbacks,
// quarantines faulty sinks, and guarantees bounded-time shutdown with a
// force-close escape hatch.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/actlog/internal/logging"
	"github.com/loomhq/actlog/internal/metrics"
	"github.com/loomhq/actlog/internal/pool"
	"github.com/loomhq/actlog/internal/reliability"
	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/internal/tracing"
	"github.com/loomhq/actlog/pkg/entry"
)

// SinkFault describes one sink operation that failed during dispatch.
type SinkFault struct {
	SinkName string
	Op       string
	Err      error
	At       time.Time
}

// FaultReporter receives sink faults for out-of-band critical-error
// handling (the process-wide critical-error collector in the full
// deployment; tests may supply a stub).
type FaultReporter interface {
	ReportFault(f SinkFault)
}

// Filters is the pair of thresholds producers consult before submitting:
// MinimalFilter gates monitor-sourced OpenGroup/CloseGroup/Line entries,
// External gates the contextless external-log path.
type Filters struct {
	Minimal entry.GroupFilter
	// External is nil when no explicit threshold has been configured;
	// consumers of CurrentFilters (extlog.Path) fall back to their own
	// default in that case.
	External *entry.Value
}

type sinkSlot struct {
	instance sink.Sink
	kind     string
	faulty   bool
}

// Dispatcher is the dispatcher queue and worker described by the package
// doc. The zero value is not usable; construct with New.
type Dispatcher struct {
	registry *sink.Registry
	reporter FaultReporter
	logger   *logging.Logger
	interner *entry.Interner
	tracer   trace.Tracer
	metrics  *metrics.Collector

	queue   *queue
	pending *pendingConfigs
	self    *selfMonitor

	// constructBreakers guards against hammering registry.Build for a
	// sink kind that is repeatedly failing to construct (a dependency
	// that is down, a path that doesn't exist yet): after a few
	// consecutive construction failures for a given kind, further
	// reconfigurations skip trying that kind until the breaker's
	// timeout elapses. This is independent of the per-instance runtime
	// quarantine in sinkSlot, which has no recovery window by design.
	constructBreakers *reliability.MultiCircuitBreaker

	stopped    atomic.Bool
	forceClose atomic.Bool
	stoppedCh  chan struct{}
	doneCh     chan struct{}
	started    atomic.Bool

	timerDuration         time.Duration
	externalTimerDuration time.Duration
	filters               atomic.Pointer[Filters]

	sinks []*sinkSlot

	// onExternalTick is invoked on the external timer period, used to
	// drive dead-client GC in the producer client registry. Wired by the
	// caller after construction since the client package depends on
	// dispatcher, not the reverse.
	onExternalTick func()
}

// Options configures a new Dispatcher.
type Options struct {
	Registry *sink.Registry
	Reporter FaultReporter
	Logger   *logging.Logger
	Interner *entry.Interner
	// Tracer, when non-nil, wraps each dispatch batch and sink call in an
	// OpenTelemetry span. Nil disables tracing entirely with no overhead
	// beyond a single nil check per call.
	Tracer trace.Tracer
	// Metrics, when non-nil, is fed queue/sink/reconfig counters as the
	// worker runs. Nil disables metrics entirely with no overhead beyond a
	// single nil check per call.
	Metrics *metrics.Collector
}

// New constructs a Dispatcher. It does not start the worker; call Start.
func New(opts Options) *Dispatcher {
	interner := opts.Interner
	if interner == nil {
		interner = entry.NewInterner()
	}
	d := &Dispatcher{
		registry:              opts.Registry,
		reporter:              opts.Reporter,
		logger:                opts.Logger,
		interner:              interner,
		tracer:                opts.Tracer,
		metrics:               opts.Metrics,
		queue:                 newQueue(),
		pending:               newPendingConfigs(),
		constructBreakers:     reliability.NewMultiCircuitBreaker(),
		stoppedCh:             make(chan struct{}),
		doneCh:                make(chan struct{}),
		timerDuration:         DefaultTimerDuration,
		externalTimerDuration: DefaultExternalTimerDuration,
	}
	d.self = newSelfMonitor(d)
	d.filters.Store(&Filters{})
	return d
}

// SetExternalTickHandler wires the callback invoked on every external
// timer tick (dead-client GC). Must be called before Start.
func (d *Dispatcher) SetExternalTickHandler(fn func()) {
	d.onExternalTick = fn
}

// Interner returns the shared tag interner producer clients should use so
// their tags compare by pointer identity with everything else flowing
// through this dispatcher.
func (d *Dispatcher) Interner() *entry.Interner {
	return d.interner
}

// CurrentFilters returns the filter pair currently in effect. Producer
// clients call this on the hot path; it is a single atomic load, no
// locks.
func (d *Dispatcher) CurrentFilters() Filters {
	return *d.filters.Load()
}

// Start launches the background worker. Calling Start more than once is
// a no-op.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.run()
}

// Submit enqueues e for dispatch. It never blocks and never fails loudly
// — once the dispatcher has been stopped, submissions are silently
// dropped.
func (d *Dispatcher) Submit(e *entry.Multicast) bool {
	if d.stopped.Load() {
		if d.metrics != nil {
			d.metrics.QueueDropped.Inc()
		}
		return false
	}
	ok := d.queue.push(e)
	if d.metrics != nil {
		if ok {
			d.metrics.QueueEnqueued.Inc()
			d.metrics.QueueDepth.Set(float64(d.queue.depth()))
		} else {
			d.metrics.QueueDropped.Inc()
		}
	}
	return ok
}

// ApplyConfig appends c to the pending reconfiguration list. If wait is
// true, ApplyConfig blocks until some worker batch has drained c — c may
// have been superseded by a newer config queued in the same batch; the
// spec explicitly permits this and callers must tolerate it.
func (d *Dispatcher) ApplyConfig(c *Config, wait bool) {
	d.pending.append(c)
	if wait {
		d.pending.waitConsumed(c)
	}
}

// Stop transitions the dispatcher to stopped exactly once. It reports
// true only to the caller whose call performed the transition. Stop
// closes the queue to new submissions and fires StoppedToken; it does
// not wait for the worker to drain — call Finalize for that.
func (d *Dispatcher) Stop() bool {
	if !d.stopped.CompareAndSwap(false, true) {
		return false
	}
	d.queue.close()
	close(d.stoppedCh)
	return true
}

// StoppedToken fires once Stop has transitioned the dispatcher.
func (d *Dispatcher) StoppedToken() <-chan struct{} {
	return d.stoppedCh
}

// Finalize stops the dispatcher (if not already stopped) and blocks
// until the worker drains the queue or deadline elapses, whichever comes
// first. deadline <= 0 means wait indefinitely. On timeout, Finalize sets
// force-close; the worker observes it within one loop iteration and
// exits, discarding whatever remains queued. Finalize then waits at most
// one more deadline for the worker and returns even if a sink call is
// still in progress; the worker exits once that call returns.
func (d *Dispatcher) Finalize(deadline time.Duration) {
	d.Stop()

	if deadline <= 0 {
		<-d.doneCh
		return
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-d.doneCh:
	case <-timer.C:
		d.forceClose.Store(true)
		grace := time.NewTimer(deadline)
		defer grace.Stop()
		select {
		case <-d.doneCh:
		case <-grace.C:
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	now := time.Now()
	nextTimerTick := now.Add(d.timerDuration)
	nextExternalTick := now.Add(d.externalTimerDuration)

	for {
		if d.forceClose.Load() {
			break
		}

		e, ok := d.queue.takeBounded(takePollInterval)

		if d.forceClose.Load() {
			break
		}

		d.drainReconfigurations()

		if ok {
			if d.metrics != nil {
				d.metrics.QueueDequeued.Inc()
				d.metrics.QueueDepth.Set(float64(d.queue.depth()))
			}
			d.dispatch(e)
		}

		now = time.Now()
		if !now.Before(nextTimerTick) {
			d.fireTimer()
			nextTimerTick = nextTimerTick.Add(d.timerDuration)

			if !now.Before(nextExternalTick) {
				d.fireExternalTick()
				nextExternalTick = nextExternalTick.Add(d.externalTimerDuration)
			}
		}

		d.sweepFaulty()

		if d.queue.closedAndDrained() {
			break
		}
	}

	d.deactivateAll()
}

// dispatch fans e out to every active sink, then returns it to the
// shared pool — safe only because every sink's Handle call has returned
// by that point, so nothing still holds a reference to e.
func (d *Dispatcher) dispatch(e *entry.Multicast) {
	ctx := context.Background()
	if d.tracer != nil {
		var span trace.Span
		ctx, span = tracing.TraceDispatch(ctx, d.tracer, len(d.sinks))
		defer span.End()
	}

	for _, slot := range d.sinks {
		if slot.faulty {
			continue
		}
		if err := d.callSink(ctx, slot, "handle", func() error {
			return slot.instance.Handle(d.self, e)
		}); err != nil {
			d.fault(slot, "handle", err)
		} else if d.metrics != nil {
			d.metrics.SinkHandled.WithLabelValues(slot.instance.Name(), slot.kind).Inc()
		}
	}
	pool.Put(e)
}

func (d *Dispatcher) fireTimer() {
	ctx := context.Background()
	for _, slot := range d.sinks {
		if slot.faulty {
			continue
		}
		if err := d.callSink(ctx, slot, "on-timer", func() error {
			return slot.instance.OnTimer(d.self, d.timerDuration)
		}); err != nil {
			d.fault(slot, "on-timer", err)
		}
	}
}

// callSink invokes fn, wrapping it in a per-sink span when tracing is
// enabled and recording whether it faulted.
func (d *Dispatcher) callSink(ctx context.Context, slot *sinkSlot, op string, fn func() error) error {
	if d.tracer == nil {
		return fn()
	}
	spanCtx, span := tracing.TraceSinkCall(ctx, d.tracer, slot.instance.Name(), op)
	err := fn()
	tracing.SetFaultStatus(spanCtx, err != nil)
	if err != nil {
		tracing.RecordError(spanCtx, err)
	}
	span.End()
	return err
}

func (d *Dispatcher) fireExternalTick() {
	if d.onExternalTick != nil {
		d.onExternalTick()
	}
}

func (d *Dispatcher) fault(slot *sinkSlot, op string, err error) {
	slot.faulty = true
	f := SinkFault{SinkName: slot.instance.Name(), Op: op, Err: err, At: time.Now()}
	if d.reporter != nil {
		d.reporter.ReportFault(f)
	}
	if d.metrics != nil {
		d.metrics.SinkFaulted.WithLabelValues(f.SinkName, op).Inc()
	}
	d.self.Line(entry.Error, fmt.Sprintf("sink %s faulted during %s: %v", f.SinkName, op, err), "CriticalError")
	if d.logger != nil {
		d.logger.Error().Str("sink", f.SinkName).Str("op", op).Err(err).Msg("sink fault; quarantining")
	}
}

// sweepFaulty deactivates and drops every sink marked faulty during this
// iteration's dispatch/timer calls.
func (d *Dispatcher) sweepFaulty() {
	hasFaulty := false
	for _, slot := range d.sinks {
		if slot.faulty {
			hasFaulty = true
			break
		}
	}
	if !hasFaulty {
		return
	}

	kept := d.sinks[:0:0]
	for _, slot := range d.sinks {
		if slot.faulty {
			_ = slot.instance.Deactivate(d.self)
			if d.metrics != nil {
				d.metrics.SinkQuarantined.WithLabelValues(slot.instance.Name()).Inc()
			}
			continue
		}
		kept = append(kept, slot)
	}
	d.sinks = kept
}

func (d *Dispatcher) deactivateAll() {
	for _, slot := range d.sinks {
		if err := slot.instance.Deactivate(d.self); err != nil && d.logger != nil {
			d.logger.Warn().Str("sink", slot.instance.Name()).Err(err).Msg("error deactivating sink during shutdown")
		}
	}
	d.sinks = nil
}
