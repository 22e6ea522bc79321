package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/loomhq/actlog/internal/reliability"
	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/internal/tracing"
	"github.com/loomhq/actlog/pkg/entry"
)

// constructBreakerConfig bounds how hard the dispatcher tries to build a
// sink kind that keeps failing construction: three consecutive failures
// trip it, and it stays open for a cooldown before the next
// reconfiguration is allowed to try that kind again.
var constructBreakerConfig = reliability.CircuitBreakerConfig{
	MaxRequests: 1,
	Timeout:     30 * time.Second,
	ReadyToTrip: func(c reliability.Counts) bool { return c.ConsecutiveFailures >= 3 },
}

// buildRetryConfig bounds the transient-failure retry attempted for a
// single construction call (e.g. a rotation target directory not created
// yet) before the breaker's failure count is charged.
var buildRetryConfig = reliability.RetryConfig{
	MaxRetries:     2,
	InitialBackoff: 25 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
	Multiplier:     2,
}

// drainReconfigurations implements the worker-side reconciliation
// algorithm: clear the pending list atomically, take only the last
// config as authoritative for filters/timer/handler-set, reconcile
// handlers against it, then wake any waiters.
func (d *Dispatcher) drainReconfigurations() {
	batch := d.pending.drainAll()
	if len(batch) == 0 {
		return
	}

	if d.tracer != nil {
		_, span := tracing.TraceReconfig(context.Background(), d.tracer)
		defer span.End()
	}

	if d.metrics != nil {
		d.metrics.ReconfigApplied.Inc()
		if coalesced := len(batch) - 1; coalesced > 0 {
			d.metrics.ReconfigCoalesced.Add(float64(coalesced))
		}
	}

	last := batch[len(batch)-1]
	d.applyFilters(last)
	d.reconcileHandlers(last.Handlers)

	d.pending.signalConsumed()
}

func (d *Dispatcher) applyFilters(c *Config) {
	d.filters.Store(&Filters{Minimal: c.MinimalFilter, External: c.ExternalLogLevelFilter})

	if c.TimerDuration > 0 {
		d.timerDuration = c.TimerDuration
	}
	if c.ExternalTimerDuration > 0 {
		d.externalTimerDuration = c.ExternalTimerDuration
	}
}

// reconcileHandlers probes each desired descriptor against existing
// sinks in registration order, keeping the first that accepts it in
// place; unconsumed existing sinks are deactivated, and unconsumed
// descriptors are built fresh via the registry and activated.
func (d *Dispatcher) reconcileHandlers(descs []sink.Descriptor) {
	usedSink := make([]bool, len(d.sinks))
	consumedBy := make([]int, len(descs))
	for i := range consumedBy {
		consumedBy[i] = -1
	}

	for di, desc := range descs {
		for si, slot := range d.sinks {
			if usedSink[si] || slot.faulty {
				continue
			}
			ok, err := slot.instance.ApplyConfiguration(desc)
			if err != nil {
				d.fault(slot, "apply-configuration", err)
				usedSink[si] = true
				continue
			}
			if ok {
				usedSink[si] = true
				consumedBy[di] = si
				break
			}
		}
	}

	kept := d.sinks[:0:0]
	for si, slot := range d.sinks {
		switch {
		case slot.faulty:
			// dropped by the next sweepFaulty pass
		case usedSink[si]:
			kept = append(kept, slot)
		default:
			if err := slot.instance.Deactivate(d.self); err != nil && d.logger != nil {
				d.logger.Warn().Str("sink", slot.instance.Name()).Err(err).Msg("error deactivating superseded sink")
			}
		}
	}
	d.sinks = kept

	for di, desc := range descs {
		if consumedBy[di] >= 0 {
			continue
		}
		d.activateNew(desc)
	}
}

func (d *Dispatcher) activateNew(desc sink.Descriptor) {
	var inst sink.Sink
	buildErr := d.constructBreakers.Execute(context.Background(), desc.Kind(), constructBreakerConfig, func() error {
		return reliability.Retry(context.Background(), buildRetryConfig, func(context.Context) error {
			built, err := d.registry.Build(desc)
			if err != nil {
				return err
			}
			inst = built
			return nil
		})
	})
	if d.metrics != nil {
		if m, ok := d.constructBreakers.AllMetrics()[desc.Kind()]; ok {
			d.metrics.CircuitBreakerState.WithLabelValues(desc.Kind()).Set(float64(m.State))
			d.metrics.CircuitBreakerConsecutive.WithLabelValues(desc.Kind()).Set(float64(m.ConsecutiveFailures))
		}
	}
	if buildErr != nil {
		if d.logger != nil {
			d.logger.Error().Str("kind", desc.Kind()).Err(buildErr).Msg("sink construction failed; skipping descriptor")
		}
		d.self.Line(entry.Error, fmt.Sprintf("config-error building sink %s: %v", desc.Kind(), buildErr), "CriticalError")
		return
	}

	ok, err := inst.Activate(d.self)
	if err != nil {
		f := SinkFault{SinkName: inst.Name(), Op: "activate", Err: err}
		if d.reporter != nil {
			d.reporter.ReportFault(f)
		}
		d.self.Line(entry.Error, fmt.Sprintf("sink %s faulted during activate: %v", inst.Name(), err), "CriticalError")
		return
	}
	if !ok {
		return
	}
	d.sinks = append(d.sinks, &sinkSlot{instance: inst, kind: desc.Kind()})
}
