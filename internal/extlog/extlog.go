// Package extlog implements the external (contextless) log path: the
// process-wide entry point used by code that has no producer-client
// handle of its own, and the rate-limited critical-error re-emission
// that rides the same path.
package extlog

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/loomhq/actlog/internal/dispatcher"
	"github.com/loomhq/actlog/internal/pool"
	"github.com/loomhq/actlog/pkg/entry"
)

// DefaultLevel is the process-wide fallback threshold used when a
// Config leaves ExternalLogLevelFilter nil (unset).
const DefaultLevel = entry.Info

// CriticalErrorTag is the fixed tag stamped on every critical-error
// re-emission, per spec.md §6's critical-error sink.
const CriticalErrorTag = "CriticalError"

// Path is the single process-wide external log entry point: one Clock
// guarded by its own short critical section, monitor id zero, group
// depth always zero.
type Path struct {
	d     *dispatcher.Dispatcher
	clock *entry.Clock

	criticalLimiter *rate.Limiter
}

// New constructs a Path bound to d. criticalErrorRate and
// criticalErrorBurst configure the token-bucket limiter applied to
// re-emitted critical errors (events/sec and burst size); pass 0 for
// rate to disable the limiter entirely (every critical error is
// re-emitted unthrottled).
func New(d *dispatcher.Dispatcher, criticalErrorRate float64, criticalErrorBurst int) *Path {
	p := &Path{d: d, clock: entry.NewClock(nil)}
	if criticalErrorRate > 0 {
		p.criticalLimiter = rate.NewLimiter(rate.Limit(criticalErrorRate), criticalErrorBurst)
	}
	return p
}

// Log emits one Line entry through the external path. If lvl.Filtered is
// set the entry bypasses the external filter unconditionally; otherwise
// it is compared against the dispatcher's current ExternalLogLevelFilter,
// falling back to DefaultLevel when no explicit filter has been
// configured.
func (p *Path) Log(lvl entry.Level, text string, tags ...string) {
	if !p.allows(lvl) {
		return
	}

	interner := p.d.Interner()
	var tagSet entry.Set
	for _, t := range tags {
		tagSet = tagSet.Add(interner.Intern(t))
	}

	ts := p.clock.Next()
	mc := pool.Get()
	mc.Entry = entry.Entry{
		Timestamp: ts,
		Level:     lvl,
		Kind:      entry.KindLine,
		Text:      text,
		HasText:   text != "",
		Tags:      tagSet,
		HasTags:   len(tagSet) > 0,
	}
	mc.MonitorID = entry.ZeroMonitorID
	mc.GroupDepth = 0
	mc.PrevKind = entry.PrevKindNone
	if !p.d.Submit(mc) {
		pool.Put(mc)
	}
}

func (p *Path) allows(lvl entry.Level) bool {
	if lvl.Filtered {
		return true
	}
	threshold := DefaultLevel
	if t := p.d.CurrentFilters().External; t != nil {
		threshold = *t
	}
	return lvl.Value.AtLeast(threshold)
}

// ReportCriticalError re-emits a dispatcher sink fault through the
// external path, tagged "CriticalError", subject to the rate limiter
// configured at construction. The underlying fault is assumed to already
// be captured in full elsewhere (the collector's own record); this is
// only the external-log echo, so a dropped re-emission loses nothing but
// visibility on this one path.
func (p *Path) ReportCriticalError(f dispatcher.SinkFault) {
	if p.criticalLimiter != nil && !p.criticalLimiter.Allow() {
		return
	}
	text := fmt.Sprintf("sink %s faulted during %s: %v", f.SinkName, f.Op, f.Err)
	p.Log(entry.Level{Value: entry.Error, Filtered: true}, text, CriticalErrorTag)
}
