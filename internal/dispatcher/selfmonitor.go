package dispatcher

import (
	"sync"

	"github.com/loomhq/actlog/internal/pool"
	"github.com/loomhq/actlog/pkg/entry"
)

// workerMonitorID is the fixed, well-known monitor id the worker uses for
// its own self-diagnostic entries. It is distinct from entry.ZeroMonitorID
// (reserved for the external log path) so a reader can tell the two
// contextless sources apart.
var workerMonitorID = entry.MonitorID{0xff}

// selfMonitor is the worker's own private producer client. Sinks receive
// it on every call and may emit into it for self-diagnostics; those
// entries re-enter the dispatcher queue exactly like any other
// producer's, since the worker registers itself as a producer at
// startup.
type selfMonitor struct {
	mu       sync.Mutex
	d        *Dispatcher
	clock    *entry.Clock
	prevTS   entry.Timestamp
	prevKind entry.PrevKind
}

func newSelfMonitor(d *Dispatcher) *selfMonitor {
	return &selfMonitor{d: d, clock: entry.NewClock(nil)}
}

// Line implements sink.Monitor. Self-diagnostic entries always carry
// Filtered=true: the worker's own health visibility should never be
// silently dropped by a producer-side filter threshold.
func (m *selfMonitor) Line(level entry.Value, text string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tagSet entry.Set
	if len(tags) > 0 {
		for _, t := range tags {
			tagSet = tagSet.Add(m.d.interner.Intern(t))
		}
	}

	ts := m.clock.Next()
	mc := pool.Get()
	mc.Entry = entry.Entry{
		Timestamp: ts,
		Level:     entry.Level{Value: level, Filtered: true},
		Kind:      entry.KindLine,
		Text:      text,
		HasText:   true,
		Tags:      tagSet,
		HasTags:   len(tagSet) > 0,
	}
	mc.MonitorID = workerMonitorID
	mc.GroupDepth = 0
	mc.PrevTimestamp = m.prevTS
	mc.PrevKind = m.prevKind
	m.prevTS = ts
	m.prevKind = entry.FromKind(entry.KindLine)

	if !m.d.Submit(mc) {
		pool.Put(mc)
	}
}
