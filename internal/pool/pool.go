// Package pool provides a sync.Pool-backed free list for *entry.Multicast
// values, the allocation on the hottest path in the pipeline: one is
// built per produced entry and read by every active sink before it can
// be reused.
package pool

import (
	"sync"

	"github.com/loomhq/actlog/pkg/entry"
)

var multicastPool = sync.Pool{
	New: func() interface{} {
		return new(entry.Multicast)
	},
}

// Get returns a *entry.Multicast with every field zeroed, ready for a
// producer to populate.
func Get() *entry.Multicast {
	m := multicastPool.Get().(*entry.Multicast)
	*m = entry.Multicast{}
	return m
}

// Put returns m to the pool. Callers must only do this once nothing reads
// m any more — the dispatcher calls this after its fan-out loop over all
// active sinks completes, and a producer calls it for an entry that
// Submit refused.
func Put(m *entry.Multicast) {
	if m == nil {
		return
	}
	multicastPool.Put(m)
}
