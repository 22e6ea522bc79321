// Package entry defines the hierarchical log entry model shared by every
// producer, the dispatcher, and the persistence layer: timestamps, levels,
// tags, exception records, and the Line/OpenGroup/CloseGroup entry variants
// together with their multicast wrappers.
package entry

import (
	"sync"
	"time"
)

// Timestamp is a (utc-instant, uniquifier) pair. Successive timestamps
// issued by a single Clock are strictly increasing under lexicographic
// order: first by Instant, then by Uniquifier.
type Timestamp struct {
	Instant    time.Time
	Uniquifier uint8
}

// Less reports whether t sorts strictly before o under lexicographic order.
func (t Timestamp) Less(o Timestamp) bool {
	if !t.Instant.Equal(o.Instant) {
		return t.Instant.Before(o.Instant)
	}
	return t.Uniquifier < o.Uniquifier
}

// IsZero reports whether t is the unset Timestamp.
func (t Timestamp) IsZero() bool {
	return t.Instant.IsZero() && t.Uniquifier == 0
}

// Clock issues strictly increasing Timestamps for a single source (one
// monitor, or the process-wide external log path). It is safe for
// concurrent use; callers never block on anything but this critical
// section.
type Clock struct {
	mu   sync.Mutex
	last Timestamp
	now  func() time.Time
}

// NewClock creates a Clock. If now is nil, time.Now is used; tests may
// substitute a deterministic source.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next computes the next Timestamp for this source: max(now, last) with
// Uniquifier = last.Uniquifier+1 if now <= last, else 0.
func (c *Clock) Next() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var next Timestamp
	if now.After(c.last.Instant) {
		next = Timestamp{Instant: now, Uniquifier: 0}
	} else {
		next = Timestamp{Instant: c.last.Instant, Uniquifier: c.last.Uniquifier + 1}
	}
	c.last = next
	return next
}

// Last returns the most recently issued Timestamp without advancing the
// clock. Used by producer clients to stamp the "previous timestamp"
// back-pointer on a multicast entry before issuing the next one.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
