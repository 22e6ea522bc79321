// Package client implements the producer side of the pipeline: the five
// host callbacks each monitor drives (open-group, group-closing,
// group-closed, unfiltered-log, topic/auto-tags-changed), previous-entry
// bookkeeping per monitor, and the handle-based registry that replaces
// the weak-reference client list (see registry.go).
package client

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/loomhq/actlog/internal/dispatcher"
	"github.com/loomhq/actlog/internal/pool"
	"github.com/loomhq/actlog/pkg/entry"
)

// Client is one producer's emission surface. The zero value is not
// usable; construct with New.
type Client struct {
	id    entry.MonitorID
	d     *dispatcher.Dispatcher
	clock *entry.Clock

	mu       sync.Mutex
	depth    uint32
	prevTS   entry.Timestamp
	prevKind entry.PrevKind

	released atomic.Bool
}

// New creates a Client with a freshly generated monitor id and registers
// it with reg so the external timer's liveness sweep can find it.
func New(d *dispatcher.Dispatcher, reg *Registry) *Client {
	c := &Client{
		id:    newMonitorID(),
		d:     d,
		clock: entry.NewClock(nil),
	}
	if reg != nil {
		reg.register(c)
	}
	return c
}

func newMonitorID() entry.MonitorID {
	u := uuid.New()
	var id entry.MonitorID
	copy(id[:], u[:])
	return id
}

// ID returns the monitor id this client stamps on every entry it emits.
func (c *Client) ID() entry.MonitorID {
	return c.id
}

// Release marks the client dead for the registry's liveness sweep. It
// does not stop the client from emitting; callers stop calling it.
func (c *Client) Release() {
	c.released.Store(true)
}

func (c *Client) isReleased() bool {
	return c.released.Load()
}

// OnUnfilteredLog implements the unfiltered-log host callback: emit a
// Line entry at the current group depth.
func (c *Client) OnUnfilteredLog(level entry.Value, text string, tags ...string) {
	c.emit(entry.KindLine, level, text, tags, nil)
}

// OnOpenGroup implements the open-group host callback: emit an OpenGroup
// entry and return a Group handle whose Close method emits the matching
// CloseGroup. The returned Group increments this client's depth counter
// immediately and must eventually be closed to decrement it back.
func (c *Client) OnOpenGroup(level entry.Value, text string, tags ...string) *Group {
	c.emit(entry.KindOpenGroup, level, text, tags, nil)

	c.mu.Lock()
	c.depth++
	c.mu.Unlock()

	return &Group{c: c, level: level}
}

// OnGroupClosing is the reserved hook fired just before a group closes,
// before its conclusions are known. It is a no-op in this pipeline —
// conclusion collection happens by the caller passing conclusions
// directly to Group.Close.
func (c *Client) OnGroupClosing() {}

// OnTopicChanged and OnAutoTagsChanged are host hooks minimal sinks (the
// pipe producer in particular) are not required to act on; they no-op
// here and exist so this Client satisfies the full producer callback
// surface.
func (c *Client) OnTopicChanged(string)      {}
func (c *Client) OnAutoTagsChanged([]string) {}

// Group is the RAII-style scope returned by OnOpenGroup. Close must be
// called exactly once; it emits the matching CloseGroup and restores the
// client's depth counter.
type Group struct {
	c      *Client
	level  entry.Value
	closed bool
}

// Close emits the CloseGroup entry carrying conclusions, and decrements
// the owning client's depth counter. Calling Close more than once is a
// no-op.
func (g *Group) Close(conclusions ...string) {
	if g.closed {
		return
	}
	g.closed = true
	g.c.emit(entry.KindCloseGroup, g.level, "", nil, conclusions)
	g.c.mu.Lock()
	if g.c.depth > 0 {
		g.c.depth--
	}
	g.c.mu.Unlock()
}

func (c *Client) emit(kind entry.Kind, level entry.Value, text string, tags []string, conclusions []string) {
	filters := c.d.CurrentFilters()
	lvl := entry.Level{Value: level}
	if !filters.Minimal.Allows(kind, lvl) {
		return
	}

	interner := c.d.Interner()
	var tagSet entry.Set
	for _, t := range tags {
		tagSet = tagSet.Add(interner.Intern(t))
	}

	c.mu.Lock()
	depth := c.depth
	prevTS := c.prevTS
	prevKind := c.prevKind
	ts := c.clock.Next()
	c.prevTS = ts
	c.prevKind = entry.FromKind(kind)
	c.mu.Unlock()

	mc := pool.Get()
	mc.Entry = entry.Entry{
		Timestamp:   ts,
		Level:       lvl,
		Kind:        kind,
		Text:        text,
		HasText:     text != "",
		Tags:        tagSet,
		HasTags:     len(tagSet) > 0,
		Conclusions: conclusions,
	}
	mc.MonitorID = c.id
	mc.GroupDepth = depth
	mc.PrevTimestamp = prevTS
	mc.PrevKind = prevKind
	if !c.d.Submit(mc) {
		pool.Put(mc)
	}
}
