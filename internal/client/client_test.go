package client

import (
	"sync"
	"testing"
	"time"

	"github.com/loomhq/actlog/internal/dispatcher"
	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/pkg/entry"
)

type captureSink struct {
	mu      sync.Mutex
	name    string
	entries []*entry.Multicast
}

func (s *captureSink) Activate(sink.Monitor) (bool, error) { return true, nil }
func (s *captureSink) ApplyConfiguration(sink.Descriptor) (bool, error) { return true, nil }
func (s *captureSink) Handle(_ sink.Monitor, e *entry.Multicast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}
func (s *captureSink) OnTimer(sink.Monitor, time.Duration) error { return nil }
func (s *captureSink) Deactivate(sink.Monitor) error             { return nil }
func (s *captureSink) Name() string                              { return s.name }

type fakeDescriptor struct{ kind string }

func (d fakeDescriptor) Kind() string { return d.kind }

func newFixture(t *testing.T) (*dispatcher.Dispatcher, *captureSink) {
	t.Helper()
	reg := sink.NewRegistry()
	cs := &captureSink{name: "capture"}
	reg.Register("capture", func(sink.Descriptor) (sink.Sink, error) { return cs, nil })

	d := dispatcher.New(dispatcher.Options{Registry: reg})
	d.Start()
	t.Cleanup(func() { d.Finalize(time.Second) })

	d.ApplyConfig(&dispatcher.Config{
		Handlers: []sink.Descriptor{fakeDescriptor{kind: "capture"}},
	}, true)

	return d, cs
}

func waitForCount(t *testing.T, cs *captureSink, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		cs.mu.Lock()
		got := len(cs.entries)
		cs.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d entries", n)
}

func TestOnUnfilteredLogEmitsLine(t *testing.T) {
	d, cs := newFixture(t)
	c := New(d, nil)

	c.OnUnfilteredLog(entry.Info, "hello", "tagA")
	waitForCount(t, cs, 1)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	got := cs.entries[0]
	if got.Entry.Kind != entry.KindLine {
		t.Fatalf("got kind %v, want Line", got.Entry.Kind)
	}
	if got.Entry.Text != "hello" {
		t.Fatalf("got text %q, want hello", got.Entry.Text)
	}
	if got.MonitorID != c.ID() {
		t.Fatalf("entry monitor id does not match client id")
	}
	if got.PrevKind != entry.PrevKindNone {
		t.Fatalf("first entry should have PrevKindNone, got %v", got.PrevKind)
	}
}

func TestOpenGroupCloseGroupTracksDepthAndPrevPointers(t *testing.T) {
	d, cs := newFixture(t)
	c := New(d, nil)

	g := c.OnOpenGroup(entry.Info, "group-1")
	c.OnUnfilteredLog(entry.Info, "inside")
	g.Close("done")

	waitForCount(t, cs, 3)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	open, line, closeEntry := cs.entries[0], cs.entries[1], cs.entries[2]

	if open.Entry.Kind != entry.KindOpenGroup {
		t.Fatalf("got kind %v, want OpenGroup", open.Entry.Kind)
	}
	if line.GroupDepth != 1 {
		t.Fatalf("got depth %d inside group, want 1", line.GroupDepth)
	}
	if line.PrevKind != entry.PrevKindOpenGroup || line.PrevTimestamp != open.Entry.Timestamp {
		t.Fatalf("line's previous pointer should reference the open-group entry")
	}
	if closeEntry.Entry.Kind != entry.KindCloseGroup {
		t.Fatalf("got kind %v, want CloseGroup", closeEntry.Entry.Kind)
	}
	if len(closeEntry.Entry.Conclusions) != 1 || closeEntry.Entry.Conclusions[0] != "done" {
		t.Fatalf("got conclusions %v, want [done]", closeEntry.Entry.Conclusions)
	}
	if closeEntry.GroupDepth != 1 {
		t.Fatalf("close-group entry itself is emitted at the depth it closes, got %d", closeEntry.GroupDepth)
	}
}

func TestMinimalFilterGatesLowLevelLines(t *testing.T) {
	d, cs := newFixture(t)
	d.ApplyConfig(&dispatcher.Config{
		Handlers:      []sink.Descriptor{fakeDescriptor{kind: "capture"}},
		MinimalFilter: entry.GroupFilter{Group: entry.Info, Line: entry.Warn},
	}, true)

	c := New(d, nil)
	c.OnUnfilteredLog(entry.Debug, "dropped")
	c.OnUnfilteredLog(entry.Error, "kept")

	waitForCount(t, cs, 1)
	time.Sleep(20 * time.Millisecond)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.entries) != 1 {
		t.Fatalf("got %d entries, want exactly 1 past the minimal filter", len(cs.entries))
	}
	if cs.entries[0].Entry.Text != "kept" {
		t.Fatalf("got text %q, want kept", cs.entries[0].Entry.Text)
	}
}

func TestRegistrySweepRemovesReleasedClients(t *testing.T) {
	d, _ := newFixture(t)
	reg := NewRegistry()

	c1 := New(d, reg)
	_ = New(d, reg)

	if reg.Len() != 2 {
		t.Fatalf("got %d registered clients, want 2", reg.Len())
	}

	c1.Release()
	reg.Sweep()

	if reg.Len() != 1 {
		t.Fatalf("got %d registered clients after sweep, want 1", reg.Len())
	}
}
