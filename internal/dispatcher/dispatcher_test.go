package dispatcher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/pkg/entry"
)

type fakeDescriptor struct {
	kind string
	path string
}

func (d fakeDescriptor) Kind() string { return d.kind }

type fakeSink struct {
	mu          sync.Mutex
	name        string
	path        string
	activated   int
	deactivated int
	handled     []*entry.Multicast
	handleErrAt int // 1-based call count that errors, 0 = never
	handleCalls int
	handleDelay time.Duration
	applyOK     func(desc sink.Descriptor) bool
}

func (s *fakeSink) Activate(mon sink.Monitor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated++
	return true, nil
}

func (s *fakeSink) ApplyConfiguration(desc sink.Descriptor) (bool, error) {
	fd, ok := desc.(fakeDescriptor)
	if !ok {
		return false, nil
	}
	if s.applyOK != nil {
		return s.applyOK(desc), nil
	}
	return fd.path == s.path, nil
}

func (s *fakeSink) Handle(mon sink.Monitor, e *entry.Multicast) error {
	if s.handleDelay > 0 {
		time.Sleep(s.handleDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handleCalls++
	if s.handleErrAt != 0 && s.handleCalls == s.handleErrAt {
		return errors.New("boom")
	}
	s.handled = append(s.handled, e)
	return nil
}

func (s *fakeSink) OnTimer(mon sink.Monitor, period time.Duration) error { return nil }

func (s *fakeSink) Deactivate(mon sink.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated++
	return nil
}

func (s *fakeSink) Name() string { return s.name }

func newFixture(t *testing.T) (*Dispatcher, *sink.Registry) {
	t.Helper()
	reg := sink.NewRegistry()
	d := New(Options{Registry: reg})
	d.Start()
	t.Cleanup(func() { d.Finalize(0) })
	return d, reg
}

func TestSubmitDispatchesToSink(t *testing.T) {
	reg := sink.NewRegistry()
	fs := &fakeSink{name: "text-file", path: "/a"}
	reg.Register("text-file", func(desc sink.Descriptor) (sink.Sink, error) { return fs, nil })

	d := New(Options{Registry: reg})
	d.Start()

	d.ApplyConfig(&Config{Handlers: []sink.Descriptor{fakeDescriptor{kind: "text-file", path: "/a"}}}, true)

	for i := 0; i < 5; i++ {
		d.Submit(&entry.Multicast{Entry: entry.Entry{Kind: entry.KindLine, Level: entry.Level{Value: entry.Info}}})
	}

	d.Finalize(2 * time.Second)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.handled) != 5 {
		t.Fatalf("got %d handled entries, want 5", len(fs.handled))
	}
	if fs.activated != 1 {
		t.Fatalf("got %d activations, want 1", fs.activated)
	}
	if fs.deactivated != 1 {
		t.Fatalf("got %d deactivations on shutdown, want 1", fs.deactivated)
	}
}

func TestStopIsOneShot(t *testing.T) {
	d, _ := newFixture(t)
	if !d.Stop() {
		t.Fatal("first Stop() should return true")
	}
	if d.Stop() {
		t.Fatal("second Stop() should return false")
	}
	if d.Submit(&entry.Multicast{}) {
		t.Fatal("Submit after Stop should be silently dropped")
	}
}

func TestReconfigurationIdentityPreserved(t *testing.T) {
	reg := sink.NewRegistry()
	var textFileConstructions int
	var textFileSink *fakeSink
	reg.Register("text-file", func(desc sink.Descriptor) (sink.Sink, error) {
		textFileConstructions++
		fd := desc.(fakeDescriptor)
		textFileSink = &fakeSink{name: "text-file", path: fd.path}
		return textFileSink, nil
	})
	var binaryFileConstructions int
	reg.Register("binary-file", func(desc sink.Descriptor) (sink.Sink, error) {
		binaryFileConstructions++
		return &fakeSink{name: "binary-file"}, nil
	})

	d := New(Options{Registry: reg})
	d.Start()
	defer d.Finalize(2 * time.Second)

	d.ApplyConfig(&Config{Handlers: []sink.Descriptor{fakeDescriptor{kind: "text-file", path: "/A"}}}, true)
	d.ApplyConfig(&Config{Handlers: []sink.Descriptor{
		fakeDescriptor{kind: "text-file", path: "/A"},
		fakeDescriptor{kind: "binary-file", path: "/B"},
	}}, true)

	if textFileConstructions != 1 {
		t.Fatalf("got %d text-file constructions, want exactly 1 (the sink must be reused across configs)", textFileConstructions)
	}
	if binaryFileConstructions != 1 {
		t.Fatalf("got %d binary-file constructions, want exactly 1", binaryFileConstructions)
	}
	if textFileSink.activated != 1 {
		t.Fatalf("got %d activate calls on the text-file sink, want exactly 1", textFileSink.activated)
	}
	if textFileSink.deactivated != 0 {
		t.Fatalf("the reused text-file sink should not have been deactivated, got %d", textFileSink.deactivated)
	}
	if len(d.sinks) != 2 {
		t.Fatalf("got %d live sinks, want 2", len(d.sinks))
	}
}

func TestFaultySinkIsQuarantined(t *testing.T) {
	reg := sink.NewRegistry()
	good1 := &fakeSink{name: "good-1"}
	bad := &fakeSink{name: "bad", handleErrAt: 3}
	good2 := &fakeSink{name: "good-2"}

	reg.Register("good-1", func(sink.Descriptor) (sink.Sink, error) { return good1, nil })
	reg.Register("bad", func(sink.Descriptor) (sink.Sink, error) { return bad, nil })
	reg.Register("good-2", func(sink.Descriptor) (sink.Sink, error) { return good2, nil })

	var reported []SinkFault
	var mu sync.Mutex
	reporter := fakeReporter(func(f SinkFault) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, f)
	})

	d := New(Options{Registry: reg, Reporter: reporter})
	d.Start()
	defer d.Finalize(2 * time.Second)

	d.ApplyConfig(&Config{Handlers: []sink.Descriptor{
		fakeDescriptor{kind: "good-1"},
		fakeDescriptor{kind: "bad"},
		fakeDescriptor{kind: "good-2"},
	}}, true)

	for i := 0; i < 6; i++ {
		d.Submit(&entry.Multicast{Entry: entry.Entry{Kind: entry.KindLine, Level: entry.Level{Value: entry.Info}}})
	}

	// Give the worker a moment to process and sweep the faulty sink.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		bad.mu.Lock()
		n := bad.deactivated
		bad.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	good1.mu.Lock()
	g1 := len(good1.handled)
	good1.mu.Unlock()
	good2.mu.Lock()
	g2 := len(good2.handled)
	good2.mu.Unlock()
	bad.mu.Lock()
	deactivatedOnce := bad.deactivated
	bad.mu.Unlock()

	// 6 submitted entries plus the CriticalError line the worker's own
	// monitor emits when the bad sink faults.
	if g1 != 7 || g2 != 7 {
		t.Fatalf("good sinks should keep receiving entries after the bad one faults: g1=%d g2=%d", g1, g2)
	}
	if deactivatedOnce != 1 {
		t.Fatalf("faulty sink should be deactivated exactly once, got %d", deactivatedOnce)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Fatalf("got %d reported faults, want 1", len(reported))
	}
}

type fakeReporter func(SinkFault)

func (f fakeReporter) ReportFault(s SinkFault) { f(s) }

func TestFinalizeForceClosesOnTimeout(t *testing.T) {
	reg := sink.NewRegistry()
	slow := &fakeSink{name: "slow", handleDelay: time.Second}
	reg.Register("slow", func(sink.Descriptor) (sink.Sink, error) { return slow, nil })

	d := New(Options{Registry: reg})
	d.Start()

	d.ApplyConfig(&Config{Handlers: []sink.Descriptor{fakeDescriptor{kind: "slow"}}}, true)
	for i := 0; i < 10; i++ {
		d.Submit(&entry.Multicast{Entry: entry.Entry{Kind: entry.KindLine, Level: entry.Level{Value: entry.Info}}})
	}

	started := time.Now()
	d.Finalize(100 * time.Millisecond)
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("Finalize took too long to force-close: %v", elapsed)
	}
}
