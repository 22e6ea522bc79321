package multireader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomhq/actlog/internal/codec"
	"github.com/loomhq/actlog/pkg/entry"
)

func writeWorkload(t *testing.T, path string, monitorID entry.MonitorID, n int, start time.Time) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w := codec.NewWriter(f)
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	for i := 0; i < n; i++ {
		m := &entry.Multicast{
			Entry: entry.Entry{
				Timestamp: entry.Timestamp{Instant: start.Add(time.Duration(i) * time.Millisecond)},
				Level:     entry.Level{Value: entry.Info},
				Kind:      entry.KindLine,
				Text:      "tick",
				HasText:   true,
			},
			MonitorID:  monitorID,
			GroupDepth: 1,
			PrevKind:   entry.PrevKindLine,
		}
		if err := w.WriteMulticast(m); err != nil {
			t.Fatalf("WriteMulticast: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAddAndActivityMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	mon := entry.MonitorID{9}
	writeWorkload(t, path, mon, 10, time.Unix(1700000000, 0).UTC())

	r := New(nil)
	fresh, err := r.Add([]string{path})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !fresh[0] {
		t.Fatal("expected first Add to report newly indexed")
	}

	fresh2, err := r.Add([]string{path})
	if err != nil {
		t.Fatalf("Add (repeat): %v", err)
	}
	if fresh2[0] {
		t.Fatal("expected repeat Add to report already-indexed")
	}

	activities := r.ActivityMap()
	if len(activities) != 1 {
		t.Fatalf("got %d monitors, want 1", len(activities))
	}
	if activities[0].MonitorID != mon {
		t.Fatalf("got monitor %x, want %x", activities[0].MonitorID, mon)
	}
}

func TestFilteredReaderSkipsOtherMonitors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "interleaved.bin")

	monA := entry.MonitorID{1}
	monB := entry.MonitorID{2}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := codec.NewWriter(f)
	_ = w.WriteHeader()
	base := time.Unix(1700000000, 0).UTC()
	var aOffset int64
	for i := 0; i < 4; i++ {
		_ = w.WriteMulticast(&entry.Multicast{
			Entry:      entry.Entry{Timestamp: entry.Timestamp{Instant: base.Add(time.Duration(i) * time.Second)}, Level: entry.Level{Value: entry.Info}, Kind: entry.KindLine},
			MonitorID:  monB,
			GroupDepth: 0,
		})
	}
	_ = w.Close()
	f.Close()

	// Rewrite the file so we know monA's first entry's byte offset precisely.
	f, _ = os.Create(path)
	w = codec.NewWriter(f)
	_ = w.WriteHeader()
	aOffset = 4 // right after the 4-byte header
	_ = w.WriteMulticast(&entry.Multicast{
		Entry:      entry.Entry{Timestamp: entry.Timestamp{Instant: base}, Level: entry.Level{Value: entry.Info}, Kind: entry.KindLine},
		MonitorID:  monA,
		GroupDepth: 0,
	})
	_ = w.WriteMulticast(&entry.Multicast{
		Entry:      entry.Entry{Timestamp: entry.Timestamp{Instant: base.Add(time.Second)}, Level: entry.Level{Value: entry.Info}, Kind: entry.KindLine},
		MonitorID:  monB,
		GroupDepth: 0,
	})
	_ = w.WriteMulticast(&entry.Multicast{
		Entry:      entry.Entry{Timestamp: entry.Timestamp{Instant: base.Add(2 * time.Second)}, Level: entry.Level{Value: entry.Info}, Kind: entry.KindLine},
		MonitorID:  monA,
		GroupDepth: 0,
	})
	_ = w.Close()
	f.Close()

	r := New(nil)
	if _, err := r.Add([]string{path}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fr, err := r.NewMonitorReader(monA, aOffset)
	if err != nil {
		t.Fatalf("NewMonitorReader: %v", err)
	}
	defer fr.Close()

	count := 0
	for fr.MoveNext() {
		if fr.Current().MonitorID != monA {
			t.Fatalf("filtered reader yielded entry for the wrong monitor: %x", fr.Current().MonitorID)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("got %d entries for monA, want 2", count)
	}
}
