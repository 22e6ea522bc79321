package sinks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loomhq/actlog/pkg/entry"
)

type nopMonitor struct{}

func (nopMonitor) Line(level entry.Value, text string, tags ...string) {}

func mustMulticast(text string, lvl entry.Value) *entry.Multicast {
	return &entry.Multicast{
		Entry: entry.Entry{
			Timestamp: entry.Timestamp{Instant: time.Unix(1700000000, 0).UTC()},
			Level:     entry.Level{Value: lvl},
			Kind:      entry.KindLine,
			Text:      text,
			HasText:   true,
		},
	}
}

func TestTextFileSinkWritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.log")
	// The first rendered line is 61 bytes and the second 79, so only the
	// second one crosses the threshold.
	desc := &TextFileDescriptor{Path: path, RotateBytes: 100}
	s := NewTextFileSink(desc)

	ok, err := s.Activate(nopMonitor{})
	if err != nil || !ok {
		t.Fatalf("Activate: ok=%v err=%v", ok, err)
	}

	if err := s.Handle(nopMonitor{}, mustMulticast("first line of some length", entry.Info)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := s.OnTimer(nopMonitor{}, time.Second); err != nil {
		t.Fatalf("OnTimer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "first line of some length") {
		t.Fatalf("missing written line, got %q", data)
	}

	if err := s.Handle(nopMonitor{}, mustMulticast("second line forcing rotation past threshold", entry.Warn)); err != nil {
		t.Fatalf("Handle (triggers rotation): %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected a rotated file alongside the active one, got %v", entries)
	}

	if err := s.Deactivate(nopMonitor{}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
}

func TestTextFileSinkApplyConfigurationAbsorbsSamePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.log")
	s := NewTextFileSink(&TextFileDescriptor{Path: path})
	if _, err := s.Activate(nopMonitor{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer s.Deactivate(nopMonitor{})

	ok, err := s.ApplyConfiguration(&TextFileDescriptor{Path: path, RotateBytes: 1024})
	if err != nil || !ok {
		t.Fatalf("ApplyConfiguration same path: ok=%v err=%v", ok, err)
	}

	ok, err = s.ApplyConfiguration(&TextFileDescriptor{Path: filepath.Join(dir, "other.log")})
	if err != nil || ok {
		t.Fatalf("ApplyConfiguration different path should refuse: ok=%v err=%v", ok, err)
	}
}
