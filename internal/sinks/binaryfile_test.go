package sinks

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomhq/actlog/internal/codec"
	"github.com/loomhq/actlog/pkg/entry"
)

func TestBinaryFileSinkRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.bin")
	s := NewBinaryFileSink(&BinaryFileDescriptor{Path: path})

	if _, err := s.Activate(nopMonitor{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	mc := mustMulticast("worker started", entry.Info)
	mc.MonitorID = entry.MonitorID{9, 9, 9}
	if err := s.Handle(nopMonitor{}, mc); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := s.OnTimer(nopMonitor{}, time.Second); err != nil {
		t.Fatalf("OnTimer: %v", err)
	}
	if err := s.Deactivate(nopMonitor{}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	r := codec.NewReader(f, entry.NewInterner())
	if _, err := r.ReadHeader(); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	dec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !dec.Multicast || dec.Multi.Entry.Text != "worker started" {
		t.Fatalf("unexpected decode: %+v", dec)
	}
	dec, err = r.Next()
	if err != nil || !dec.IsEOF {
		t.Fatalf("expected EOF sentinel, got %+v err=%v", dec, err)
	}
}

func TestBinaryFileSinkApplyConfigurationRefusesCodecChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.bin")
	s := NewBinaryFileSink(&BinaryFileDescriptor{Path: path})
	if _, err := s.Activate(nopMonitor{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer s.Deactivate(nopMonitor{})

	ok, err := s.ApplyConfiguration(&BinaryFileDescriptor{Path: path, UseGzipCompression: true})
	if err != nil || ok {
		t.Fatalf("ApplyConfiguration with codec change should refuse: ok=%v err=%v", ok, err)
	}

	ok, err = s.ApplyConfiguration(&BinaryFileDescriptor{Path: path, RotateBytes: 2048})
	if err != nil || !ok {
		t.Fatalf("ApplyConfiguration same codec should absorb: ok=%v err=%v", ok, err)
	}
}
