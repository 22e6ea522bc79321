package sinks

import (
	"bytes"
	"strings"
	"testing"

	"github.com/loomhq/actlog/pkg/entry"
)

func TestConsoleSinkForceColorWrapsLevelInEscape(t *testing.T) {
	desc := &ConsoleDescriptor{ForceColor: true}
	s := NewConsoleSink(desc)
	if _, err := s.Activate(nopMonitor{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	var buf bytes.Buffer
	s.out = &buf // bypass the real stdout/stderr target for a deterministic capture

	if err := s.Handle(nopMonitor{}, mustMulticast("cache miss", entry.Warn)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "\x1b[33m") || !strings.Contains(out, "cache miss") {
		t.Fatalf("expected colorized WARN line, got %q", out)
	}
}

func TestConsoleSinkApplyConfigurationChecksStream(t *testing.T) {
	s := NewConsoleSink(&ConsoleDescriptor{Stderr: false})
	ok, err := s.ApplyConfiguration(&ConsoleDescriptor{Stderr: true})
	if err != nil || ok {
		t.Fatalf("switching stdout<->stderr should refuse in place: ok=%v err=%v", ok, err)
	}
	ok, err = s.ApplyConfiguration(&ConsoleDescriptor{Stderr: false, ForceColor: true})
	if err != nil || !ok {
		t.Fatalf("same stream should absorb: ok=%v err=%v", ok, err)
	}
}
