package sinks

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomhq/actlog/internal/codec"
	"github.com/loomhq/actlog/pkg/entry"
)

func TestPipeSinkStreamsToConnectedClient(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "activity.sock")
	s := NewPipeSink(&PipeDescriptor{SocketPath: sockPath})

	if _, err := s.Activate(nopMonitor{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer s.Deactivate(nopMonitor{})

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give the accept loop a moment to adopt the connection and write the
	// header before Handle is called.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		ready := s.enc != nil
		s.mu.Unlock()
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for pipe sink to adopt connection")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Handle(nopMonitor{}, mustMulticast("client connected", entry.Info)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	r := codec.NewReader(conn, entry.NewInterner())
	if _, err := r.ReadHeader(); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	dec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dec.Entry.Text != "client connected" {
		t.Fatalf("got %+v", dec)
	}
}

func TestPipeSinkHandleWithoutClientIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "activity.sock")
	s := NewPipeSink(&PipeDescriptor{SocketPath: sockPath})
	if _, err := s.Activate(nopMonitor{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer s.Deactivate(nopMonitor{})

	if err := s.Handle(nopMonitor{}, mustMulticast("no client yet", entry.Info)); err != nil {
		t.Fatalf("Handle with no client should be a no-op, got: %v", err)
	}
}
