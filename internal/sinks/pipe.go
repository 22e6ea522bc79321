package sinks

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/loomhq/actlog/internal/codec"
	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/pkg/entry"
)

// PipeDescriptor configures the inter-process pipe sink: a Unix-domain
// socket listener. Each accepted connection receives the version header,
// then framed unicast entries, then the EOF sentinel on graceful close of
// that connection; only one client is serviced at a time.
type PipeDescriptor struct {
	SocketPath string
}

func (d *PipeDescriptor) Kind() string { return KindPipe }

// PipeSink implements sink.Sink. It listens on a Unix socket and streams
// unicast entries to whichever single client is currently connected,
// accepting the next client once the current one disconnects. A write
// failure to the current client quarantines this sink instance per
// spec.md §4.3/§4.9 — the next reconfiguration starts a fresh listener.
type PipeSink struct {
	desc *PipeDescriptor

	ln net.Listener

	mu   sync.Mutex
	conn net.Conn
	enc  *codec.Writer

	acceptErrCh chan error
}

// NewPipeSink constructs a PipeSink from desc. The listener is opened in
// Activate.
func NewPipeSink(desc *PipeDescriptor) *PipeSink {
	return &PipeSink{desc: desc}
}

func (s *PipeSink) Name() string { return "pipe:" + s.desc.SocketPath }

func (s *PipeSink) Activate(mon sink.Monitor) (bool, error) {
	os.Remove(s.desc.SocketPath)
	ln, err := net.Listen("unix", s.desc.SocketPath)
	if err != nil {
		return false, fmt.Errorf("sinks: listening on %s: %w", s.desc.SocketPath, err)
	}
	s.ln = ln
	s.acceptErrCh = make(chan error, 1)
	go s.acceptLoop()
	return true, nil
}

// acceptLoop accepts connections one at a time for the life of the sink.
// A new connection replaces the prior one (the prior client is presumed
// gone; its pending bytes are simply abandoned per the "best-effort,
// single client" contract).
func (s *PipeSink) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case s.acceptErrCh <- err:
			default:
			}
			return
		}
		s.adopt(conn)
	}
}

func (s *PipeSink) adopt(conn net.Conn) {
	enc := codec.NewWriter(conn)
	if err := enc.WriteHeader(); err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.enc = enc
	s.mu.Unlock()
}

func (s *PipeSink) Handle(mon sink.Monitor, e *entry.Multicast) error {
	select {
	case err := <-s.acceptErrCh:
		return fmt.Errorf("sinks: pipe listener %s failed: %w", s.desc.SocketPath, err)
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		// No client connected yet; entries are simply not delivered,
		// matching the spec's "best-effort" sink contract rather than
		// an error — there is nothing faulty about an idle listener.
		return nil
	}
	err := s.enc.WriteUnicast(&e.Entry)
	if err == nil {
		// Flush per entry so the client receives the header and each
		// frame as it is handled, not only once the buffer fills.
		err = s.enc.Flush()
	}
	if err != nil {
		s.conn.Close()
		s.conn = nil
		s.enc = nil
		return fmt.Errorf("sinks: writing to pipe client: %w", err)
	}
	return nil
}

func (s *PipeSink) ApplyConfiguration(d sink.Descriptor) (bool, error) {
	desc, ok := d.(*PipeDescriptor)
	if !ok || desc.SocketPath != s.desc.SocketPath {
		return false, nil
	}
	s.desc = desc
	return true, nil
}

func (s *PipeSink) OnTimer(mon sink.Monitor, period time.Duration) error {
	return nil
}

func (s *PipeSink) Deactivate(mon sink.Monitor) error {
	s.mu.Lock()
	if s.conn != nil {
		if s.enc != nil {
			s.enc.Close()
		}
		s.conn.Close()
		s.conn = nil
		s.enc = nil
	}
	s.mu.Unlock()

	if s.ln != nil {
		s.ln.Close()
	}
	os.Remove(s.desc.SocketPath)
	return nil
}
