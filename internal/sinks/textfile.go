package sinks

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/pkg/entry"
)

// TextFileDescriptor configures the text-file sink: a line-oriented,
// human-readable rendering with rotation by size.
type TextFileDescriptor struct {
	Path string
	// RotateBytes is the approximate size at which the current file is
	// rotated aside (renamed with a timestamp suffix) and a fresh one
	// opened. Zero disables rotation.
	RotateBytes int64
}

func (d *TextFileDescriptor) Kind() string { return KindTextFile }

// TextFileSink implements sink.Sink, rendering each entry as one line of
// text per renderLine and rotating the file by size.
type TextFileSink struct {
	desc *TextFileDescriptor

	f       *os.File
	w       *bufio.Writer
	written int64
}

// NewTextFileSink constructs a TextFileSink from desc. The file is opened
// lazily in Activate.
func NewTextFileSink(desc *TextFileDescriptor) *TextFileSink {
	return &TextFileSink{desc: desc}
}

func (s *TextFileSink) Name() string { return "text-file:" + s.desc.Path }

func (s *TextFileSink) Activate(mon sink.Monitor) (bool, error) {
	f, err := os.OpenFile(s.desc.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("sinks: opening text file %s: %w", s.desc.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return false, fmt.Errorf("sinks: stat text file %s: %w", s.desc.Path, err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	s.written = info.Size()
	return true, nil
}

// ApplyConfiguration absorbs desc in place when it targets the same path;
// RotateBytes may change without reopening the file.
func (s *TextFileSink) ApplyConfiguration(d sink.Descriptor) (bool, error) {
	desc, ok := d.(*TextFileDescriptor)
	if !ok || desc.Path != s.desc.Path {
		return false, nil
	}
	s.desc = desc
	return true, nil
}

func (s *TextFileSink) Handle(mon sink.Monitor, e *entry.Multicast) error {
	before := s.w.Buffered()
	if err := renderLine(s.w, e); err != nil {
		return err
	}
	s.written += int64(s.w.Buffered() - before)
	if s.desc.RotateBytes > 0 && s.written >= s.desc.RotateBytes {
		return s.rotate()
	}
	return nil
}

func (s *TextFileSink) OnTimer(mon sink.Monitor, period time.Duration) error {
	return s.w.Flush()
}

func (s *TextFileSink) Deactivate(mon sink.Monitor) error {
	if s.w == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (s *TextFileSink) rotate() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%d", s.desc.Path, time.Now().UnixNano())
	if err := os.Rename(s.desc.Path, rotated); err != nil {
		return fmt.Errorf("sinks: rotating text file %s: %w", s.desc.Path, err)
	}
	f, err := os.OpenFile(s.desc.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("sinks: reopening text file %s after rotation: %w", s.desc.Path, err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	s.written = 0
	return nil
}
