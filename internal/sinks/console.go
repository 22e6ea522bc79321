package sinks

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/pkg/entry"
)

// ConsoleDescriptor configures the console sink: a human-readable
// rendering to stdout or stderr, colourized when the target is a real
// terminal. Colour detection and ANSI escaping are delegated to
// go-isatty/go-colorable — the same terminal-colour stack zerolog's
// console writer uses — rather than reimplemented here.
type ConsoleDescriptor struct {
	// Stderr selects stderr over stdout. Default (false) is stdout.
	Stderr bool
	// ForceColor and NoColor override terminal auto-detection; at most
	// one should be set. Both false means auto-detect.
	ForceColor bool
	NoColor    bool
}

func (d *ConsoleDescriptor) Kind() string { return KindConsole }

// ConsoleSink implements sink.Sink, writing rendered lines to stdout or
// stderr with ANSI colour applied when the target is a terminal.
type ConsoleSink struct {
	desc *ConsoleDescriptor
	out  io.Writer
}

// NewConsoleSink constructs a ConsoleSink from desc.
func NewConsoleSink(desc *ConsoleDescriptor) *ConsoleSink {
	return &ConsoleSink{desc: desc}
}

func (s *ConsoleSink) Name() string {
	if s.desc.Stderr {
		return "console:stderr"
	}
	return "console:stdout"
}

func (s *ConsoleSink) Activate(mon sink.Monitor) (bool, error) {
	f := os.Stdout
	if s.desc.Stderr {
		f = os.Stderr
	}

	colorize := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	if s.desc.ForceColor {
		colorize = true
	}
	if s.desc.NoColor {
		colorize = false
	}

	if colorize {
		s.out = colorable.NewColorable(f)
	} else {
		s.out = colorable.NewNonColorable(f)
	}
	return true, nil
}

func (s *ConsoleSink) ApplyConfiguration(d sink.Descriptor) (bool, error) {
	desc, ok := d.(*ConsoleDescriptor)
	if !ok || desc.Stderr != s.desc.Stderr {
		return false, nil
	}
	s.desc = desc
	return true, nil
}

func (s *ConsoleSink) Handle(mon sink.Monitor, e *entry.Multicast) error {
	return renderColoredLine(s.out, e)
}

func (s *ConsoleSink) OnTimer(mon sink.Monitor, period time.Duration) error {
	return nil
}

func (s *ConsoleSink) Deactivate(mon sink.Monitor) error {
	return nil
}
