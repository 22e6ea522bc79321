package sinks

import (
	"io"
	"strings"

	"github.com/loomhq/actlog/pkg/entry"
)

// buildLine renders m as one human-readable line, used by the text-file
// and console sinks. Group depth is rendered as indentation so a nested
// scope reads the way it was opened; OpenGroup/CloseGroup get a '>' / '<'
// marker. levelTag is returned separately so callers can colourize it.
func buildLine(m *entry.Multicast) (prefix, levelTag, rest string) {
	e := &m.Entry

	var marker string
	switch e.Kind {
	case entry.KindOpenGroup:
		marker = "> "
	case entry.KindCloseGroup:
		marker = "< "
	default:
		marker = "  "
	}

	prefix = e.Timestamp.Instant.UTC().Format("2006-01-02T15:04:05.000Z")

	var b strings.Builder
	b.WriteString(strings.Repeat("  ", int(m.GroupDepth)))
	b.WriteString(marker)
	b.WriteString(e.Text)

	if e.Kind == entry.KindCloseGroup && len(e.Conclusions) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Conclusions, "; "))
		b.WriteByte(')')
	}

	if e.HasTags && len(e.Tags) > 0 {
		b.WriteString(" tags=")
		b.WriteString(e.Tags.Canonical())
	}

	if e.Exception != nil {
		b.WriteString(" exception=")
		b.WriteString(e.Exception.TypeName)
		b.WriteString(": ")
		b.WriteString(e.Exception.Message)
	}

	return prefix, formatLevel(e.Level), b.String()
}

// renderLine writes m as a plain line with no ANSI escapes (text-file
// sink).
func renderLine(w io.Writer, m *entry.Multicast) error {
	prefix, lvl, rest := buildLine(m)
	_, err := io.WriteString(w, prefix+" "+lvl+" "+rest+"\n")
	return err
}

// renderColoredLine writes m with the level tag wrapped in an ANSI colour
// escape. The console sink always emits these escapes and relies on
// go-colorable to interpret or strip them depending on whether the
// underlying target is a real terminal.
func renderColoredLine(w io.Writer, m *entry.Multicast) error {
	prefix, lvl, rest := buildLine(m)
	_, err := io.WriteString(w, prefix+" "+colorize(m.Entry.Level.Value, lvl)+" "+rest+"\n")
	return err
}

func formatLevel(lvl entry.Level) string {
	s := strings.ToUpper(lvl.Value.String())
	for len(s) < 5 {
		s += " "
	}
	if lvl.Filtered {
		return "[" + s + "*]"
	}
	return "[" + s + "]"
}

const ansiReset = "\x1b[0m"

func colorize(v entry.Value, s string) string {
	var code string
	switch v {
	case entry.Debug, entry.Trace:
		code = "\x1b[90m" // bright black
	case entry.Info:
		code = "\x1b[36m" // cyan
	case entry.Warn:
		code = "\x1b[33m" // yellow
	case entry.Error:
		code = "\x1b[31m" // red
	case entry.Fatal:
		code = "\x1b[1;31m" // bold red
	default:
		return s
	}
	return code + s + ansiReset
}
