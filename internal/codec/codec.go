// Package codec implements the binary wire format shared by the binary-file
// sink and the log reader: a 4-byte stream-version header, tag-byte framed
// entries, and a single zero-byte end-of-file sentinel.
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/loomhq/actlog/internal/metrics"
	"github.com/loomhq/actlog/pkg/entry"
)

// StreamVersion is the current wire format version written into every
// stream header.
const StreamVersion uint32 = 1

// tag byte layout: variant occupies the high nibble, present-fields
// occupies the low nibble. Variant 0 is reserved for the EOF sentinel so
// that a lone zero byte at end-of-stream can never be mistaken for a real
// entry — a unicast Line entry with no optional fields would otherwise
// also encode to 0x00.
const (
	variantEOF                 = 0
	variantUnicastLine         = 1
	variantUnicastOpenGroup    = 2
	variantUnicastCloseGroup   = 3
	variantMulticastLine       = 4
	variantMulticastOpenGroup  = 5
	variantMulticastCloseGroup = 6
)

const (
	flagHasText      = 1 << 0
	flagHasTags      = 1 << 1
	flagHasFileLine  = 1 << 2
	flagHasException = 1 << 3
)

// ErrBadEndOfFile indicates a stream ended without the EOF sentinel byte.
var ErrBadEndOfFile = fmt.Errorf("codec: stream ended without EOF sentinel")

// countingWriter tallies bytes actually flushed to the underlying writer,
// which lags behind logical frame writes by however much bufio.Writer is
// still holding buffered.
type countingWriter struct {
	w     io.Writer
	total uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.total += uint64(n)
	return n, err
}

// WriterOption configures optional Writer behavior not needed by every
// caller (tests construct a bare Writer with none set).
type WriterOption func(*Writer)

// WithMetrics attributes this Writer's byte and EOF-sentinel counters to
// codecLabel (e.g. "none", "gzip", "snappy") on collector.
func WithMetrics(collector *metrics.Collector, codecLabel string) WriterOption {
	return func(wr *Writer) {
		wr.metrics = collector
		wr.codecLabel = codecLabel
	}
}

// Writer frames entries onto an underlying io.Writer per the wire format.
// It is not safe for concurrent use; callers serialize writes themselves
// (the dispatcher's worker goroutine is the only writer).
type Writer struct {
	w       *bufio.Writer
	buf     [binary.MaxVarintLen64]byte
	counter *countingWriter

	metrics      *metrics.Collector
	codecLabel   string
	lastReported uint64
}

// NewWriter wraps w. Callers must call WriteHeader exactly once before any
// entry, and Close (which emits the EOF sentinel and flushes) exactly once
// when done.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	cw := &countingWriter{w: w}
	wr := &Writer{w: bufio.NewWriter(cw), counter: cw}
	for _, opt := range opts {
		opt(wr)
	}
	return wr
}

// reportBytes charges any bytes the underlying writer has actually
// accepted since the last report to the codec byte-count metric.
func (wr *Writer) reportBytes() {
	if wr.metrics == nil {
		return
	}
	if delta := wr.counter.total - wr.lastReported; delta > 0 {
		wr.metrics.CodecBytesWritten.WithLabelValues(wr.codecLabel).Add(float64(delta))
		wr.lastReported = wr.counter.total
	}
}

// WriteHeader writes the 4-byte little-endian stream version.
func (wr *Writer) WriteHeader() error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], StreamVersion)
	_, err := wr.w.Write(hdr[:])
	return err
}

// WriteUnicast writes e as a unicast entry (Line/OpenGroup/CloseGroup).
func (wr *Writer) WriteUnicast(e *entry.Entry) error {
	variant, err := unicastVariant(e.Kind)
	if err != nil {
		return err
	}
	tag := variant<<4 | presentFields(e)
	if err := wr.w.WriteByte(tag); err != nil {
		return err
	}
	return wr.writeBody(e)
}

// WriteMulticast writes m as a multicast entry, prefixed with monitor id,
// previous-entry bookkeeping, and group depth.
func (wr *Writer) WriteMulticast(m *entry.Multicast) error {
	variant, err := multicastVariant(m.Entry.Kind)
	if err != nil {
		return err
	}
	tag := variant<<4 | presentFields(&m.Entry)
	if err := wr.w.WriteByte(tag); err != nil {
		return err
	}
	if _, err := wr.w.Write(m.MonitorID[:]); err != nil {
		return err
	}
	if err := wr.w.WriteByte(byte(m.PrevKind)); err != nil {
		return err
	}
	if err := wr.writeTimestamp(m.PrevTimestamp); err != nil {
		return err
	}
	n := binary.PutUvarint(wr.buf[:], uint64(m.GroupDepth))
	if _, err := wr.w.Write(wr.buf[:n]); err != nil {
		return err
	}
	return wr.writeBody(&m.Entry)
}

// Close writes the EOF sentinel and flushes the underlying writer.
func (wr *Writer) Close() error {
	if err := wr.w.WriteByte(variantEOF); err != nil {
		return err
	}
	if wr.metrics != nil {
		wr.metrics.CodecEOFWrites.WithLabelValues(wr.codecLabel).Inc()
	}
	err := wr.w.Flush()
	wr.reportBytes()
	return err
}

// Flush pushes any buffered frames to the underlying writer without
// emitting the EOF sentinel, for periodic on-timer flush hooks that must
// leave the stream open for further writes.
func (wr *Writer) Flush() error {
	err := wr.w.Flush()
	wr.reportBytes()
	return err
}

func unicastVariant(k entry.Kind) (byte, error) {
	switch k {
	case entry.KindLine:
		return variantUnicastLine, nil
	case entry.KindOpenGroup:
		return variantUnicastOpenGroup, nil
	case entry.KindCloseGroup:
		return variantUnicastCloseGroup, nil
	default:
		return 0, fmt.Errorf("codec: unknown entry kind %v", k)
	}
}

func multicastVariant(k entry.Kind) (byte, error) {
	switch k {
	case entry.KindLine:
		return variantMulticastLine, nil
	case entry.KindOpenGroup:
		return variantMulticastOpenGroup, nil
	case entry.KindCloseGroup:
		return variantMulticastCloseGroup, nil
	default:
		return 0, fmt.Errorf("codec: unknown entry kind %v", k)
	}
}

func presentFields(e *entry.Entry) byte {
	var f byte
	if e.HasText {
		f |= flagHasText
	}
	if e.HasTags {
		f |= flagHasTags
	}
	if e.HasFileLine {
		f |= flagHasFileLine
	}
	if e.Exception != nil {
		f |= flagHasException
	}
	return f
}

func (wr *Writer) writeTimestamp(ts entry.Timestamp) error {
	var b [9]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(ts.Instant.UnixNano()))
	b[8] = ts.Uniquifier
	_, err := wr.w.Write(b[:])
	return err
}

func (wr *Writer) writeLevel(lvl entry.Level) error {
	var b [2]byte
	b[0] = byte(lvl.Value)
	if lvl.Filtered {
		b[1] = 1
	}
	_, err := wr.w.Write(b[:])
	return err
}

func (wr *Writer) writeString(s string) error {
	n := binary.PutUvarint(wr.buf[:], uint64(len(s)))
	if _, err := wr.w.Write(wr.buf[:n]); err != nil {
		return err
	}
	_, err := wr.w.WriteString(s)
	return err
}

func (wr *Writer) writeBody(e *entry.Entry) error {
	if err := wr.writeTimestamp(e.Timestamp); err != nil {
		return err
	}
	if err := wr.writeLevel(e.Level); err != nil {
		return err
	}
	if e.HasText {
		if err := wr.writeString(e.Text); err != nil {
			return err
		}
	}
	if e.HasTags {
		if err := wr.writeString(e.Tags.Canonical()); err != nil {
			return err
		}
	}
	if e.HasFileLine {
		if err := wr.writeString(e.File); err != nil {
			return err
		}
		n := binary.PutVarint(wr.buf[:], e.Line)
		if _, err := wr.w.Write(wr.buf[:n]); err != nil {
			return err
		}
	}
	if e.Exception != nil {
		if err := wr.writeException(e.Exception); err != nil {
			return err
		}
	}
	if e.Kind == entry.KindCloseGroup {
		if err := wr.writeConclusions(e.Conclusions); err != nil {
			return err
		}
	}
	return nil
}

func (wr *Writer) writeConclusions(conclusions []string) error {
	n := binary.PutUvarint(wr.buf[:], uint64(len(conclusions)))
	if _, err := wr.w.Write(wr.buf[:n]); err != nil {
		return err
	}
	for _, c := range conclusions {
		if err := wr.writeString(c); err != nil {
			return err
		}
	}
	return nil
}

// writeException recurses on Inner/Inners/LoaderExceptions, each guarded by
// a null-present byte so a decoder can distinguish "absent" from a
// zero-length recursion.
func (wr *Writer) writeException(ex *entry.Exception) error {
	if err := wr.w.WriteByte(1); err != nil {
		return err
	}
	if err := wr.writeString(ex.Message); err != nil {
		return err
	}
	if err := wr.writeString(ex.TypeName); err != nil {
		return err
	}
	if err := wr.writeString(ex.StackTrace); err != nil {
		return err
	}
	if err := wr.writeOptionalException(ex.Inner); err != nil {
		return err
	}
	if err := wr.writeExceptionList(ex.Inners); err != nil {
		return err
	}
	if err := wr.writeExceptionList(ex.LoaderExceptions); err != nil {
		return err
	}
	var hasFusion byte
	if ex.HasFusionLog {
		hasFusion = 1
	}
	if err := wr.w.WriteByte(hasFusion); err != nil {
		return err
	}
	if ex.HasFusionLog {
		if err := wr.writeString(ex.FusionLog); err != nil {
			return err
		}
	}
	return nil
}

func (wr *Writer) writeOptionalException(ex *entry.Exception) error {
	if ex == nil {
		return wr.w.WriteByte(0)
	}
	return wr.writeException(ex)
}

func (wr *Writer) writeExceptionList(list []*entry.Exception) error {
	n := binary.PutUvarint(wr.buf[:], uint64(len(list)))
	if _, err := wr.w.Write(wr.buf[:n]); err != nil {
		return err
	}
	for _, ex := range list {
		if err := wr.writeException(ex); err != nil {
			return err
		}
	}
	return nil
}
