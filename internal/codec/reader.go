package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/loomhq/actlog/pkg/entry"
)

// Decoded is one frame read off the wire: either a unicast Entry, a
// Multicast, or the EOF sentinel (IsEOF).
type Decoded struct {
	IsEOF     bool
	Multicast bool
	Entry     entry.Entry
	Multi     entry.Multicast

	// Offset is the byte position of this frame's tag byte within the
	// stream, as required by the activity map's exact-offset contract.
	Offset int64
}

// Reader decodes frames per the wire format written by Writer. Not safe
// for concurrent use.
type Reader struct {
	r        *countingReader
	interner *entry.Interner
}

// NewReader wraps r. tagInterner is used to reconstruct tag Sets from
// their canonical persisted form; callers share one Interner across a
// read session so equal tags compare by pointer identity.
func NewReader(r io.Reader, tagInterner *entry.Interner) *Reader {
	return &Reader{r: &countingReader{r: bufio.NewReader(r)}, interner: tagInterner}
}

// ReadHeader reads and validates the 4-byte stream version.
func (rd *Reader) ReadHeader() (uint32, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		return 0, fmt.Errorf("codec: reading stream header: %w", err)
	}
	return binary.LittleEndian.Uint32(hdr[:]), nil
}

// Next decodes one frame. On a graceful end of stream it returns a Decoded
// with IsEOF set and a nil error. On a stream that ends without the
// sentinel it returns ErrBadEndOfFile.
func (rd *Reader) Next() (Decoded, error) {
	offset := rd.r.n
	tagByte, err := rd.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Decoded{}, ErrBadEndOfFile
		}
		return Decoded{}, err
	}

	variant := tagByte >> 4
	flags := tagByte & 0x0f

	if variant == variantEOF {
		return Decoded{IsEOF: true, Offset: offset}, nil
	}

	switch variant {
	case variantUnicastLine, variantUnicastOpenGroup, variantUnicastCloseGroup:
		kind := unicastKind(variant)
		e, err := rd.readBody(kind, flags)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Entry: e, Offset: offset}, nil

	case variantMulticastLine, variantMulticastOpenGroup, variantMulticastCloseGroup:
		kind := multicastKind(variant)
		m, err := rd.readMulticastBody(kind, flags)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Multicast: true, Multi: m, Offset: offset}, nil

	default:
		return Decoded{}, fmt.Errorf("codec: unknown tag variant %d at offset %d", variant, offset)
	}
}

func unicastKind(variant byte) entry.Kind {
	switch variant {
	case variantUnicastOpenGroup:
		return entry.KindOpenGroup
	case variantUnicastCloseGroup:
		return entry.KindCloseGroup
	default:
		return entry.KindLine
	}
}

func multicastKind(variant byte) entry.Kind {
	switch variant {
	case variantMulticastOpenGroup:
		return entry.KindOpenGroup
	case variantMulticastCloseGroup:
		return entry.KindCloseGroup
	default:
		return entry.KindLine
	}
}

func (rd *Reader) readMulticastBody(kind entry.Kind, flags byte) (entry.Multicast, error) {
	var m entry.Multicast

	if _, err := io.ReadFull(rd.r, m.MonitorID[:]); err != nil {
		return m, fmt.Errorf("codec: reading monitor id: %w", err)
	}
	pk, err := rd.r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("codec: reading previous-kind byte: %w", err)
	}
	m.PrevKind = entry.PrevKind(pk)

	prevTS, err := rd.readTimestamp()
	if err != nil {
		return m, fmt.Errorf("codec: reading previous timestamp: %w", err)
	}
	m.PrevTimestamp = prevTS

	depth, err := binary.ReadUvarint(rd.r)
	if err != nil {
		return m, fmt.Errorf("codec: reading group depth: %w", err)
	}
	m.GroupDepth = uint32(depth)

	e, err := rd.readBody(kind, flags)
	if err != nil {
		return m, err
	}
	m.Entry = e
	return m, nil
}

func (rd *Reader) readBody(kind entry.Kind, flags byte) (entry.Entry, error) {
	var e entry.Entry
	e.Kind = kind

	ts, err := rd.readTimestamp()
	if err != nil {
		return e, fmt.Errorf("codec: reading timestamp: %w", err)
	}
	e.Timestamp = ts

	lvl, err := rd.readLevel()
	if err != nil {
		return e, fmt.Errorf("codec: reading level: %w", err)
	}
	e.Level = lvl

	if flags&flagHasText != 0 {
		s, err := rd.readString()
		if err != nil {
			return e, fmt.Errorf("codec: reading text: %w", err)
		}
		e.Text = s
		e.HasText = true
	}

	if flags&flagHasTags != 0 {
		s, err := rd.readString()
		if err != nil {
			return e, fmt.Errorf("codec: reading tags: %w", err)
		}
		e.Tags = entry.ParseCanonical(rd.interner, s)
		e.HasTags = true
	}

	if flags&flagHasFileLine != 0 {
		file, err := rd.readString()
		if err != nil {
			return e, fmt.Errorf("codec: reading file: %w", err)
		}
		line, err := binary.ReadVarint(rd.r)
		if err != nil {
			return e, fmt.Errorf("codec: reading line: %w", err)
		}
		e.File = file
		e.Line = line
		e.HasFileLine = true
	}

	if flags&flagHasException != 0 {
		ex, err := rd.readException()
		if err != nil {
			return e, fmt.Errorf("codec: reading exception: %w", err)
		}
		e.Exception = ex
	}

	if kind == entry.KindCloseGroup {
		conclusions, err := rd.readConclusions()
		if err != nil {
			return e, fmt.Errorf("codec: reading conclusions: %w", err)
		}
		e.Conclusions = conclusions
	}

	return e, nil
}

func (rd *Reader) readTimestamp() (entry.Timestamp, error) {
	var b [9]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return entry.Timestamp{}, err
	}
	nanos := int64(binary.LittleEndian.Uint64(b[:8]))
	return entry.Timestamp{Instant: time.Unix(0, nanos).UTC(), Uniquifier: b[8]}, nil
}

func (rd *Reader) readLevel() (entry.Level, error) {
	var b [2]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return entry.Level{}, err
	}
	return entry.Level{Value: entry.Value(b[0]), Filtered: b[1] != 0}, nil
}

func (rd *Reader) readString() (string, error) {
	n, err := binary.ReadUvarint(rd.r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (rd *Reader) readConclusions() ([]string, error) {
	n, err := binary.ReadUvarint(rd.r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		s, err := rd.readString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (rd *Reader) readException() (*entry.Exception, error) {
	present, err := rd.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}

	ex := &entry.Exception{}
	if ex.Message, err = rd.readString(); err != nil {
		return nil, err
	}
	if ex.TypeName, err = rd.readString(); err != nil {
		return nil, err
	}
	if ex.StackTrace, err = rd.readString(); err != nil {
		return nil, err
	}
	if ex.Inner, err = rd.readException(); err != nil {
		return nil, err
	}
	if ex.Inners, err = rd.readExceptionList(); err != nil {
		return nil, err
	}
	if ex.LoaderExceptions, err = rd.readExceptionList(); err != nil {
		return nil, err
	}
	hasFusion, err := rd.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hasFusion != 0 {
		ex.HasFusionLog = true
		if ex.FusionLog, err = rd.readString(); err != nil {
			return nil, err
		}
	}
	return ex, nil
}

func (rd *Reader) readExceptionList() ([]*entry.Exception, error) {
	n, err := binary.ReadUvarint(rd.r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]*entry.Exception, n)
	for i := range out {
		ex, err := rd.readException()
		if err != nil {
			return nil, err
		}
		out[i] = ex
	}
	return out, nil
}

// countingReader tracks the absolute byte offset of the next read, which
// the reader needs to stamp Decoded.Offset and which the multi-file reader
// uses as the activity map's exact byte positions.
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}
