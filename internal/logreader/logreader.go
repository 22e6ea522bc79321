// Package logreader implements the single-file iterator state machine
// used to walk one binary-file stream: Fresh, Reading, End, and Corrupt,
// with move-next/current/bad-end-of-file semantics.
package logreader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/loomhq/actlog/internal/codec"
	"github.com/loomhq/actlog/internal/metrics"
	"github.com/loomhq/actlog/pkg/entry"
)

// State is the iterator's lifecycle position.
type State int

const (
	// Fresh: opened, header not yet read, no entry current.
	Fresh State = iota
	// Reading: at least one MoveNext has succeeded; Current is valid.
	Reading
	// End: the stream ended gracefully (EOF sentinel observed).
	End
	// Corrupt: a decode error occurred; entries read so far are
	// preserved, but MoveNext will not advance further.
	Corrupt
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Reading:
		return "reading"
	case End:
		return "end"
	case Corrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Reader walks a single binary-file stream entry by entry.
type Reader struct {
	state State
	dec   *codec.Reader
	close func() error

	current     codec.Decoded
	badEOF      bool
	corruptErr  error
	version     uint32
	entryOffset int64
	headerRead  bool
}

// Open opens path, auto-detecting a gzip-wrapped stream by its magic
// bytes, and returns a Reader positioned at Fresh.
func Open(path string, interner *entry.Interner) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logreader: opening %s: %w", path, err)
	}

	br := bufio.NewReader(f)
	isGzip, err := codec.DetectGzip(br)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logreader: probing %s: %w", path, err)
	}

	var underlying io.Reader = br
	closeFn := f.Close
	if isGzip {
		rc, err := codec.NewReadCloser(br, codec.CodecGzip)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("logreader: opening gzip stream %s: %w", path, err)
		}
		underlying = rc
		closeFn = func() error {
			rc.Close()
			return f.Close()
		}
	}

	return &Reader{
		state: Fresh,
		dec:   codec.NewReader(underlying, interner),
		close: closeFn,
	}, nil
}

// NewFromReader wraps an already-open stream (e.g. one segment of a live
// pipe connection) rather than a seekable file.
func NewFromReader(r io.Reader, interner *entry.Interner, close func() error) *Reader {
	if close == nil {
		close = func() error { return nil }
	}
	return &Reader{state: Fresh, dec: codec.NewReader(r, interner), close: close}
}

// NewFromPositionedReader wraps a stream whose 4-byte version header has
// already been consumed by the caller (the multi-file reader seeks past
// it when opening a filtered, byte-offset reader mid-stream).
func NewFromPositionedReader(r io.Reader, version uint32, interner *entry.Interner, close func() error) *Reader {
	if close == nil {
		close = func() error { return nil }
	}
	return &Reader{state: Fresh, dec: codec.NewReader(r, interner), close: close, headerRead: true, version: version}
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.close()
}

// State returns the iterator's current lifecycle position.
func (r *Reader) State() State {
	return r.state
}

// Current returns the most recently read frame. Valid only in state
// Reading.
func (r *Reader) Current() codec.Decoded {
	return r.current
}

// BadEndOfFile reports whether the stream ended without the EOF sentinel.
func (r *Reader) BadEndOfFile() bool {
	return r.badEOF
}

// CorruptErr returns the decode error that froze the iterator, or nil.
func (r *Reader) CorruptErr() error {
	return r.corruptErr
}

// ReadException is an alias for CorruptErr matching the iterator's
// read-exception vocabulary: the captured parse error, nil on success.
func (r *Reader) ReadException() error {
	return r.corruptErr
}

// MoveNext advances the iterator by one frame, reading the stream header
// first if still Fresh. It returns false once the stream has ended
// (gracefully or via corruption); callers distinguish the two via State.
func (r *Reader) MoveNext() bool {
	if r.state == End || r.state == Corrupt {
		return false
	}

	if !r.headerRead {
		v, err := r.dec.ReadHeader()
		if err != nil {
			r.freeze(err)
			return false
		}
		r.version = v
		r.headerRead = true
	}

	dec, err := r.dec.Next()
	if err != nil {
		if errors.Is(err, codec.ErrBadEndOfFile) {
			r.badEOF = true
			r.state = End
			metrics.GetGlobalCollector().ReaderBadEOFs.Inc()
			return false
		}
		r.freeze(err)
		return false
	}

	if dec.IsEOF {
		r.state = End
		return false
	}

	r.current = dec
	r.entryOffset = dec.Offset
	r.state = Reading
	return true
}

func (r *Reader) freeze(err error) {
	r.corruptErr = err
	r.state = Corrupt
	metrics.GetGlobalCollector().ReaderCorruptions.Inc()
}

// Version returns the stream-version header value; valid once MoveNext
// has been called at least once.
func (r *Reader) Version() uint32 {
	return r.version
}

// Offset returns the byte offset of the current frame's tag byte.
func (r *Reader) Offset() int64 {
	return r.entryOffset
}
