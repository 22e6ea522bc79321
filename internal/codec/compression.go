package codec

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"
)

// Codec is the compression wrapper applied to a binary-file sink's byte
// stream. None leaves the framed stream untouched; Gzip and Snappy wrap it
// end to end (the header, every frame, and the EOF sentinel all live
// inside the compressed container).
type Codec string

const (
	CodecNone   Codec = "none"
	CodecGzip   Codec = "gzip"
	CodecSnappy Codec = "snappy"
)

// zeroTime is the fixed mtime written into every gzip header so that
// recompressing the same raw bytes always yields an identical file: the
// byte-identity property the reader's round-trip check relies on requires
// a deterministic header, and gzip's default stamps the current time.
var zeroTime time.Time

// NewWriteCloser wraps w per codec. The returned WriteCloser's Close must
// be called to flush any compression footer; it does not close w.
func NewWriteCloser(w io.Writer, c Codec) (io.WriteCloser, error) {
	switch c {
	case CodecNone, "":
		return nopWriteCloser{w}, nil
	case CodecGzip:
		gw, _ := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		gw.Name = ""
		gw.ModTime = zeroTime
		return gw, nil
	case CodecSnappy:
		return &snappyWriteCloser{w: snappy.NewBufferedWriter(w)}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression %q", c)
	}
}

// NewReadCloser wraps r per the given codec. It does no detection of its
// own: callers that do not know whether a stream is gzipped probe it with
// DetectGzip first and pass the codec that reports.
func NewReadCloser(r io.Reader, c Codec) (io.ReadCloser, error) {
	switch c {
	case CodecNone, "":
		return io.NopCloser(r), nil
	case CodecGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("codec: opening gzip stream: %w", err)
		}
		return gr, nil
	case CodecSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression %q", c)
	}
}

// DetectGzip reports whether the next two bytes available from br are the
// gzip magic number, without consuming them.
func DetectGzip(br *bufio.Reader) (bool, error) {
	magic, err := br.Peek(2)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return magic[0] == 0x1f && magic[1] == 0x8b, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type snappyWriteCloser struct {
	w *snappy.Writer
}

func (s *snappyWriteCloser) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *snappyWriteCloser) Close() error                { return s.w.Close() }
