// Package multireader implements the merged view over many binary-file
// streams: one-shot indexing into a per-monitor activity map, dedup of
// identical gzip/raw file pairs, and filtered byte-offset readers that
// replay a single monitor's entries out of a shared interleaved file.
package multireader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/loomhq/actlog/internal/codec"
	"github.com/loomhq/actlog/internal/logreader"
	"github.com/loomhq/actlog/internal/metrics"
	"github.com/loomhq/actlog/pkg/entry"
)

// FileID identifies one indexed file within a Reader.
type FileID int

type fileRecord struct {
	id          FileID
	path        string
	size        int64
	isGzip      bool
	version     uint32
	duplicateOf FileID
	isDuplicate bool
}

// Activity is the per-monitor summary the spec calls the activity record.
type Activity struct {
	MonitorID   entry.MonitorID
	FirstTime   entry.Timestamp
	LastTime    entry.Timestamp
	FirstDepth  uint32
	LastDepth   uint32
	FirstOffset int64
	LastOffset  int64
	TagUnion    entry.Set
	FileID      FileID
}

// Reader indexes a growing set of binary-file paths and serves a merged,
// per-monitor activity map over them.
type Reader struct {
	mu       sync.Mutex
	interner *entry.Interner

	files     []*fileRecord
	byPath    map[string]FileID
	monitors  map[entry.MonitorID]*Activity
	firstTime entry.Timestamp
	lastTime  entry.Timestamp
}

// New creates an empty Reader. interner is shared across every indexed
// file so that equal tags compare by pointer identity in the merged map.
func New(interner *entry.Interner) *Reader {
	if interner == nil {
		interner = entry.NewInterner()
	}
	return &Reader{
		interner: interner,
		byPath:   make(map[string]FileID),
		monitors: make(map[entry.MonitorID]*Activity),
	}
}

// Add indexes each of paths not already known (by absolute path), walking
// each new file once. The returned slice reports, in order, whether the
// corresponding path was newly indexed by this call.
func (r *Reader) Add(paths []string) ([]bool, error) {
	fresh := make([]bool, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fresh, fmt.Errorf("multireader: resolving %s: %w", p, err)
		}

		r.mu.Lock()
		_, known := r.byPath[abs]
		r.mu.Unlock()
		if known {
			continue
		}

		if err := r.indexFile(abs); err != nil {
			return fresh, fmt.Errorf("multireader: indexing %s: %w", abs, err)
		}
		fresh[i] = true
	}
	return fresh, nil
}

func (r *Reader) indexFile(abs string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	lr, err := logreader.Open(abs, r.interner)
	if err != nil {
		return err
	}
	defer lr.Close()

	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	isGzip, err := codec.DetectGzip(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return err
	}

	r.mu.Lock()
	id := FileID(len(r.files))
	fe := &fileRecord{id: id, path: abs, size: info.Size(), isGzip: isGzip}
	r.files = append(r.files, fe)
	r.byPath[abs] = id
	r.mu.Unlock()

	summaries := make(map[entry.MonitorID]*perFileSummary)

	for lr.MoveNext() {
		dec := lr.Current()
		if !dec.Multicast {
			continue
		}
		s, ok := summaries[dec.Multi.MonitorID]
		if !ok {
			s = &perFileSummary{monitorID: dec.Multi.MonitorID}
			summaries[dec.Multi.MonitorID] = s
		}
		ts := dec.Multi.Entry.Timestamp
		if !s.seen {
			s.firstTime = ts
			s.firstDepth = dec.Multi.GroupDepth
			s.firstOffset = dec.Offset
		}
		if !s.seen || s.lastTime.Less(ts) {
			s.lastTime = ts
			s.lastDepth = dec.Multi.GroupDepth
			s.lastOffset = dec.Offset
		}
		if dec.Multi.Entry.HasTags {
			for _, tag := range dec.Multi.Entry.Tags {
				s.tagUnion = s.tagUnion.Add(tag)
			}
		}
		s.seen = true

		r.mu.Lock()
		if r.firstTime.IsZero() || ts.Less(r.firstTime) {
			r.firstTime = ts
		}
		if r.lastTime.IsZero() || r.lastTime.Less(ts) {
			r.lastTime = ts
		}
		r.mu.Unlock()
	}

	if err := lr.ReadException(); err != nil {
		return fmt.Errorf("corrupt stream: %w", err)
	}

	fe.version = lr.Version()

	r.mu.Lock()
	defer r.mu.Unlock()
	for monitorID, s := range summaries {
		existing, ok := r.monitors[monitorID]
		if !ok {
			r.monitors[monitorID] = &Activity{
				MonitorID:   monitorID,
				FirstTime:   s.firstTime,
				LastTime:    s.lastTime,
				FirstDepth:  s.firstDepth,
				LastDepth:   s.lastDepth,
				FirstOffset: s.firstOffset,
				LastOffset:  s.lastOffset,
				TagUnion:    s.tagUnion,
				FileID:      id,
			}
			continue
		}

		if identicalSpan(existing, s) {
			fe.isDuplicate = true
			fe.duplicateOf = existing.FileID
			continue
		}

		// Genuinely distinct occurrence of the same monitor id across
		// files (e.g. rotation): extend the merged record's span.
		if s.firstTime.Less(existing.FirstTime) {
			existing.FirstTime = s.firstTime
			existing.FirstDepth = s.firstDepth
			existing.FirstOffset = s.firstOffset
		}
		if existing.LastTime.Less(s.lastTime) {
			existing.LastTime = s.lastTime
			existing.LastDepth = s.lastDepth
			existing.LastOffset = s.lastOffset
		}
		for _, tag := range s.tagUnion {
			existing.TagUnion = existing.TagUnion.Add(tag)
		}
	}

	metrics.GetGlobalCollector().MultireaderMonitors.Set(float64(len(r.monitors)))

	return nil
}

// perFileSummary accumulates one file's view of a single monitor's span
// while indexing; it is merged into or compared against the shared
// Activity record once the file has been fully walked.
type perFileSummary struct {
	monitorID   entry.MonitorID
	firstTime   entry.Timestamp
	lastTime    entry.Timestamp
	firstDepth  uint32
	lastDepth   uint32
	firstOffset int64
	lastOffset  int64
	tagUnion    entry.Set
	seen        bool
}

func identicalSpan(a *Activity, b *perFileSummary) bool {
	return a.FirstTime == b.firstTime &&
		a.LastTime == b.lastTime &&
		a.FirstOffset == b.firstOffset &&
		a.LastOffset == b.lastOffset
}

// ActivityMap returns a snapshot of per-monitor records sorted by
// first-time.
func (r *Reader) ActivityMap() []Activity {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Activity, 0, len(r.monitors))
	for _, a := range r.monitors {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstTime.Less(out[j].FirstTime)
	})
	return out
}

// GlobalSpan returns the earliest and latest timestamps seen across every
// indexed file.
func (r *Reader) GlobalSpan() (first, last entry.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstTime, r.lastTime
}

// FilteredReader replays only the entries belonging to one monitor out of
// a shared interleaved binary-file stream.
type FilteredReader struct {
	inner   *logreader.Reader
	monitor entry.MonitorID
	// pending is true when the constructor already validated and parked
	// the first matching entry as inner's Current; the first MoveNext
	// call surfaces it without consuming another frame.
	pending bool
}

// NewMonitorReader opens a filtered reader for monitorID, seeking the
// owning file to byteOffset and validating that position encodes a
// multicast entry for that monitor before returning.
func (r *Reader) NewMonitorReader(monitorID entry.MonitorID, byteOffset int64) (*FilteredReader, error) {
	r.mu.Lock()
	act, ok := r.monitors[monitorID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("multireader: unknown monitor %x", monitorID)
	}
	fe := r.files[act.FileID]
	r.mu.Unlock()

	f, err := os.Open(fe.path)
	if err != nil {
		return nil, fmt.Errorf("multireader: opening %s: %w", fe.path, err)
	}

	var stream io.Reader
	closeFn := f.Close
	if fe.isGzip {
		// Gzip streams are not randomly seekable; replay from the start
		// and discard bytes up to the requested offset.
		rc, err := codec.NewReadCloser(bufio.NewReader(f), codec.CodecGzip)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("multireader: opening gzip stream %s: %w", fe.path, err)
		}
		if _, err := io.CopyN(io.Discard, rc, byteOffset); err != nil {
			rc.Close()
			f.Close()
			return nil, fmt.Errorf("multireader: seeking gzip stream %s to %d: %w", fe.path, byteOffset, err)
		}
		stream = rc
		closeFn = func() error {
			rcErr := rc.Close()
			fErr := f.Close()
			if rcErr != nil {
				return rcErr
			}
			return fErr
		}
	} else {
		if _, err := f.Seek(byteOffset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("multireader: seeking %s to %d: %w", fe.path, byteOffset, err)
		}
		stream = f
	}

	lr := logreader.NewFromPositionedReader(stream, fe.version, r.interner, closeFn)

	if !lr.MoveNext() {
		lr.Close()
		if err := lr.ReadException(); err != nil {
			return nil, fmt.Errorf("multireader: reading frame at offset %d: %w", byteOffset, err)
		}
		return nil, fmt.Errorf("multireader: no entry at offset %d", byteOffset)
	}
	first := lr.Current()
	if !first.Multicast || first.Multi.MonitorID != monitorID {
		lr.Close()
		return nil, fmt.Errorf("multireader: offset %d does not begin a multicast entry for monitor %x", byteOffset, monitorID)
	}

	return &FilteredReader{inner: lr, monitor: monitorID, pending: true}, nil
}

// MoveNext advances to this monitor's next entry, skipping frames that
// belong to other monitors, and reports whether one was found.
func (fr *FilteredReader) MoveNext() bool {
	if fr.pending {
		fr.pending = false
		return true
	}
	for fr.inner.MoveNext() {
		dec := fr.inner.Current()
		if dec.Multicast && dec.Multi.MonitorID == fr.monitor {
			return true
		}
	}
	return false
}

// Current returns the last matched multicast entry.
func (fr *FilteredReader) Current() entry.Multicast {
	return fr.inner.Current().Multi
}

// Close releases the underlying file handle.
func (fr *FilteredReader) Close() error {
	return fr.inner.Close()
}
