package multireader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loomhq/actlog/internal/codec"
	"github.com/loomhq/actlog/internal/logreader"
	"github.com/loomhq/actlog/internal/metrics"
	"github.com/loomhq/actlog/pkg/entry"
)

// Reindex extends the activity map with whatever entries have been
// appended to path since it was last indexed. It resumes where the
// previous Add or Reindex stopped: the file's end as Add saw it, or the
// tag byte of the last entry a Reindex indexed (that one entry is read
// again; merging it twice leaves the activity map unchanged). path must
// already be known to the reader (added via Add); calling Reindex on an
// unknown path is an error — callers that don't know whether a path is
// new should call Add first.
//
// This is the incremental counterpart to Add's one-shot full scan: a
// live-tailing caller (see internal/tailer) calls Reindex each time its
// filesystem watch reports growth and records the returned offset via
// internal/checkpoint. The reader never reads that record back: Add
// always scans a file from its start.
func (r *Reader) Reindex(path string) (newOffset int64, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("multireader: resolving %s: %w", path, err)
	}

	r.mu.Lock()
	id, known := r.byPath[abs]
	if !known {
		r.mu.Unlock()
		return 0, fmt.Errorf("multireader: %s is not indexed; call Add first", abs)
	}
	fe := r.files[id]
	fromOffset := fe.size
	r.mu.Unlock()

	info, err := os.Stat(abs)
	if err != nil {
		return fromOffset, err
	}
	if info.Size() <= fromOffset {
		return fromOffset, nil
	}

	stream, closeFn, err := r.openFrom(fe, fromOffset)
	if err != nil {
		return fromOffset, err
	}
	defer closeFn()

	lr := logreader.NewFromPositionedReader(stream, fe.version, r.interner, func() error { return nil })
	summaries := make(map[entry.MonitorID]*perFileSummary)
	var lastOffset int64

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
		offset := fromOffset + dec.Offset
		if !s.seen {
			s.firstTime = ts
			s.firstDepth = dec.Multi.GroupDepth
			s.firstOffset = offset
		}
		if !s.seen || s.lastTime.Less(ts) {
			s.lastTime = ts
			s.lastDepth = dec.Multi.GroupDepth
			s.lastOffset = offset
		}
		if dec.Multi.Entry.HasTags {
			for _, tag := range dec.Multi.Entry.Tags {
				s.tagUnion = s.tagUnion.Add(tag)
			}
		}
		s.seen = true
		lastOffset = offset
	}

	r.mu.Lock()
	r.mergeSummaries(id, summaries)
	if lastOffset > fromOffset {
		fe.size = lastOffset
	}
	monitorCount := len(r.monitors)
	r.mu.Unlock()

	metrics.GetGlobalCollector().MultireaderMonitors.Set(float64(monitorCount))

	return fe.size, nil
}

// openFrom opens fe's underlying file positioned at fromOffset, wrapping
// it in the gzip codec and discarding leading bytes when fe is
// compressed — a gzip stream isn't randomly seekable, so "seeking" it
// means decompressing and throwing away bytes already accounted for.
func (r *Reader) openFrom(fe *fileRecord, fromOffset int64) (io.Reader, func() error, error) {
	f, err := os.Open(fe.path)
	if err != nil {
		return nil, nil, fmt.Errorf("multireader: opening %s: %w", fe.path, err)
	}

	if !fe.isGzip {
		if _, err := f.Seek(fromOffset, io.SeekStart); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("multireader: seeking %s to %d: %w", fe.path, fromOffset, err)
		}
		return f, f.Close, nil
	}

	rc, err := codec.NewReadCloser(bufio.NewReader(f), codec.CodecGzip)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("multireader: opening gzip stream %s: %w", fe.path, err)
	}
	if _, err := io.CopyN(io.Discard, rc, fromOffset); err != nil {
		rc.Close()
		f.Close()
		return nil, nil, fmt.Errorf("multireader: seeking gzip stream %s to %d: %w", fe.path, fromOffset, err)
	}
	return rc, func() error {
		rcErr := rc.Close()
		fErr := f.Close()
		if rcErr != nil {
			return rcErr
		}
		return fErr
	}, nil
}

// mergeSummaries folds freshly read per-file summaries into the shared
// activity map, the same merge rule Add's initial scan uses: a new
// monitor id becomes a new record, an existing one's span extends to
// cover whichever of the two is earlier/later.
func (r *Reader) mergeSummaries(id FileID, summaries map[entry.MonitorID]*perFileSummary) {
	for monitorID, s := range summaries {
		if s.firstTime.IsZero() && s.lastTime.IsZero() {
			continue
		}
		if r.firstTime.IsZero() || s.firstTime.Less(r.firstTime) {
			r.firstTime = s.firstTime
		}
		if r.lastTime.IsZero() || r.lastTime.Less(s.lastTime) {
			r.lastTime = s.lastTime
		}

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
}
