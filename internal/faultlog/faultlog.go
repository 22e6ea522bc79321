// Package faultlog persists dispatcher sink faults to a small rotating
// on-disk record so an operator can inspect fault history after the fact
// without having subscribed to the critical-error collector at the time
// the fault happened. It is pure diagnostics: nothing here is replayed
// back into the dispatcher, and it has no bearing on delivery semantics.
package faultlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loomhq/actlog/internal/dispatcher"
	"github.com/loomhq/actlog/internal/metrics"
)

var (
	ErrClosed       = errors.New("faultlog is closed")
	ErrInvalidEntry = errors.New("invalid faultlog entry")
)

const (
	defaultSegmentSize = 4 * 1024 * 1024 // 4 MB
	defaultMaxSegments = 20
	segmentPrefix      = "faults-"
	segmentSuffix      = ".jsonl"
)

// Config holds the rotating fault log's configuration.
type Config struct {
	Dir          string
	SegmentSize  int64
	MaxSegments  int
	SyncInterval time.Duration
	// Metrics, when non-nil, receives entries-written/segments/compactions
	// counts as the log rotates. Nil disables it with no overhead beyond a
	// nil check.
	Metrics *metrics.Collector
}

// Log is a rotating, append-only, JSON-lines record of dispatcher sink
// faults. It implements dispatcher.FaultReporter, so it can be wired
// directly as a Dispatcher's Options.Reporter (usually composed with the
// external-log critical-error echo via a small fan-out reporter).
type Log struct {
	config Config

	mu             sync.RWMutex
	currentSegment *segment
	segments       []*segment
	lastSegmentID  uint64
	writePos       uint64

	closeCh chan struct{}
	closed  bool

	entriesWritten  uint64
	segmentsCreated uint64
	compactions     uint64
}

type segment struct {
	id       uint64
	path     string
	file     *os.File
	writer   *bufio.Writer
	size     int64
	maxSize  int64
	readOnly bool
	mu       sync.Mutex
}

// Record is one persisted fault: enough to reconstruct SinkFault without
// carrying the original error value (which may not be JSON-serialisable).
type Record struct {
	Offset    uint64    `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	SinkName  string    `json:"sink_name"`
	Op        string    `json:"op"`
	Message   string    `json:"message"`
}

// Open creates or resumes a rotating fault log rooted at cfg.Dir.
func Open(cfg Config) (*Log, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("faultlog: directory is required")
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = defaultSegmentSize
	}
	if cfg.MaxSegments == 0 {
		cfg.MaxSegments = defaultMaxSegments
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = time.Second
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("faultlog: creating directory: %w", err)
	}

	l := &Log{
		config:  cfg,
		closeCh: make(chan struct{}),
	}

	if err := l.loadSegments(); err != nil {
		return nil, fmt.Errorf("faultlog: loading segments: %w", err)
	}
	if len(l.segments) == 0 {
		if err := l.createSegment(); err != nil {
			return nil, fmt.Errorf("faultlog: creating initial segment: %w", err)
		}
	} else {
		l.currentSegment = l.segments[len(l.segments)-1]
	}

	go l.syncLoop()

	return l, nil
}

// ReportFault implements dispatcher.FaultReporter: it appends f as a
// Record. Persistence errors are swallowed — a fault that failed to
// persist is still visible via every other subscriber of the fault, and
// this path must never become a reason a sink fault blocks the worker.
func (l *Log) ReportFault(f dispatcher.SinkFault) {
	_, _ = l.write(f)
}

func (l *Log) write(f dispatcher.SinkFault) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	if l.currentSegment.size >= l.currentSegment.maxSize {
		if err := l.createSegment(); err != nil {
			return 0, fmt.Errorf("faultlog: rotating segment: %w", err)
		}
	}

	offset := l.writePos
	l.writePos++

	rec := Record{
		Offset:    offset,
		Timestamp: f.At,
		SinkName:  f.SinkName,
		Op:        f.Op,
		Message:   f.Err.Error(),
	}

	if err := l.currentSegment.writeRecord(&rec); err != nil {
		return 0, fmt.Errorf("faultlog: writing record: %w", err)
	}
	l.entriesWritten++
	if l.config.Metrics != nil {
		l.config.Metrics.FaultLogEntriesWritten.Inc()
		l.config.Metrics.FaultLogSegments.Set(float64(len(l.segments)))
	}

	if len(l.segments) > l.config.MaxSegments {
		go l.Compact()
	}

	return offset, nil
}

// ReadAll returns every persisted record across all segments, in
// write order.
func (l *Log) ReadAll() ([]*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	var all []*Record
	for _, seg := range l.segments {
		recs, err := seg.readAllRecords()
		if err != nil {
			return nil, fmt.Errorf("faultlog: reading segment %d: %w", seg.id, err)
		}
		all = append(all, recs...)
	}
	return all, nil
}

// Sync flushes the current segment's buffered writes to disk.
func (l *Log) Sync() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	if l.currentSegment != nil {
		return l.currentSegment.sync()
	}
	return nil
}

// Compact drops the oldest segments until at most MaxSegments remain.
func (l *Log) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if len(l.segments) <= l.config.MaxSegments {
		return nil
	}

	toRemove := len(l.segments) - l.config.MaxSegments
	for i := 0; i < toRemove; i++ {
		seg := l.segments[i]
		if err := seg.close(); err != nil {
			return fmt.Errorf("faultlog: closing segment %d: %w", seg.id, err)
		}
		if err := os.Remove(seg.path); err != nil {
			return fmt.Errorf("faultlog: removing segment %d: %w", seg.id, err)
		}
	}
	l.segments = l.segments[toRemove:]
	l.compactions++
	if l.config.Metrics != nil {
		l.config.Metrics.FaultLogCompactions.Inc()
		l.config.Metrics.FaultLogSegments.Set(float64(len(l.segments)))
	}
	return nil
}

// Close closes the log and all open segments.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.closed = true
	close(l.closeCh)

	for _, seg := range l.segments {
		if err := seg.close(); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports the log's rotation bookkeeping, exposed through the
// metrics collector.
type Stats struct {
	EntriesWritten  uint64
	SegmentsCreated uint64
	SegmentsCurrent uint64
	Compactions     uint64
}

func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		EntriesWritten:  l.entriesWritten,
		SegmentsCreated: l.segmentsCreated,
		SegmentsCurrent: uint64(len(l.segments)),
		Compactions:     l.compactions,
	}
}

func (l *Log) createSegment() error {
	l.lastSegmentID++
	id := l.lastSegmentID

	filename := fmt.Sprintf("%s%08d%s", segmentPrefix, id, segmentSuffix)
	path := filepath.Join(l.config.Dir, filename)

	seg, err := newSegment(id, path, l.config.SegmentSize, false)
	if err != nil {
		return err
	}

	if l.currentSegment != nil {
		if err := l.currentSegment.sync(); err != nil {
			return err
		}
		l.currentSegment.readOnly = true
	}

	l.currentSegment = seg
	l.segments = append(l.segments, seg)
	l.segmentsCreated++
	return nil
}

func (l *Log) loadSegments() error {
	entries, err := os.ReadDir(l.config.Dir)
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), segmentPrefix) && strings.HasSuffix(e.Name(), segmentSuffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		idStr := strings.TrimSuffix(strings.TrimPrefix(filename, segmentPrefix), segmentSuffix)
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}

		path := filepath.Join(l.config.Dir, filename)
		seg, err := newSegment(id, path, l.config.SegmentSize, true)
		if err != nil {
			return err
		}

		l.segments = append(l.segments, seg)
		if id > l.lastSegmentID {
			l.lastSegmentID = id
		}
	}

	if n := len(l.segments); n > 0 {
		// Reopen the newest segment for appending: it becomes the current
		// segment, and a read-only handle has no writer.
		last := l.segments[n-1]
		last.file.Close()
		seg, err := newSegment(last.id, last.path, l.config.SegmentSize, false)
		if err != nil {
			return err
		}
		l.segments[n-1] = seg
	}
	return nil
}

func (l *Log) syncLoop() {
	ticker := time.NewTicker(l.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.Sync()
		case <-l.closeCh:
			return
		}
	}
}

func newSegment(id uint64, path string, maxSize int64, readOnly bool) (*segment, error) {
	var file *os.File
	var err error

	if readOnly {
		file, err = os.OpenFile(path, os.O_RDONLY, 0o644)
	} else {
		file, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("faultlog: opening segment file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("faultlog: statting segment file: %w", err)
	}

	seg := &segment{id: id, path: path, file: file, size: stat.Size(), maxSize: maxSize, readOnly: readOnly}
	if !readOnly {
		seg.writer = bufio.NewWriter(file)
	}
	return seg, nil
}

func (s *segment) writeRecord(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return errors.New("faultlog: cannot write to read-only segment")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("faultlog: marshaling record: %w", err)
	}

	n, err := s.writer.Write(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("faultlog: writing record: %w", err)
	}
	s.size += int64(n)
	return nil
}

func (s *segment) readAllRecords() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var recs []*Record
	scanner := bufio.NewScanner(s.file)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	return recs, scanner.Err()
}

func (s *segment) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked flushes buffered writes to disk. Callers must hold s.mu.
func (s *segment) flushLocked() error {
	if s.readOnly || s.writer == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	return s.file.Close()
}
