// Package tailer drives the multi-file reader's incremental live
// reindexing: an fsnotify watch over every indexed path that reindexes
// on growth and records each file's new offset in a checkpoint. Watch
// always indexes a path in full through the reader's Add; the recorded
// offsets are not used to skip that scan.
package tailer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/loomhq/actlog/internal/checkpoint"
	"github.com/loomhq/actlog/internal/logging"
	"github.com/loomhq/actlog/internal/multireader"
)

// Watcher watches a set of binary-file paths already indexed by a
// multireader.Reader and keeps that reader's activity map current as
// those files grow.
type Watcher struct {
	reader     *multireader.Reader
	checkpoint *checkpoint.Manager
	logger     *logging.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher over reader, recording offsets through ckpt.
// ckpt may be nil to disable offset recording.
func New(reader *multireader.Reader, ckpt *checkpoint.Manager, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tailer: creating file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		reader:     reader,
		checkpoint: ckpt,
		logger:     logger.WithComponent("tailer"),
		fsw:        fsw,
		watched:    make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Watch adds path to the indexed set: it is added to the reader (if not
// already known, which scans the whole file), reindexed once more when
// the checkpoint holds an offset for it, and placed under the fsnotify
// watch so future growth is picked up without polling.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("tailer: resolving %s: %w", path, err)
	}

	if _, err := w.reader.Add([]string{abs}); err != nil {
		return fmt.Errorf("tailer: indexing %s: %w", abs, err)
	}

	if w.checkpoint != nil {
		if _, ok := w.checkpoint.Offset(abs); ok {
			if _, err := w.reader.Reindex(abs); err != nil {
				w.logger.Warn().Err(err).Str("path", abs).Msg("resuming reindex from checkpoint failed")
			}
		}
	}

	if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("tailer: watching directory of %s: %w", abs, err)
	}

	w.mu.Lock()
	w.watched[abs] = true
	w.mu.Unlock()
	return nil
}

// Start launches the background event loop. Call after Watch-ing the
// initial set of paths; later calls to Watch remain safe.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop ends the event loop and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.cancel()
	w.fsw.Close()
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("file watcher error")
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	isWatched := w.watched[abs]
	w.mu.Unlock()
	if !isWatched {
		return
	}

	if ev.Op&fsnotify.Write != fsnotify.Write {
		return
	}

	offset, err := w.reader.Reindex(abs)
	if err != nil {
		w.logger.Error().Err(err).Str("path", abs).Msg("incremental reindex failed")
		return
	}
	if w.checkpoint != nil {
		w.checkpoint.UpdateOffset(abs, offset)
	}
}
