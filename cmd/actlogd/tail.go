package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loomhq/actlog/internal/checkpoint"
	"github.com/loomhq/actlog/internal/config"
	"github.com/loomhq/actlog/internal/logging"
	"github.com/loomhq/actlog/internal/multireader"
	"github.com/loomhq/actlog/internal/sinks"
	"github.com/loomhq/actlog/internal/tailer"
)

// runTail implements the daemon's follow mode: rather than activating the
// dispatcher to produce entries, it opens a multi-file reader over every
// binary-file handler path in cfg, tails each one live via fsnotify, and
// logs the merged per-monitor activity map as it grows. This is the
// read-side counterpart to the write-side default dispatcher — an operator
// pointed at a running actlogd's own binary-file output, or at another
// process's, to watch activity without waiting for a batch read.
func runTail(cfg *config.Config, logger *logging.Logger) error {
	var paths []string
	for _, h := range cfg.Handlers {
		if h.Kind == sinks.KindBinaryFile && h.Path != "" {
			paths = append(paths, h.Path)
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("actlogd: --tail requires at least one binary-file handler in the configuration")
	}

	reader := multireader.New(nil)

	var ckpt *checkpoint.Manager
	if cfg.FaultLog.Dir != "" {
		dir := filepath.Join(cfg.FaultLog.Dir, "tail-checkpoints")
		var err error
		ckpt, err = checkpoint.NewManager(dir, 5*time.Second)
		if err != nil {
			return fmt.Errorf("actlogd: creating tail checkpoint manager: %w", err)
		}
		if err := ckpt.Load(); err != nil {
			return fmt.Errorf("actlogd: loading tail checkpoints: %w", err)
		}
		ckpt.Start()
		defer ckpt.Stop()
	}

	w, err := tailer.New(reader, ckpt, logger)
	if err != nil {
		return fmt.Errorf("actlogd: creating tailer: %w", err)
	}

	if _, err := reader.Add(paths); err != nil {
		return fmt.Errorf("actlogd: indexing tail paths: %w", err)
	}
	for _, p := range paths {
		if err := w.Watch(p); err != nil {
			return fmt.Errorf("actlogd: watching %s: %w", p, err)
		}
	}
	w.Start()
	defer w.Stop()

	logger.Info().Strs("paths", paths).Msg("actlogd tailing binary-file handlers")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			logger.Info().Msg("actlogd tail mode stopped")
			return nil
		case <-ticker.C:
			activity := reader.ActivityMap()
			logger.Info().Int("monitors", len(activity)).Msg("tail activity snapshot")
		}
	}
}
