package internal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ragserver/loader/types"
)

// Watcher monitors the source directory and emits file paths that have been
// stable for the monitoring window. A file is only emitted once; the caller
// moves it out of the directory when done.
type Watcher struct {
	cfg    types.Config
	logger *slog.Logger

	mu         sync.Mutex
	firstSeen  map[string]time.Time
	processing map[string]bool
}

func NewWatcher(cfg types.Config) *Watcher {
	return &Watcher{
		cfg:        cfg,
		logger:     slog.Default().With("component", "watcher"),
		firstSeen:  make(map[string]time.Time),
		processing: make(map[string]bool),
	}
}

// Watch scans the source directory once a second until the context is
// cancelled, sending ready files to fileChan.
func (w *Watcher) Watch(ctx context.Context, fileChan chan<- string) {
	w.logger.Info("monitoring folder", slog.String("dir", w.cfg.SourceDir))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopped")
			return
		case <-ticker.C:
			w.scan(ctx, fileChan)
		}
	}
}

func (w *Watcher) scan(ctx context.Context, fileChan chan<- string) {
	files, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		w.logger.Error("read source directory", slog.Any("error", err))
		return
	}

	current := make(map[string]bool, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.SourceDir, file.Name())
		current[path] = true

		w.mu.Lock()
		if w.processing[path] {
			w.mu.Unlock()
			continue
		}
		firstSeen, seen := w.firstSeen[path]
		if !seen {
			w.firstSeen[path] = time.Now()
			w.mu.Unlock()
			w.logger.Info("new file detected", slog.String("path", path))
			continue
		}
		w.mu.Unlock()

		// Wait for the file to stop changing before touching it; a copy in
		// progress would otherwise be uploaded half-written.
		if time.Since(firstSeen) < w.cfg.MonitoringTime {
			continue
		}

		w.mu.Lock()
		w.processing[path] = true
		w.mu.Unlock()

		select {
		case fileChan <- path:
		case <-ctx.Done():
			return
		}
	}

	// Drop tracking state for files that disappeared.
	w.mu.Lock()
	for path := range w.firstSeen {
		if !current[path] {
			delete(w.firstSeen, path)
			delete(w.processing, path)
		}
	}
	w.mu.Unlock()
}
