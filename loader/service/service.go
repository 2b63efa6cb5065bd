package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ragserver/loader/internal"
	"ragserver/loader/types"
)

// Service runs the drop-folder pipeline: one watcher goroutine feeding a
// pool of uploader workers through a buffered channel.
type Service struct {
	cfg    types.Config
	logger *slog.Logger
}

func New(cfg types.Config) *Service {
	return &Service{
		cfg:    cfg,
		logger: slog.Default().With("component", "loader"),
	}
}

// Run blocks until the context is cancelled, then drains the workers with a
// shutdown timeout.
func (s *Service) Run(ctx context.Context) {
	fileChan := make(chan string, 10)
	watcher := internal.NewWatcher(s.cfg)
	uploader := internal.NewUploader(s.cfg)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		watcher.Watch(ctx, fileChan)
	}()

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uploader.Process(ctx, fileChan)
		}()
	}

	<-ctx.Done()
	s.logger.Info("shutting down loader...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all workers stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("timeout waiting for workers, forcing shutdown")
	}
}
