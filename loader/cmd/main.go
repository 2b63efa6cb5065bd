package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ragserver/loader/service"
	"ragserver/loader/types"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", slog.Any("error", err))
	}
}

func main() {
	var cfg types.Config
	flag.StringVar(&cfg.ServerURL, "server", os.Getenv("RAGSERVER_URL"), "ingestion API base URL")
	flag.StringVar(&cfg.SourceDir, "source", os.Getenv("LOADER_SOURCE_DIR"), "directory to watch for new files")
	flag.StringVar(&cfg.ArchiveDir, "archive", os.Getenv("LOADER_ARCHIVE_DIR"), "directory for successfully ingested files")
	flag.StringVar(&cfg.BadDir, "bad", os.Getenv("LOADER_BAD_DIR"), "directory for rejected files")
	flag.DurationVar(&cfg.MonitoringTime, "stable-after", 3*time.Second, "how long a file must stay unchanged before upload")
	flag.IntVar(&cfg.Workers, "workers", 2, "number of concurrent uploads")
	flag.Float64Var(&cfg.CropTop, "crop-top", 0, "points to crop from the top of PDF pages")
	flag.Float64Var(&cfg.CropBottom, "crop-bottom", 0, "points to crop from the bottom of PDF pages")
	flag.Parse()
	cfg.ApplyDefaults()

	if err := os.MkdirAll(cfg.SourceDir, 0o755); err != nil {
		slog.Error("create source dir", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigch
		slog.Info("received shutdown signal")
		cancel()
	}()

	service.New(cfg).Run(ctx)
}
