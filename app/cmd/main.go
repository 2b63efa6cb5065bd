package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ragserver/app/server"
	"ragserver/config"
)

func init() {
	loadEnvVariables()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := server.NewServer(cfg)
	go func() {
		if err := s.Run(ctx); err != nil {
			slog.Error("server exited", slog.Any("error", err))
			cancel()
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigch:
		slog.Info("received shutdown signal, shutting down server...")
	case <-ctx.Done():
	}
	s.Stop()
}

func loadEnvVariables() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", slog.Any("error", err))
	}
}
