package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/capture"
	"github.com/loqalabs/loqa-dictation/internal/capture/portaudio"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/logging"
	"github.com/loqalabs/loqa-dictation/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (built-in defaults when empty)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		bootstrap.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Telemetry, os.Stdout)
	if err != nil {
		bootstrap.Error("failed to configure logging", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer logCloser.Close()

	if cfg.STT.Mode == "openai" && cfg.STT.APIKey == "" {
		logger.Warn("no transcription API key configured; sessions will fail until one is set",
			slog.String("env", config.APIKeyEnv))
	}

	host, err := portaudio.Open(capture.ParseSampleFormat(cfg.Capture.SampleFormat), logger)
	if err != nil {
		logger.Error("failed to open audio host", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer host.Close()

	rt := runtime.New(cfg, version, host, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		host.Close()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
