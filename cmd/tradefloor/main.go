package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tradefloor/internal/app"
	"tradefloor/internal/config"
	"tradefloor/internal/logger"
)

// Exit codes: 0 success, 1 a cycle finished with failures, 2 fatal.
const (
	exitSuccess        = 0
	exitPartialFailure = 1
	exitFatal          = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	defaultConfig := os.Getenv("TRADEFLOOR_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	cfgPath := flag.String("config", defaultConfig, "path to the YAML config file")
	once := flag.Bool("once", false, "run a single floor cycle and exit")
	addr := flag.String("addr", "", "dashboard listen address override")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Printf("load config: %v", err)
		return exitFatal
	}
	if *addr != "" {
		cfg.App.HTTPAddr = *addr
	}

	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Printf("open log file: %v", err)
		return exitFatal
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, plan=%s, cadence=%s)",
		cfg.App.Env, cfg.Market.Plan, cfg.Floor.CadenceDuration())

	a, err := app.New(cfg)
	if err != nil {
		logger.Errorf("init: %v", err)
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		report, err := a.RunOnce(ctx)
		if err != nil {
			logger.Errorf("cycle: %v", err)
			return exitFatal
		}
		if report.Skipped {
			logger.Infof("cycle skipped: %s", report.Reason)
			return exitSuccess
		}
		logger.Infof("cycle finished: %d runs, %d failures", report.Launched(), report.Failures())
		if report.Failures() > 0 {
			return exitPartialFailure
		}
		return exitSuccess
	}

	if err := a.Run(ctx); err != nil {
		logger.Errorf("run: %v", err)
		return exitFatal
	}
	return exitSuccess
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
