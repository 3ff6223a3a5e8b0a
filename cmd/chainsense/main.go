// Package main is the ChainSense service entrypoint: telemetry ingestion,
// token routing, and dashboard fan-out for the ChainBridge platform.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/BIGmindz/chainbridge/config"
	"github.com/BIGmindz/chainbridge/consistency"
	"github.com/BIGmindz/chainbridge/device"
	"github.com/BIGmindz/chainbridge/gateway"
	"github.com/BIGmindz/chainbridge/geofence"
	"github.com/BIGmindz/chainbridge/health"
	"github.com/BIGmindz/chainbridge/ingest"
	"github.com/BIGmindz/chainbridge/metric"
	"github.com/BIGmindz/chainbridge/natsclient"
	"github.com/BIGmindz/chainbridge/router"
	"github.com/BIGmindz/chainbridge/token"
)

const (
	version = "0.1.0"
	appName = "chainsense"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "path to configuration file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader().LoadFile(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if *validateOnly {
		logger.Info("configuration is valid", "path", *configPath)
		return nil
	}

	logger.Info("starting",
		"app", appName,
		"version", version,
		"platform", cfg.Platform.ID,
		"environment", cfg.Platform.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics
	registry := metric.NewRegistry()
	metrics := registry.Metrics
	metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	defer func() { _ = metricsServer.Stop() }()

	monitor := health.NewMonitor()

	// Dashboard fan-out over NATS. A broker outage degrades fan-out; it does
	// not block ingestion.
	var emitter router.DashboardEmitter
	nc, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
		natsclient.WithToken(cfg.NATS.Token),
		natsclient.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("build NATS client: %w", err)
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := nc.Connect(connectCtx); err != nil {
		logger.Warn("NATS unavailable, dashboard fan-out disabled", "error", err)
		monitor.UpdateDegraded("nats", "broker unreachable at startup")
	} else {
		e, err := natsclient.NewEmitter(ctx, nc)
		if err != nil {
			logger.Warn("dashboard stream unavailable", "error", err)
			monitor.UpdateDegraded("nats", "dashboard stream not created")
		} else {
			emitter = e
			monitor.UpdateHealthy("nats", "connected")
		}
		defer func() { _ = nc.Close(context.Background()) }()
	}
	connectCancel()

	// Core pipeline
	store := token.NewStore()
	r := router.New(store, nil, nil, emitter, metrics, logger, router.Config{
		DedupTTL:            cfg.Router.DedupTTL,
		DedupMaxSize:        cfg.Router.DedupMaxSize,
		CollaboratorTimeout: cfg.Router.CollaboratorTimeout,
		DeadLetterMaxSize:   cfg.Router.DeadLetterMaxSize,
	})

	guard := device.NewGuard(cfg.Devices)
	engine := geofence.NewEngine(cfg.Geofences, cfg.Ingestion.BaselineEnter)
	checker := consistency.NewChecker(cfg.Ingestion.MaxSpeedMPS)
	service := ingest.NewService(guard, engine, checker, r, metrics, monitor, logger)
	monitor.UpdateHealthy("ingest", "ready")

	gw := gateway.New(cfg.Gateway.Addr, service, monitor, logger)

	serveErr := make(chan error, 1)
	go func() { serveErr <- gw.Start() }()

	logger.Info("ready",
		"gateway_addr", cfg.Gateway.Addr,
		"metrics_addr", metricsServer.Address(),
		"devices", len(cfg.Devices),
		"geofences", len(cfg.Geofences))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "error", err)
	}

	letters := r.DeadLetters().Len()
	if letters > 0 {
		logger.Warn("shutting down with undelivered dead letters", "count", letters)
	}
	logger.Info("stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
