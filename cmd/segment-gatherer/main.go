// Package main implements the entry point for the segment gatherer, a
// service that aggregates satellite file events from NATS into complete
// time-slotted datasets and publishes dataset-ready notifications.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adybbroe/pytroll-collectors/config"
	"github.com/adybbroe/pytroll-collectors/metric"
	"github.com/adybbroe/pytroll-collectors/natsclient"
	"github.com/adybbroe/pytroll-collectors/segments"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "segment-gatherer"
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
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting segment gatherer",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()

	client, err := buildNATSClient(cfg, registry, logger)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			slog.Warn("NATS close reported errors", "error", err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		return fmt.Errorf("wait for NATS connection: %w", err)
	}

	gatherer, err := segments.New(cfg, client, registry, segments.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build gatherer: %w", err)
	}

	core := registry.CoreMetrics()
	for _, subject := range cfg.NATS.SubscribeSubjects {
		subject := subject
		err := client.Subscribe(ctx, subject, func(msgCtx context.Context, data []byte) {
			core.RecordMessageReceived(subject)
			gatherer.HandleMessage(msgCtx, data)
		})
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", subject, err)
		}
		slog.Info("Subscribed", "subject", subject)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return gatherer.Run(groupCtx)
	})

	var metricsServer *metric.Server
	if cliCfg.MetricsPort > 0 {
		metricsServer = metric.NewServer(cliCfg.MetricsPort, "/metrics", registry)
		group.Go(func() error {
			slog.Info("Metrics server listening", "address", metricsServer.Address())
			return metricsServer.Start()
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return metricsServer.Stop()
		})
	}

	err = group.Wait()
	slog.Info("Segment gatherer stopped")
	return err
}

func buildNATSClient(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMetrics(registry.CoreMetrics()),
		natsclient.WithLogger(slogAdapter{logger}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("build NATS client: %w", err)
	}
	return client, nil
}

// slogAdapter bridges the NATS client's printf-style logger to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, v ...any) {
	a.logger.Info(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Errorf(format string, v ...any) {
	a.logger.Error(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Debugf(format string, v ...any) {
	a.logger.Debug(fmt.Sprintf(format, v...))
}
