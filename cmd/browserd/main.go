// Package main runs browserd: a pool of browser processes shared by many
// concurrent sessions, driven through a JSON tool API over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/config"
	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/metrics"
	"github.com/entrhq/browserd/pkg/server"
	browsertools "github.com/entrhq/browserd/pkg/tools/browser"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile   string
	Addr         string
	Headed       bool
	MaxProcesses int
	LogLevel     string
	SkipInstall  bool
	ShowVersion  bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("browserd v%s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli); err != nil {
		stop()
		log.Printf("browserd failed: %v", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML); defaults to ~/.browserd/config.yaml when present")
	flag.StringVar(&cli.Addr, "addr", "", "HTTP listen address (overrides config)")
	flag.BoolVar(&cli.Headed, "headed", false, "Launch pool browsers with a visible window")
	flag.IntVar(&cli.MaxProcesses, "max-processes", 0, "Maximum pool-owned browser processes (overrides config)")
	flag.StringVar(&cli.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.BoolVar(&cli.SkipInstall, "skip-install", false, "Assume the playwright driver and browsers are already installed")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "browserd - pooled browser automation service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: browserd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  Every setting can be overridden with BROWSERD_* variables,\n")
		fmt.Fprintf(os.Stderr, "  e.g. BROWSERD_POOL_MAX_PROCESSES=4 or BROWSERD_CACHE_BACKEND=redis\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  browserd -addr 0.0.0.0:8931\n")
		fmt.Fprintf(os.Stderr, "  browserd -config browserd.yaml -headed\n\n")
	}

	flag.Parse()
	return cli
}

// loadConfig applies flags on top of file and environment configuration.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}
	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}
	if cli.Headed {
		cfg.Browser.Headless = false
	}
	if cli.MaxProcesses > 0 {
		cfg.Pool.MaxProcesses = cli.MaxProcesses
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logErr := logging.New(logging.Config(cfg.Logging))
	if logger == nil {
		return fmt.Errorf("failed to initialize logging: %w", logErr)
	}
	defer logger.Close()
	if logErr != nil {
		log.Printf("Warning: %v", logErr)
	} else if logger.LogPath() != "" {
		log.Printf("Logging to %s", logger.LogPath())
	}

	logger.Info("starting browserd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("max_processes", cfg.Pool.MaxProcesses),
		zap.Int("max_contexts_per_process", cfg.Pool.MaxContextsPerProcess),
		zap.Bool("headless", cfg.Browser.Headless),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	drv := driver.NewPlaywright(driver.PlaywrightOptions{
		SkipInstall: cli.SkipInstall,
		Browsers:    []string{cfg.Browser.Type},
		Logger:      logger.Logger,
	})

	svc, err := browser.NewService(drv, cfg.ServiceConfig(),
		browser.WithLogger(logger.Logger),
		browser.WithMetrics(metrics.NewCollector("browserd", promReg)),
	)
	if err != nil {
		return fmt.Errorf("failed to create browser service: %w", err)
	}
	svc.Start(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Error("browser service shutdown", zap.Error(err))
		}
		logger.Info("browserd stopped")
	}()

	reg, err := browsertools.NewToolRegistry(svc)
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	srv := server.New(cfg.Server, reg, svc,
		server.WithLogger(logger.Logger),
		server.WithGatherer(promReg),
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
