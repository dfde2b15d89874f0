package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/runnerr0/nobletrack/internal/config"
	"github.com/runnerr0/nobletrack/internal/metrics"
	"github.com/runnerr0/nobletrack/internal/server"
	"github.com/runnerr0/nobletrack/internal/storage"
	"github.com/runnerr0/nobletrack/internal/tracker"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfgPath := c.globals.Config
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadOrCreateAt(cfgPath)
	} else {
		cfg, err = config.LoadOrCreate()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if c.Host != "" {
		cfg.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}

	logger := newLogger(cfg.Logging.Level, c.globals.Verbose)

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	tr := tracker.New(cfg, cfgPath, store, logger, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tr.Restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	srv := server.New(tr, logger, m)
	go tr.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port)
	logger.Info("nobletrack daemon starting",
		"version", c.version, "addr", addr, "db", dbPath,
		"endpoint_configured", cfg.EndpointURL() != "")

	if err := srv.Start(addr); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	// Last-chance flush so a clean shutdown doesn't strand buffered
	// activity until the next run. Bounded: a dead endpoint must not
	// hold up process exit.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := tr.Flush(flushCtx); err != nil {
		logger.Warn("final flush failed, buffer kept for next run", "error", err)
	}

	logger.Info("nobletrack daemon stopped")
	return nil
}

// newLogger builds the daemon's root logger. --verbose forces debug.
func newLogger(level string, verbose bool) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	if verbose {
		l = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
