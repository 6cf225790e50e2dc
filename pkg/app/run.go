// Package app provides the shared entry point of the sbridge binary and of
// programs embedding the gateway.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/gateway"
	"github.com/flemzord/sbridge/internal/reload"
	"github.com/flemzord/sbridge/internal/security"
	"github.com/flemzord/sbridge/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer

	// Handlers replace the default logging handlers installed on every
	// channel. Nil fields keep the default.
	Handlers Handlers

	// Ready, if set, is called once every module has started.
	Ready func(reg *channel.Registry)
}

// Run is RunContext with a background context.
func Run(params RunParams) error {
	return RunContext(context.Background(), params)
}

// RunContext loads configuration, starts all modules, and blocks until a
// shutdown signal is received or ctx is cancelled. SIGHUP and file-change
// events trigger a live configuration reload for modules that implement
// core.Reloader.
func RunContext(ctx context.Context, params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Secrets registered by modules are redacted from every log line.
	credStore := security.NewCredentialStore()
	redactor := security.NewRedactor()
	logger := NewLogger(params.LogOutput, params.LogLevel, redactor)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, params.Version, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	auditLogger, closeAudit, err := openAuditLog(cfg.Security, dataDir, redactor)
	if err != nil {
		return err
	}
	defer closeAudit()

	var secCfg config.SecurityConfig
	if cfg.Security != nil {
		secCfg = *cfg.Security
	}
	rateLimiter := security.NewRateLimiter(secCfg.RateLimits)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	channels := channel.NewRegistry()

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)

	// Services for cross-module discovery. Modules resolve them during
	// Provision or Start, so they are registered before LoadModules.
	appCtx.RegisterService(channel.ServicePrometheus, promRegistry)
	appCtx.RegisterService(channel.ServiceMetrics, channel.NewMetrics(promRegistry))
	appCtx.RegisterService(channel.ServiceRegistry, channels)
	appCtx.RegisterService(channel.ServiceLimiter, rateLimiter)
	appCtx.RegisterService(channel.ServiceCredentials, credStore)
	appCtx.RegisterService(gateway.ServiceAuditLogger, auditLogger)
	appCtx.RegisterService(gateway.ServiceConfigPath, cfgPath)
	if urlFilter := security.NewURLFilter(secCfg.URLFilter); urlFilter.IsConfigured() {
		appCtx.RegisterService(channel.ServiceURLFilter, urlFilter)
	} else {
		logger.Info("no url_filter configured, outbound media URLs are not fetched")
	}

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}

	// Credentials are known once every module has been provisioned.
	redactor.SyncCredentials(credStore)

	if n := wireHandlers(channels, params.Handlers, logger, auditLogger); n == 0 {
		logger.Warn("no channel modules configured")
	}

	// The gateway resolves the reload handler during Start.
	handler := reload.NewHandler(application, appCtx)
	appCtx.RegisterService(gateway.ServiceReloadHandler, handler)

	if err := application.Start(); err != nil {
		return err
	}
	logger.Info("sbridge started",
		"version", params.Version,
		"modules", len(application.Modules()),
		"channels", channels.Names(),
	)
	if params.Ready != nil {
		params.Ready(channels)
	}

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	var fileEvents <-chan reload.Event
	watcher, err := reload.NewWatcher(reload.WatcherConfig{ConfigPath: cfgPath, Logger: logger})
	if err != nil {
		logger.Warn("config file watch disabled, use SIGHUP to reload", "error", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
		fileEvents = watcher.Events()
	}

	shutdown := func(reason string) error {
		logger.Info("shutting down", "reason", reason)
		if err := application.Stop(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	}

	// --- main event loop ---
	for {
		select {
		case <-ctx.Done():
			return shutdown(context.Cause(ctx).Error())
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				return shutdown("signal " + sig.String())
			}
			logger.Info("SIGHUP received, reloading configuration")
			reloadConfig(ctx, logger, handler, auditLogger, cfgPath)
		case evt := <-fileEvents:
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			reloadConfig(ctx, logger, handler, auditLogger, cfgPath)
		}
	}
}

func reloadConfig(ctx context.Context, logger *slog.Logger, handler *reload.Handler, audit *security.AuditLogger, cfgPath string) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	event := security.AuditEvent{Type: security.EventConfigChange, Actor: "reload", Detail: cfgPath}
	if err := handler.HandleReload(ctx, cfgPath); err != nil {
		logger.Error("reload failed", "error", err)
		event.Metadata = map[string]string{"error": err.Error()}
	}
	audit.Log(event)
}

// NewLogger builds the process logger: a text handler wrapped in a
// redacting handler so registered secrets never reach the output.
func NewLogger(w io.Writer, level slog.Level, redactor *security.Redactor) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	if redactor == nil {
		return slog.New(inner)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

// openAuditLog returns the audit logger. Events are appended as JSONL to
// the configured file, or discarded when none is set.
func openAuditLog(sec *config.SecurityConfig, dataDir string, redactor *security.Redactor) (*security.AuditLogger, func(), error) {
	cfg := security.AuditLoggerConfig{Redactor: redactor}
	if sec == nil || sec.AuditLog == "" {
		return security.NewAuditLogger(cfg), func() {}, nil
	}

	path := sec.AuditLog
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit log: %w", err)
	}
	cfg.Writer = f
	return security.NewAuditLogger(cfg), func() { _ = f.Close() }, nil
}
