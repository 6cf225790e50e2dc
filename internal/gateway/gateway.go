package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/security"
)

const moduleID = "gateway.http"

// Service names registered or consumed by the gateway.
const (
	ServiceWebhookDispatcher = "gateway.webhook_dispatcher"
	ServiceMetrics           = "gateway.metrics"
	ServiceAuditLogger       = "security.audit_logger"
	ServiceConfigPath        = "config.path"
	ServiceReloadHandler     = "reload.handler"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// configReloader applies a configuration file to the running modules.
type configReloader interface {
	HandleReload(ctx context.Context, configPath string) error
}

// Gateway is the HTTP gateway module. It exposes health, status, channel
// control, metrics and webhook endpoints.
type Gateway struct {
	config     Config
	appCtx     *core.AppContext
	logger     *slog.Logger
	server     *http.Server
	metrics    *Metrics
	dispatcher *WebhookDispatcher
	sockets    *SocketRouter
	startedAt  time.Time

	// Resolved at Start from the service registry.
	registry    *channel.Registry
	gatherer    prometheus.Gatherer
	auditLogger *security.AuditLogger
	rateLimiter *security.RateLimiter
	reloader    configReloader
	configPath  string
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  moduleID,
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The dispatcher and socket router
// are registered here so channel modules can attach handlers during their
// own Start.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger.With("module", moduleID)

	var reg prometheus.Registerer
	if pr, ok := core.Lookup[*prometheus.Registry](ctx, channel.ServicePrometheus); ok {
		reg = pr
		g.gatherer = pr
	}
	g.metrics = NewMetrics(reg)
	g.dispatcher = NewWebhookDispatcher(g.logger)
	g.dispatcher.metrics = g.metrics
	g.dispatcher.maxBody = g.config.MaxWebhookBody
	g.sockets = NewSocketRouter(g.logger)

	ctx.RegisterService(ServiceMetrics, g.metrics)
	ctx.RegisterService(ServiceWebhookDispatcher, g.dispatcher)
	ctx.RegisterService(ServiceSocketRouter, g.sockets)

	for source, cfg := range g.config.Webhooks {
		if cfg.Secret != "" {
			g.logger.Info("webhook source configured with HMAC secret", "source", source)
		}
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	return g.config.validate()
}

// Start implements core.Starter. Optional services are resolved lazily so
// the gateway degrades gracefully when they are missing.
func (g *Gateway) Start() error {
	g.resolveServices()
	g.applyWebhookSecrets()
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

func (g *Gateway) resolveServices() {
	if reg, ok := core.Lookup[*channel.Registry](g.appCtx, channel.ServiceRegistry); ok {
		g.registry = reg
	}
	if al, ok := core.Lookup[*security.AuditLogger](g.appCtx, ServiceAuditLogger); ok {
		g.auditLogger = al
	}
	if rl, ok := core.Lookup[*security.RateLimiter](g.appCtx, channel.ServiceLimiter); ok {
		g.rateLimiter = rl
	}
	if rh, ok := core.Lookup[configReloader](g.appCtx, ServiceReloadHandler); ok {
		g.reloader = rh
	}
	if p, ok := core.Lookup[string](g.appCtx, ServiceConfigPath); ok {
		g.configPath = p
	}
}

// applyWebhookSecrets re-registers handlers with the HMAC secrets from the
// gateway config. Handlers are registered by channel modules without one.
func (g *Gateway) applyWebhookSecrets() {
	for source, cfg := range g.config.Webhooks {
		if cfg.Secret == "" {
			continue
		}
		g.dispatcher.mu.Lock()
		if entry, ok := g.dispatcher.handlers[source]; ok && entry.secret == "" {
			entry.secret = cfg.Secret
			g.dispatcher.handlers[source] = entry
		}
		g.dispatcher.mu.Unlock()
	}
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
