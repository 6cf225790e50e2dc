package channel

import (
	"github.com/flemzord/sbridge/internal/core"
)

// Service names shared through core.AppContext.
const (
	ServiceRegistry  = "channel.registry"
	ServiceMetrics   = "channel.metrics"
	ServiceLocker    = "channel.session_locker"
	ServiceLimiter   = "security.rate_limiter"
	ServiceURLFilter = "security.url_filter"
	// ServiceCredentials holds the store of secrets redacted from logs.
	ServiceCredentials = "security.credentials"
	// ServicePrometheus holds the *prometheus.Registry every module
	// registers its collectors on.
	ServicePrometheus = "metrics.registry"
)

// NewBaseFromContext builds a Base for a channel module, picking up the
// shared metrics, session locker, send limiter and URL filter from the
// application context when they are registered.
func NewBaseFromContext(ctx *core.AppContext, name string, drv Driver, allow *AllowList) *Base {
	cfg := BaseConfig{
		Name:      name,
		Driver:    drv,
		Logger:    ctx.Logger,
		AllowList: allow,
	}
	if m, ok := core.Lookup[*Metrics](ctx, ServiceMetrics); ok {
		cfg.Metrics = m
	}
	if l, ok := core.Lookup[SessionLocker](ctx, ServiceLocker); ok {
		cfg.Locker = l
	}
	if l, ok := core.Lookup[SendLimiter](ctx, ServiceLimiter); ok {
		cfg.Limiter = l
	}

	rc := ResolverConfig{Limits: drv.Capabilities().Limits}
	if f, ok := core.Lookup[URLChecker](ctx, ServiceURLFilter); ok {
		rc.URLFilter = f
	}
	cfg.Resolver = NewResolver(rc)

	return NewBase(cfg)
}

// Publish adds a to the shared registry, if the application has one, so
// the gateway and other modules can reach it by name.
func Publish(ctx *core.AppContext, a Adapter) error {
	reg, ok := core.Lookup[*Registry](ctx, ServiceRegistry)
	if !ok {
		return nil
	}
	return reg.Register(a)
}

// SecretStore records credentials so they can be redacted from logs.
type SecretStore interface {
	Set(name, value string)
}

// RegisterSecrets records the non-empty values of secrets, keyed by
// credential name, in the application's credential store.
func RegisterSecrets(ctx *core.AppContext, secrets map[string]string) {
	store, ok := core.Lookup[SecretStore](ctx, ServiceCredentials)
	if !ok {
		return
	}
	for name, value := range secrets {
		if value != "" {
			store.Set(name, value)
		}
	}
}
