package meta

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/gateway"
)

func init() {
	core.RegisterModule(&Channel{platform: messenger})
	core.RegisterModule(&Channel{platform: instagram})
}

// Compile-time interface guards.
var (
	_ channel.Channel   = (*Channel)(nil)
	_ core.Configurable = (*Channel)(nil)
	_ core.Provisioner  = (*Channel)(nil)
	_ core.Validator    = (*Channel)(nil)
	_ core.Starter      = (*Channel)(nil)
	_ core.Stopper      = (*Channel)(nil)
	_ core.Reloader     = (*Channel)(nil)
)

// Channel is a Messenger or Instagram channel, depending on the module it
// was registered as.
type Channel struct {
	*channel.Base

	platform *platform
	config   Config
	logger   *slog.Logger
	appCtx   *core.AppContext
	driver   *driver
}

// ModuleInfo implements core.Module.
func (c *Channel) ModuleInfo() core.ModuleInfo {
	p := c.platform
	return core.ModuleInfo{
		ID:  core.ModuleID(p.moduleID),
		New: func() core.Module { return &Channel{platform: p} },
	}
}

// Configure implements core.Configurable.
func (c *Channel) Configure(node *yaml.Node) error {
	if err := node.Decode(&c.config); err != nil {
		return fmt.Errorf("%s: decode config: %w", c.platform.name, err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (c *Channel) Provision(ctx *core.AppContext) error {
	c.config.defaults(c.platform)
	c.appCtx = ctx
	c.logger = ctx.Logger.With("channel", c.config.ChannelID)
	c.driver = newDriver(&c.config, c.platform, c.logger, nil)
	c.Base = channel.NewBaseFromContext(ctx, c.config.ChannelID, c.driver, c.config.AllowList.Build())
	channel.RegisterSecrets(ctx, map[string]string{
		c.config.ChannelID + ".access_token": c.config.AccessToken,
		c.config.ChannelID + ".app_secret":   c.config.AppSecret,
		c.config.ChannelID + ".verify_token": c.config.VerifyToken,
	})
	return channel.Publish(ctx, c)
}

// Validate implements core.Validator.
func (c *Channel) Validate() error {
	return c.config.validate(c.platform)
}

// Start implements core.Starter. Meta only delivers by webhook, so the
// gateway module is required.
func (c *Channel) Start() error {
	c.StartEvents()

	dispatcher, err := core.Require[*gateway.WebhookDispatcher](c.appCtx, gateway.ServiceWebhookDispatcher)
	if err != nil {
		return fmt.Errorf("%s: needs the gateway module to receive webhooks: %w", c.platform.name, err)
	}
	dispatcher.Register(c.config.ChannelID, &webhookReceiver{
		object:      c.platform.object,
		appSecret:   c.config.AppSecret,
		verifyToken: c.config.VerifyToken,
		handle:      c.driver.handleWebhook,
	}, "")
	if c.config.AppSecret == "" {
		c.logger.Warn(c.platform.name + " webhook running without app_secret, signatures are not checked")
	}

	if !*c.config.AutoConnect {
		return nil
	}
	if err := c.Connect(context.Background()); err != nil {
		c.logger.Warn(c.platform.name+" auto-connect failed", "error", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (c *Channel) Stop(ctx context.Context) error {
	c.logger.Info(c.platform.name + " channel stopping")
	if d, ok := core.Lookup[*gateway.WebhookDispatcher](c.appCtx, gateway.ServiceWebhookDispatcher); ok {
		d.Unregister(c.config.ChannelID)
	}
	return c.Close(ctx)
}

// Reload implements core.Reloader. Only the allow-list is applied live.
func (c *Channel) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(c.platform.moduleID)
	if !ok {
		return nil
	}
	var next Config
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("%s: decode config: %w", c.platform.name, err)
	}
	next.defaults(c.platform)
	if err := next.validate(c.platform); err != nil {
		return err
	}
	if next.AccessToken != c.config.AccessToken || next.AccountID != c.config.AccountID {
		c.logger.Warn(c.platform.name + " access_token or account_id change requires a restart")
	}
	c.SetAllowList(next.AllowList.Build())
	c.logger.Info(c.platform.name+" allow-list reloaded",
		"users", len(next.AllowList.Users),
		"groups", len(next.AllowList.Groups),
	)
	return nil
}
