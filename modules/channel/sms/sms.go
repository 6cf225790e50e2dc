package sms

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/gateway"
)

const moduleID = "channel.sms"

func init() {
	core.RegisterModule(&Channel{})
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

// Channel is the Twilio SMS channel.
type Channel struct {
	*channel.Base

	config Config
	logger *slog.Logger
	appCtx *core.AppContext
	driver *driver
	// newAPI replaces the Twilio client in tests.
	newAPI func(*Config) messagesAPI
}

// ModuleInfo implements core.Module.
func (c *Channel) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  moduleID,
		New: func() core.Module { return &Channel{} },
	}
}

// Configure implements core.Configurable.
func (c *Channel) Configure(node *yaml.Node) error {
	if err := node.Decode(&c.config); err != nil {
		return fmt.Errorf("sms: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (c *Channel) Provision(ctx *core.AppContext) error {
	c.config.defaults()
	c.appCtx = ctx
	c.logger = ctx.Logger.With("channel", c.config.ChannelID)
	c.driver = newDriver(&c.config, c.logger, c.newAPI)
	c.Base = channel.NewBaseFromContext(ctx, c.config.ChannelID, c.driver, c.config.AllowList.Build())
	channel.RegisterSecrets(ctx, map[string]string{
		c.config.ChannelID + ".auth_token":     c.config.AuthToken,
		c.config.ChannelID + ".api_key_secret": c.config.APIKeySecret,
	})
	return channel.Publish(ctx, c)
}

// Validate implements core.Validator.
func (c *Channel) Validate() error {
	return c.config.validate()
}

// Start implements core.Starter. Inbound SMS only arrives by webhook, so
// the gateway module is required.
func (c *Channel) Start() error {
	c.StartEvents()

	dispatcher, err := core.Require[*gateway.WebhookDispatcher](c.appCtx, gateway.ServiceWebhookDispatcher)
	if err != nil {
		return fmt.Errorf("sms: needs the gateway module to receive webhooks: %w", err)
	}
	dispatcher.Register(c.config.ChannelID, newWebhookReceiver(&c.config, c.driver.handleWebhook), "")
	if !c.config.signsWebhooks() {
		c.logger.Warn("sms webhook running without webhook_url and auth_token, signatures are not checked")
	}

	if !*c.config.AutoConnect {
		return nil
	}
	if err := c.Connect(context.Background()); err != nil {
		c.logger.Warn("sms auto-connect failed", "error", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (c *Channel) Stop(ctx context.Context) error {
	c.logger.Info("sms channel stopping")
	if d, ok := core.Lookup[*gateway.WebhookDispatcher](c.appCtx, gateway.ServiceWebhookDispatcher); ok {
		d.Unregister(c.config.ChannelID)
	}
	return c.Close(ctx)
}

// Reload implements core.Reloader. Only the allow-list is applied live.
func (c *Channel) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(moduleID)
	if !ok {
		return nil
	}
	var next Config
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("sms: decode config: %w", err)
	}
	next.defaults()
	if err := next.validate(); err != nil {
		return err
	}
	if next.AccountSID != c.config.AccountSID || next.From != c.config.From || next.MessagingServiceSID != c.config.MessagingServiceSID {
		c.logger.Warn("sms account or sender change requires a restart")
	}
	c.SetAllowList(next.AllowList.Build())
	c.logger.Info("sms allow-list reloaded",
		"users", len(next.AllowList.Users),
		"groups", len(next.AllowList.Groups),
	)
	return nil
}
