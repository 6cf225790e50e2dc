package email

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/gateway"
)

const moduleID = "channel.email"

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

// Channel is the email channel.
type Channel struct {
	*channel.Base

	config    Config
	logger    *slog.Logger
	appCtx    *core.AppContext
	driver    *driver
	newMailer func(*Config) (mailer, error)
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
		return fmt.Errorf("email: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (c *Channel) Provision(ctx *core.AppContext) error {
	c.config.defaults()
	c.appCtx = ctx
	c.logger = ctx.Logger.With("channel", c.config.ChannelID)
	c.driver = newDriver(&c.config, c.logger, c.newMailer)
	c.Base = channel.NewBaseFromContext(ctx, c.config.ChannelID, c.driver, c.config.AllowList.Build())
	channel.RegisterSecrets(ctx, map[string]string{
		c.config.ChannelID + ".password":    c.config.Password,
		c.config.ChannelID + ".signing_key": c.config.SigningKey,
	})
	return channel.Publish(ctx, c)
}

// Validate implements core.Validator.
func (c *Channel) Validate() error {
	return c.config.validate()
}

// Start implements core.Starter. Inbound mail arrives by webhook, so the
// gateway module is required.
func (c *Channel) Start() error {
	c.StartEvents()

	dispatcher, err := core.Require[*gateway.WebhookDispatcher](c.appCtx, gateway.ServiceWebhookDispatcher)
	if err != nil {
		return fmt.Errorf("email: needs the gateway module to receive webhooks: %w", err)
	}
	dispatcher.Register(c.config.ChannelID, &webhookReceiver{
		signingKey: c.config.SigningKey,
		maxSkew:    c.config.MaxSkew,
		maxBody:    c.config.InboundMaxBytes,
		now:        c.driver.now,
		onMail:     c.driver.handleMail,
		onEvent:    c.driver.handleEvent,
	}, "")
	if c.config.SigningKey == "" {
		c.logger.Warn("email webhook running without signing_key, signatures are not checked")
	}

	if !*c.config.AutoConnect {
		return nil
	}
	if err := c.Connect(context.Background()); err != nil {
		c.logger.Warn("email auto-connect failed", "error", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (c *Channel) Stop(ctx context.Context) error {
	c.logger.Info("email channel stopping")
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
		return fmt.Errorf("email: decode config: %w", err)
	}
	next.defaults()
	if err := next.validate(); err != nil {
		return err
	}
	if next.SMTPHost != c.config.SMTPHost || next.FromAddress != c.config.FromAddress {
		c.logger.Warn("email smtp_host or from_address change requires a restart")
	}
	c.SetAllowList(next.AllowList.Build())
	c.logger.Info("email allow-list reloaded",
		"users", len(next.AllowList.Users),
		"groups", len(next.AllowList.Groups),
	)
	return nil
}
