package webchat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/gateway"
)

const moduleID = "channel.webchat"

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

// Channel is the web chat channel module.
type Channel struct {
	*channel.Base

	config Config
	logger *slog.Logger
	appCtx *core.AppContext
	driver *driver
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
		return fmt.Errorf("webchat: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (c *Channel) Provision(ctx *core.AppContext) error {
	c.config.defaults()
	c.appCtx = ctx
	c.logger = ctx.Logger.With("channel", c.config.ChannelID)
	c.driver = newDriver(&c.config, c.logger)
	c.Base = channel.NewBaseFromContext(ctx, c.config.ChannelID, c.driver, c.config.AllowList.Build())
	channel.RegisterSecrets(ctx, map[string]string{c.config.ChannelID + ".token": c.config.Token})
	return channel.Publish(ctx, c)
}

// Validate implements core.Validator.
func (c *Channel) Validate() error {
	return c.config.validate()
}

func (c *Channel) socketRouter() (*gateway.SocketRouter, error) {
	r, err := core.Require[*gateway.SocketRouter](c.appCtx, gateway.ServiceSocketRouter)
	if err != nil {
		return nil, fmt.Errorf("webchat: needs the gateway module to accept visitors: %w", err)
	}
	return r, nil
}

// Start implements core.Starter. The widget endpoint is mounted on the
// gateway at /ws/{channel_id}.
func (c *Channel) Start() error {
	c.StartEvents()

	router, err := c.socketRouter()
	if err != nil {
		return err
	}
	router.Register(c.config.ChannelID, c.driver)
	if c.config.Token == "" {
		c.logger.Warn("webchat endpoint has no token, any page can open a session")
	}

	if !*c.config.AutoConnect {
		return nil
	}
	if err := c.Connect(context.Background()); err != nil {
		c.logger.Warn("webchat auto-connect failed", "error", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (c *Channel) Stop(ctx context.Context) error {
	c.logger.Info("webchat channel stopping", "sessions", c.driver.sessions.len())
	if r, err := c.socketRouter(); err == nil {
		r.Unregister(c.config.ChannelID)
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
		return fmt.Errorf("webchat: decode config: %w", err)
	}
	next.defaults()
	if err := next.validate(); err != nil {
		return err
	}
	if next.ChannelID != c.config.ChannelID || next.Token != c.config.Token ||
		!slices.Equal(next.AllowedOrigins, c.config.AllowedOrigins) {
		c.logger.Warn("webchat channel_id, token or allowed_origins change requires a restart")
	}
	c.SetAllowList(next.AllowList.Build())
	c.logger.Info("webchat allow-list reloaded",
		"users", len(next.AllowList.Users),
		"groups", len(next.AllowList.Groups),
	)
	return nil
}
