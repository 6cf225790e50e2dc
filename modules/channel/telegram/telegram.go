package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/gateway"
)

const moduleID = "channel.telegram"

func init() {
	core.RegisterModule(&Telegram{})
}

// Compile-time interface guards.
var (
	_ channel.Channel   = (*Telegram)(nil)
	_ core.Configurable = (*Telegram)(nil)
	_ core.Provisioner  = (*Telegram)(nil)
	_ core.Validator    = (*Telegram)(nil)
	_ core.Starter      = (*Telegram)(nil)
	_ core.Stopper      = (*Telegram)(nil)
	_ core.Reloader     = (*Telegram)(nil)
)

// Telegram is the Telegram Bot API channel.
type Telegram struct {
	*channel.Base

	config Config
	logger *slog.Logger
	appCtx *core.AppContext
	driver *driver
}

// ModuleInfo implements core.Module.
func (t *Telegram) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  moduleID,
		New: func() core.Module { return &Telegram{} },
	}
}

// Configure implements core.Configurable.
func (t *Telegram) Configure(node *yaml.Node) error {
	if err := node.Decode(&t.config); err != nil {
		return fmt.Errorf("telegram: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (t *Telegram) Provision(ctx *core.AppContext) error {
	t.config.defaults()
	t.appCtx = ctx
	t.logger = ctx.Logger.With("channel", t.config.ChannelID)
	t.driver = newDriver(&t.config, t.logger, nil)
	t.Base = channel.NewBaseFromContext(ctx, t.config.ChannelID, t.driver, t.config.AllowList.Build())
	channel.RegisterSecrets(ctx, map[string]string{
		t.config.ChannelID + ".token":          t.config.Token,
		t.config.ChannelID + ".webhook_secret": t.config.WebhookSecret,
	})
	return channel.Publish(ctx, t)
}

// Validate implements core.Validator.
func (t *Telegram) Validate() error {
	return t.config.validate()
}

// Start implements core.Starter.
func (t *Telegram) Start() error {
	t.StartEvents()

	if t.config.Mode == modeWebhook {
		if err := t.registerWebhook(); err != nil {
			return err
		}
		if t.config.WebhookSecret == "" {
			t.logger.Warn("telegram webhook running without webhook_secret, any caller can post updates")
		}
	}

	if !*t.config.AutoConnect {
		return nil
	}
	if err := t.Connect(context.Background()); err != nil {
		t.logger.Warn("telegram auto-connect failed", "error", err)
	}
	return nil
}

// registerWebhook hands the receiver to the gateway's dispatcher under the
// channel id. Telegram authenticates with its secret header, so no HMAC
// secret is set on the dispatcher side.
func (t *Telegram) registerWebhook() error {
	dispatcher, err := core.Require[*gateway.WebhookDispatcher](t.appCtx, gateway.ServiceWebhookDispatcher)
	if err != nil {
		return fmt.Errorf("telegram: webhook mode needs the gateway module: %w", err)
	}
	dispatcher.Register(t.config.ChannelID, &webhookReceiver{
		secret: t.config.WebhookSecret,
		handle: t.driver.handleWebhook,
	}, "")
	return nil
}

// Stop implements core.Stopper.
func (t *Telegram) Stop(ctx context.Context) error {
	t.logger.Info("telegram channel stopping")
	return t.Close(ctx)
}

// Reload implements core.Reloader. Only the allow-list is applied live.
func (t *Telegram) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(moduleID)
	if !ok {
		return nil
	}
	var next Config
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("telegram: decode config: %w", err)
	}
	next.defaults()
	if err := next.validate(); err != nil {
		return err
	}
	if next.Token != t.config.Token || next.Mode != t.config.Mode {
		t.logger.Warn("telegram token or mode change requires a restart")
	}
	t.SetAllowList(next.AllowList.Build())
	t.logger.Info("telegram allow-list reloaded",
		"users", len(next.AllowList.Users),
		"groups", len(next.AllowList.Groups),
	)
	return nil
}
