package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/core"
)

const moduleID = "channel.whatsapp"

func init() {
	core.RegisterModule(&WhatsApp{})
}

// Compile-time interface guards.
var (
	_ channel.Channel   = (*WhatsApp)(nil)
	_ core.Configurable = (*WhatsApp)(nil)
	_ core.Provisioner  = (*WhatsApp)(nil)
	_ core.Validator    = (*WhatsApp)(nil)
	_ core.Starter      = (*WhatsApp)(nil)
	_ core.Stopper      = (*WhatsApp)(nil)
	_ core.Reloader     = (*WhatsApp)(nil)
)

// WhatsApp is the multi-device WhatsApp channel. It links to a phone as a
// companion device and keeps the device keys in a local SQLite store.
type WhatsApp struct {
	*channel.Base

	config Config
	logger *slog.Logger
	driver *driver

	storeMu sync.Mutex
	store   *deviceStore
}

// ModuleInfo implements core.Module.
func (w *WhatsApp) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  moduleID,
		New: func() core.Module { return &WhatsApp{} },
	}
}

// Configure implements core.Configurable.
func (w *WhatsApp) Configure(node *yaml.Node) error {
	if err := node.Decode(&w.config); err != nil {
		return fmt.Errorf("whatsapp: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (w *WhatsApp) Provision(ctx *core.AppContext) error {
	w.config.defaults(ctx.DataDir)
	w.logger = ctx.Logger.With("channel", w.config.ChannelID)

	w.driver = newDriver(&w.config, w.logger, w.newTransport)
	w.Base = channel.NewBaseFromContext(ctx, w.config.ChannelID, w.driver, w.config.AllowList.Build())
	w.driver.setSink(w.Base)
	return channel.Publish(ctx, w)
}

// Validate implements core.Validator.
func (w *WhatsApp) Validate() error {
	return w.config.validate()
}

// Start implements core.Starter. The device store is opened here, and a
// stored session is dialed right away when auto_connect is set.
func (w *WhatsApp) Start() error {
	ctx := context.Background()
	configureDeviceProps(&w.config)
	if err := w.driver.open(ctx); err != nil {
		return err
	}
	w.StartEvents()

	if !*w.config.AutoConnect {
		return nil
	}
	if !w.driver.HasSession() {
		w.logger.Info("whatsapp device not linked, waiting for interactive login")
		return nil
	}
	if err := w.Connect(ctx); err != nil {
		// The adapter stays Disconnected; an operator can retry.
		w.logger.Warn("whatsapp auto-connect failed", "error", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (w *WhatsApp) Stop(ctx context.Context) error {
	err := w.Close(ctx)

	w.storeMu.Lock()
	defer w.storeMu.Unlock()
	if cerr := w.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	w.store = nil
	return err
}

// Reload implements core.Reloader. Only the allow-list is applied live.
func (w *WhatsApp) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(moduleID)
	if !ok {
		return nil
	}
	var next Config
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("whatsapp: decode config: %w", err)
	}
	next.defaults(ctx.DataDir)
	if err := next.validate(); err != nil {
		return err
	}
	if next.ChannelID != w.config.ChannelID {
		w.logger.Warn("whatsapp channel_id change requires a restart", "current", w.config.ChannelID, "configured", next.ChannelID)
	}
	w.SetAllowList(next.AllowList.Build())
	w.logger.Info("whatsapp allow-list reloaded",
		"users", len(next.AllowList.Users),
		"groups", len(next.AllowList.Groups),
	)
	return nil
}

// newTransport opens the device store on first use and wraps the stored
// device, or a fresh one after a logout, in a client.
func (w *WhatsApp) newTransport(ctx context.Context) (transport, error) {
	w.storeMu.Lock()
	defer w.storeMu.Unlock()

	waLogger := newLogAdapter(w.logger, w.config.LogLevel)
	if w.store == nil {
		s, err := openDeviceStore(ctx, w.config.DatabasePath, waLogger.Sub("store"))
		if err != nil {
			return nil, err
		}
		w.store = s
	}
	dev, err := w.store.device(ctx)
	if err != nil {
		return nil, err
	}
	return newMeowClient(dev, &w.config, waLogger.Sub("client")), nil
}
