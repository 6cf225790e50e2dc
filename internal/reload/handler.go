package reload

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/core"
)

// Handler re-reads the config file and hands each running module its new
// node. Modules keep the services registered at startup: the reload
// context is derived from the application's own context.
type Handler struct {
	app    *core.App
	base   *core.AppContext
	logger *slog.Logger
}

// NewHandler creates a reload handler for app, whose modules were loaded
// from base.
func NewHandler(app *core.App, base *core.AppContext) *Handler {
	return &Handler{app: app, base: base, logger: base.Logger}
}

// HandleReload loads and validates configPath, then reloads modules.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.HandleReloadFromConfig(ctx, cfg)
}

// HandleReloadFromConfig reloads modules from an already validated config.
// Adding or removing modules needs a restart; such differences are logged
// and otherwise ignored.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	added, removed := diffModules(h.app.Modules(), cfg)
	if len(added) > 0 || len(removed) > 0 {
		h.logger.Warn("module set changed, restart to apply",
			"added", added,
			"removed", removed,
		)
	}

	if err := h.app.ReloadModules(h.base.WithModuleConfigs(cfg.Modules)); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}
	h.logger.Info("configuration reloaded")
	return nil
}

func diffModules(running []core.ModuleID, cfg *config.Config) (added, removed []string) {
	have := make(map[string]bool, len(running))
	for _, id := range running {
		have[string(id)] = true
	}
	for id := range cfg.Modules {
		if !have[id] {
			added = append(added, id)
		}
		delete(have, id)
	}
	for id := range have {
		removed = append(removed, id)
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}
