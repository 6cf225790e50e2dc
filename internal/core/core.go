package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// DefaultStopTimeout bounds Stop and Close when the caller's context has no
// deadline of its own.
const DefaultStopTimeout = 30 * time.Second

// App drives a set of modules through their lifecycle: load, start, reload
// and stop. Modules start in load order and stop in reverse order.
type App struct {
	ctx     *AppContext
	modules []*instance
	logger  *slog.Logger
}

type instance struct {
	id      ModuleID
	module  Module
	running bool
}

// NewApp creates an App bound to ctx.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// LoadModules builds, configures, provisions and validates each module in
// ids. On the first failure every module loaded so far is closed.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			_ = a.Close(context.Background())
			return fmt.Errorf("loading module %s: %w", id, err)
		}
		a.add(mod.ModuleInfo().ID, mod)
	}
	return nil
}

// AppendModule adds a module that was built outside the registry. It must
// be called before Start.
func (a *App) AppendModule(id string, mod Module) {
	a.add(ModuleID(id), mod)
}

func (a *App) add(id ModuleID, mod Module) {
	a.modules = append(a.modules, &instance{id: id, module: mod})
	a.logger.Debug("module loaded", "module", string(id))
}

// Module returns the loaded module with the given ID.
func (a *App) Module(id string) (Module, bool) {
	i := slices.IndexFunc(a.modules, func(in *instance) bool { return string(in.id) == id })
	if i < 0 {
		return nil, false
	}
	return a.modules[i].module, true
}

// Modules returns the loaded module IDs in load order.
func (a *App) Modules() []ModuleID {
	ids := make([]ModuleID, 0, len(a.modules))
	for _, in := range a.modules {
		ids = append(ids, in.id)
	}
	return ids
}

// Start starts every Starter in load order. When one fails, the modules
// already running are stopped before the error is returned.
func (a *App) Start() error {
	for _, in := range a.modules {
		s, ok := in.module.(Starter)
		if !ok {
			continue
		}
		if err := s.Start(); err != nil {
			a.logger.Error("module start failed", "module", string(in.id), "error", err)
			_ = a.Stop(context.Background())
			return fmt.Errorf("starting module %s: %w", in.id, err)
		}
		in.running = true
		a.logger.Info("module started", "module", string(in.id))
	}
	return nil
}

// Stop stops the running modules in reverse order. Every module is given a
// chance to stop; their errors are joined.
func (a *App) Stop(ctx context.Context) error {
	return a.stop(ctx, func(in *instance) bool { return in.running })
}

// Close stops every loaded module, running or not, and forgets them. It
// releases what Provision opened when the app never started.
func (a *App) Close(ctx context.Context) error {
	err := a.stop(ctx, func(*instance) bool { return true })
	a.modules = nil
	return err
}

func (a *App) stop(ctx context.Context, want func(*instance) bool) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultStopTimeout)
		defer cancel()
	}

	var errs []error
	for _, in := range slices.Backward(a.modules) {
		if !want(in) {
			continue
		}
		in.running = false
		s, ok := in.module.(Stopper)
		if !ok {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("module stop failed", "module", string(in.id), "error", err)
			errs = append(errs, fmt.Errorf("stopping module %s: %w", in.id, err))
			continue
		}
		a.logger.Debug("module stopped", "module", string(in.id))
	}
	return errors.Join(errs...)
}

// ReloadModules hands each Reloader its section of ctx. A failing module
// does not prevent the others from reloading.
func (a *App) ReloadModules(ctx *AppContext) error {
	var errs []error
	for _, in := range a.modules {
		r, ok := in.module.(Reloader)
		if !ok {
			continue
		}
		if err := r.Reload(ctx.ForModule(in.id)); err != nil {
			a.logger.Error("module reload failed", "module", string(in.id), "error", err)
			errs = append(errs, fmt.Errorf("reloading module %s: %w", in.id, err))
			continue
		}
		a.logger.Info("module reloaded", "module", string(in.id))
	}
	return errors.Join(errs...)
}
