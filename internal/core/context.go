// Package core provides the module system of sbridge: a global registry of
// module constructors, the AppContext handed to modules while they are
// provisioned, and the App that drives their lifecycle.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrServiceNotFound is returned by Require when no service is registered
// under the requested name.
var ErrServiceNotFound = errors.New("service not found")

// AppContext is shared by every module of an App. Derived contexts (per
// module, or with a new set of module configs) see the same services.
type AppContext struct {
	// Logger is scoped to the module the context was derived for.
	Logger *slog.Logger

	// DataDir is the root directory for persistent module data.
	DataDir string

	root     *slog.Logger
	configs  map[string]yaml.Node
	services *services
}

type services struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewAppContext creates a root context. A nil logger means slog.Default.
func NewAppContext(logger *slog.Logger, dataDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:   logger,
		DataDir:  dataDir,
		root:     logger,
		services: &services{m: make(map[string]any)},
	}
}

// RegisterService publishes svc under name. A later registration under the
// same name replaces the earlier one.
func (ctx *AppContext) RegisterService(name string, svc any) {
	ctx.services.mu.Lock()
	defer ctx.services.mu.Unlock()
	ctx.services.m[name] = svc
}

// Service returns the service registered under name.
func (ctx *AppContext) Service(name string) (any, bool) {
	ctx.services.mu.RLock()
	defer ctx.services.mu.RUnlock()
	svc, ok := ctx.services.m[name]
	return svc, ok
}

// Lookup returns the service registered under name when it is a T.
// A nil ctx has no services.
func Lookup[T any](ctx *AppContext, name string) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	svc, ok := ctx.Service(name)
	if !ok {
		return zero, false
	}
	v, ok := svc.(T)
	return v, ok
}

// Require is Lookup for mandatory services. The error tells a missing
// service apart from one of the wrong type.
func Require[T any](ctx *AppContext, name string) (T, error) {
	var zero T
	if ctx == nil {
		return zero, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	svc, ok := ctx.Service(name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	v, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service %s is %T, want %T", name, svc, zero)
	}
	return v, nil
}

// WithModuleConfigs returns a copy of ctx carrying configs, keyed by module
// ID. Services are shared with ctx.
func (ctx *AppContext) WithModuleConfigs(configs map[string]yaml.Node) *AppContext {
	cp := *ctx
	cp.configs = configs
	return &cp
}

// ModuleConfig returns the raw configuration node of module id, if any.
func (ctx *AppContext) ModuleConfig(id string) (*yaml.Node, bool) {
	node, ok := ctx.configs[id]
	if !ok {
		return nil, false
	}
	return &node, true
}

// ForModule returns a context whose logger carries the module ID.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	return &AppContext{
		Logger:   ctx.root.With("module", string(id)),
		DataDir:  ctx.DataDir,
		root:     ctx.root,
		configs:  ctx.configs,
		services: ctx.services,
	}
}

// LoadModule builds the module registered as id and takes it through
// Configure (only when a config section exists), Provision and Validate.
func (ctx *AppContext) LoadModule(id string) (Module, error) {
	info, ok := GetModule(id)
	if !ok {
		return nil, unknownModule(id)
	}
	mod := info.New()

	if c, ok := mod.(Configurable); ok {
		if node, ok := ctx.ModuleConfig(id); ok {
			if err := c.Configure(node); err != nil {
				return nil, fmt.Errorf("configuring module %s: %w", id, err)
			}
		}
	}
	if p, ok := mod.(Provisioner); ok {
		if err := p.Provision(ctx.ForModule(info.ID)); err != nil {
			return nil, fmt.Errorf("provisioning module %s: %w", id, err)
		}
	}
	if v, ok := mod.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validating module %s: %w", id, err)
		}
	}
	return mod, nil
}

// unknownModule lists the modules of the same namespace, which is usually
// what a typo in the config was aiming for.
func unknownModule(id string) error {
	ns := ModuleID(id).Namespace()
	if ns == "" {
		return fmt.Errorf("unknown module: %s", id)
	}
	known := GetModulesByNamespace(ns)
	if len(known) == 0 {
		return fmt.Errorf("unknown module: %s", id)
	}
	names := make([]string, len(known))
	for i, m := range known {
		names[i] = string(m.ID)
	}
	return fmt.Errorf("unknown module: %s (available: %s)", id, strings.Join(names, ", "))
}
