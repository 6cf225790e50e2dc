package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// The interfaces below are optional. LoadModule and App check for each one
// and call it at its point in the lifecycle:
//
//	New → Configure → Provision → Validate → Start → (Reload)* → Stop

// Configurable modules receive their section of the config file. Configure
// is only called when the section exists.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules fill defaults, look up services published by modules
// loaded earlier and publish their own.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their final configuration. Validate must not
// have side effects.
type Validator interface {
	Validate() error
}

// Starter modules begin background work: listeners, connections, pollers.
type Starter interface {
	Start() error
}

// Stopper modules release what Provision and Start acquired. Stop may be
// called on a module that never started.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader modules apply a new configuration section while running.
type Reloader interface {
	Reload(ctx *AppContext) error
}
