package channel

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/flemzord/sbridge/pkg/message"
)

// Registry indexes the running adapters by channel id so the gateway can
// route sends and control requests to them.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its name.
// Returns ErrDuplicateChannel if the name is already taken.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}
	r.adapters[name] = a
	return nil
}

// Unregister removes the adapter registered under name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, name)
}

// Get returns the adapter registered under name, or false if none.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	return a, ok
}

// Send routes msg to the named channel. An unknown channel yields a failed
// result wrapping ErrNoChannel.
func (r *Registry) Send(ctx context.Context, name string, msg message.OutboundMessage) message.SendResult {
	a, ok := r.Get(name)
	if !ok {
		return message.FailedResult(fmt.Errorf("%w: %s", ErrNoChannel, name))
	}
	return a.Send(ctx, msg)
}

// Names returns the registered channel ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Statuses returns a connection snapshot for every registered channel.
func (r *Registry) Statuses() map[string]message.ConnectionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]message.ConnectionStatus, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.ConnectionStatus()
	}
	return out
}
