package channel

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker grants exclusive ownership of a channel's provider session.
// Two adapters must never drive the same session at once.
type SessionLocker interface {
	// Acquire takes or refreshes the lease for channelID on behalf of owner.
	// It fails with ErrSessionLocked when another owner holds it.
	Acquire(ctx context.Context, channelID, owner string) error
	// Release drops the lease if owner holds it.
	Release(ctx context.Context, channelID, owner string) error
}

// MemoryLocker is an in-process SessionLocker.
type MemoryLocker struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{owners: make(map[string]string)}
}

func (l *MemoryLocker) Acquire(_ context.Context, channelID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.owners[channelID]; ok && cur != owner {
		return fmt.Errorf("%w: %s held by %s", ErrSessionLocked, channelID, cur)
	}
	l.owners[channelID] = owner
	return nil
}

func (l *MemoryLocker) Release(_ context.Context, channelID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[channelID] == owner {
		delete(l.owners, channelID)
	}
	return nil
}

// Owner returns the current holder of channelID, if any.
func (l *MemoryLocker) Owner(channelID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.owners[channelID]
	return o, ok
}
