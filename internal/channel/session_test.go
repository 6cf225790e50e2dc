package channel

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryLocker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryLocker()

	if err := l.Acquire(ctx, "wa", "a"); err != nil {
		t.Fatal(err)
	}
	// Re-acquire by the same owner refreshes.
	if err := l.Acquire(ctx, "wa", "a"); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if err := l.Acquire(ctx, "wa", "b"); !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("Acquire by b = %v, want ErrSessionLocked", err)
	}
	// Release by a non-owner is ignored.
	_ = l.Release(ctx, "wa", "b")
	if owner, _ := l.Owner("wa"); owner != "a" {
		t.Fatalf("owner = %q, want a", owner)
	}
	_ = l.Release(ctx, "wa", "a")
	if err := l.Acquire(ctx, "wa", "b"); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}
