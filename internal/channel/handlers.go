package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flemzord/sbridge/pkg/message"
)

// MessageHandler receives normalized inbound messages.
type MessageHandler func(ctx context.Context, msg message.InboundMessage) error

// StatusHandler receives delivery receipts for previously sent messages.
type StatusHandler func(ctx context.Context, receipt message.DeliveryReceipt) error

// ConnectionHandler is told when the connection comes up or goes down.
type ConnectionHandler func(ctx context.Context, connected bool, reason string) error

// PresenceHandler observes presence updates. It is optional.
type PresenceHandler func(ctx context.Context, ev PresenceEvent)

// ChallengeHandler observes login challenges. It is optional.
type ChallengeHandler func(ctx context.Context, c Challenge)

// LegacyStatusHandler adapts a single-id status callback. Only the first
// message id of each receipt batch is reported.
func LegacyStatusHandler(fn func(ctx context.Context, messageID string, status message.MessageStatus) error) StatusHandler {
	return func(ctx context.Context, r message.DeliveryReceipt) error {
		return fn(ctx, r.MessageID(), r.Type.Status())
	}
}

type handlerSet struct {
	message    MessageHandler
	status     StatusHandler
	connection ConnectionHandler
	presence   PresenceHandler
	challenge  ChallengeHandler
}

// Handlers is a copy-on-write registry of callbacks. Writers serialize on
// the owning adapter's lock; the dispatcher reads without locking.
type Handlers struct {
	mu  sync.Locker
	set atomic.Pointer[handlerSet]
}

func newHandlers(mu sync.Locker) *Handlers {
	h := &Handlers{mu: mu}
	h.set.Store(&handlerSet{})
	return h
}

func (h *Handlers) load() *handlerSet {
	return h.set.Load()
}

func (h *Handlers) update(fn func(s *handlerSet)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := *h.set.Load()
	fn(&next)
	h.set.Store(&next)
}

func (h *Handlers) SetMessage(fn MessageHandler) {
	h.update(func(s *handlerSet) { s.message = fn })
}

func (h *Handlers) SetStatus(fn StatusHandler) {
	h.update(func(s *handlerSet) { s.status = fn })
}

func (h *Handlers) SetConnection(fn ConnectionHandler) {
	h.update(func(s *handlerSet) { s.connection = fn })
}

func (h *Handlers) SetPresence(fn PresenceHandler) {
	h.update(func(s *handlerSet) { s.presence = fn })
}

func (h *Handlers) SetChallenge(fn ChallengeHandler) {
	h.update(func(s *handlerSet) { s.challenge = fn })
}
