package channeltest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// ConnectionChange is one call to a ConnectionHandler.
type ConnectionChange struct {
	Connected bool
	Reason    string
}

// Recorder registers handlers on an adapter and records what they receive.
type Recorder struct {
	mu          sync.Mutex
	messages    []message.InboundMessage
	receipts    []message.DeliveryReceipt
	connections []ConnectionChange
	notify      chan struct{}
}

// NewRecorder creates a Recorder and registers it on a.
func NewRecorder(a channel.Adapter) *Recorder {
	r := &Recorder{notify: make(chan struct{}, 1)}
	a.SetMessageHandler(r.OnMessage)
	a.SetStatusHandler(r.OnStatus)
	a.SetConnectionHandler(r.OnConnection)
	return r
}

func (r *Recorder) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// OnMessage is a channel.MessageHandler.
func (r *Recorder) OnMessage(_ context.Context, msg message.InboundMessage) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.signal()
	return nil
}

// OnStatus is a channel.StatusHandler.
func (r *Recorder) OnStatus(_ context.Context, rc message.DeliveryReceipt) error {
	r.mu.Lock()
	r.receipts = append(r.receipts, rc)
	r.mu.Unlock()
	r.signal()
	return nil
}

// OnConnection is a channel.ConnectionHandler.
func (r *Recorder) OnConnection(_ context.Context, connected bool, reason string) error {
	r.mu.Lock()
	r.connections = append(r.connections, ConnectionChange{Connected: connected, Reason: reason})
	r.mu.Unlock()
	r.signal()
	return nil
}

// Messages returns the recorded inbound messages.
func (r *Recorder) Messages() []message.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.InboundMessage(nil), r.messages...)
}

// Receipts returns the recorded receipts.
func (r *Recorder) Receipts() []message.DeliveryReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.DeliveryReceipt(nil), r.receipts...)
}

// Connections returns the recorded connection changes.
func (r *Recorder) Connections() []ConnectionChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionChange(nil), r.connections...)
}

// WaitFor polls cond until it holds or timeout elapses.
func (r *Recorder) WaitFor(timeout time.Duration, cond func(r *Recorder) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if cond(r) {
			return true
		}
		select {
		case <-r.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline.C:
			return cond(r)
		}
	}
}
