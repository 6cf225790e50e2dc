package channeltest

import (
	"sync"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Sink records the events a driver reports. It is safe for concurrent use.
type Sink struct {
	mu          sync.Mutex
	connected   int
	disconnects []string
	loggedOut   []string
	messages    []message.InboundMessage
	receipts    []message.DeliveryReceipt
	presence    []channel.PresenceEvent
}

var _ channel.Sink = (*Sink)(nil)

// OnConnected implements channel.Sink.
func (s *Sink) OnConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected++
}

// OnDisconnected implements channel.Sink.
func (s *Sink) OnDisconnected(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, reason)
}

// OnLoggedOut implements channel.Sink.
func (s *Sink) OnLoggedOut(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = append(s.loggedOut, reason)
}

// OnMessage implements channel.Sink.
func (s *Sink) OnMessage(msg message.InboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// OnReceipt implements channel.Sink.
func (s *Sink) OnReceipt(r message.DeliveryReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
}

// OnPresence implements channel.Sink.
func (s *Sink) OnPresence(ev channel.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, ev)
}

// Connected returns how many times OnConnected was called.
func (s *Sink) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnects returns the recorded disconnect reasons.
func (s *Sink) Disconnects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.disconnects...)
}

// LoggedOut returns the recorded logout reasons.
func (s *Sink) LoggedOut() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loggedOut...)
}

// Messages returns the recorded inbound messages.
func (s *Sink) Messages() []message.InboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.InboundMessage(nil), s.messages...)
}

// Receipts returns the recorded receipts.
func (s *Sink) Receipts() []message.DeliveryReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.DeliveryReceipt(nil), s.receipts...)
}

// Presence returns the recorded presence events.
func (s *Sink) Presence() []channel.PresenceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channel.PresenceEvent(nil), s.presence...)
}

// WaitFor polls cond until it holds or timeout elapses.
func (s *Sink) WaitFor(timeout time.Duration, cond func(s *Sink) bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond(s) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond(s)
}
