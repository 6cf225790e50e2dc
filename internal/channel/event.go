package channel

import (
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

// Event is a normalized occurrence produced by a transport. The set of
// variants is closed; handlers switch on the concrete type.
type Event interface {
	isEvent()
	kind() string
}

// MessageEvent carries one inbound message.
type MessageEvent struct {
	Message message.InboundMessage
}

// ReceiptEvent carries one receipt batch.
type ReceiptEvent struct {
	Receipt message.DeliveryReceipt
}

// ConnectionEvent reports that the transport came up or went down.
type ConnectionEvent struct {
	Connected bool
	Reason    string
}

// LoggedOutEvent reports that the provider revoked the session.
type LoggedOutEvent struct {
	Reason string
}

// PresenceEvent reports a contact's availability or chat activity.
type PresenceEvent struct {
	ChatID   string
	SenderID string
	// State is provider specific: "available", "unavailable", "composing",
	// "recording" or "paused".
	State    string
	LastSeen time.Time
}

// ChallengeEvent announces a new login challenge to observers.
type ChallengeEvent struct {
	Challenge Challenge
}

func (MessageEvent) isEvent()    {}
func (ReceiptEvent) isEvent()    {}
func (ConnectionEvent) isEvent() {}
func (LoggedOutEvent) isEvent()  {}
func (PresenceEvent) isEvent()   {}
func (ChallengeEvent) isEvent()  {}

func (MessageEvent) kind() string    { return "message" }
func (ReceiptEvent) kind() string    { return "receipt" }
func (ConnectionEvent) kind() string { return "connection" }
func (LoggedOutEvent) kind() string  { return "logged_out" }
func (PresenceEvent) kind() string   { return "presence" }
func (ChallengeEvent) kind() string  { return "challenge" }
