package message

import "time"

// ConnectionStatus is a point-in-time snapshot of a channel's connection.
type ConnectionStatus struct {
	Connected   bool              `json:"connected"`
	Status      string            `json:"status"`
	Error       string            `json:"error,omitempty"`
	LastConnect time.Time         `json:"last_connect,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TypingIndicator asks a channel to show or clear "typing" to a recipient.
type TypingIndicator struct {
	RecipientID string `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
	// Recording switches the indicator to "recording audio" where supported.
	Recording bool `json:"recording,omitempty"`
}

// ReadReceipt asks a channel to mark a received message as read.
type ReadReceipt struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
	// SenderID is the author of the message in group chats.
	SenderID string `json:"sender_id,omitempty"`
}
