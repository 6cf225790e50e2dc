package message

import (
	"slices"
	"time"
)

// OutboundMessage is a message to be sent through a channel. It is consumed
// once by Send and not retained afterwards.
type OutboundMessage struct {
	RecipientID string            `json:"recipient_id"`
	Content     string            `json:"content,omitempty"`
	ContentType ContentType       `json:"content_type"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Location    *Location         `json:"location,omitempty"`
	ReplyToID   string            `json:"reply_to_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Location is a geographic point attached to an outbound location message.
type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Name      string   `json:"name,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// NewTextMessage creates an outbound text message.
func NewTextMessage(recipient, text string) OutboundMessage {
	return OutboundMessage{
		RecipientID: recipient,
		Content:     text,
		ContentType: ContentText,
	}
}

// NewLocationMessage creates an outbound location message.
func NewLocationMessage(recipient string, lat, lon float64, name string) OutboundMessage {
	return OutboundMessage{
		RecipientID: recipient,
		ContentType: ContentLocation,
		Content:     name,
		Location:    &Location{Latitude: &lat, Longitude: &lon, Name: name},
	}
}

// FirstAttachment returns the first attachment, or nil if there is none.
func (m *OutboundMessage) FirstAttachment() *Attachment {
	if len(m.Attachments) == 0 {
		return nil
	}
	return &m.Attachments[0]
}

// Clone returns a deep copy of the message.
func (m OutboundMessage) Clone() OutboundMessage {
	cp := m
	if m.Attachments != nil {
		cp.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			cp.Attachments[i] = a.Clone()
		}
	}
	if m.Location != nil {
		l := *m.Location
		cp.Location = &l
	}
	cp.Metadata = cloneMetadata(m.Metadata)
	return cp
}

// SendResult is the outcome of a Send call. Ordinary provider failures are
// reported here rather than as a returned error.
type SendResult struct {
	Success    bool          `json:"success"`
	ExternalID string        `json:"external_id,omitempty"`
	Status     MessageStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// SentResult builds a successful SendResult.
func SentResult(externalID string, ts time.Time) SendResult {
	return SendResult{
		Success:    true,
		ExternalID: externalID,
		Status:     StatusSent,
		Timestamp:  ts,
	}
}

// FailedResult builds a failed SendResult carrying the error text.
func FailedResult(err error) SendResult {
	res := SendResult{
		Status:    StatusFailed,
		Timestamp: time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// DeliveryReceipt is a provider-reported acknowledgment for one or more
// previously sent messages.
type DeliveryReceipt struct {
	MessageIDs []string    `json:"message_ids"`
	ChatID     string      `json:"chat_id"`
	SenderID   string      `json:"sender_id,omitempty"`
	Type       ReceiptType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
}

// MessageID returns the first message id of the batch. Single-id consumers
// only ever see this one.
func (r DeliveryReceipt) MessageID() string {
	if len(r.MessageIDs) == 0 {
		return ""
	}
	return r.MessageIDs[0]
}

// Clone returns a deep copy of the receipt.
func (r DeliveryReceipt) Clone() DeliveryReceipt {
	cp := r
	cp.MessageIDs = slices.Clone(r.MessageIDs)
	return cp
}
