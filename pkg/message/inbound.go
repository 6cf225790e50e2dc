package message

import (
	"slices"
	"strconv"
	"time"
)

// InboundMessage is a message received from a channel, already normalized.
// It is created once by the channel's normalizer and never mutated after
// that; handlers receive their own copy.
type InboundMessage struct {
	ExternalID  string            `json:"external_id"`
	Channel     string            `json:"channel"`
	SenderID    string            `json:"sender_id"`
	ChatID      string            `json:"chat_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	Content     string            `json:"content"`
	ContentType ContentType       `json:"content_type"`
	Timestamp   time.Time         `json:"timestamp"`
	IsFromMe    bool              `json:"is_from_me,omitempty"`
	IsGroup     bool              `json:"is_group,omitempty"`
	IsForwarded bool              `json:"is_forwarded,omitempty"`
	Mentions    []string          `json:"mentions,omitempty"`
	ReplyTo     *ReplyTo          `json:"reply_to,omitempty"`
	Reaction    *Reaction         `json:"reaction,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ReplyTo describes the message an inbound message quotes.
type ReplyTo struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id,omitempty"`
	QuotedText string `json:"quoted_text,omitempty"`
}

// Reaction is sender-authored reaction content targeting another message.
// An empty Emoji means the reaction was removed.
type Reaction struct {
	Emoji           string    `json:"emoji"`
	TargetMessageID string    `json:"target_message_id"`
	SenderID        string    `json:"sender_id"`
	Timestamp       time.Time `json:"timestamp"`
}

// SetMeta sets a metadata entry, allocating the map on first use.
func (m *InboundMessage) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// Meta returns the metadata value for key, or "" when absent.
func (m *InboundMessage) Meta(key string) string {
	return m.Metadata[key]
}

// SetGroup sets IsGroup and mirrors it into metadata[is_group].
func (m *InboundMessage) SetGroup(isGroup bool) {
	m.IsGroup = isGroup
	m.SetMeta(MetaIsGroup, strconv.FormatBool(isGroup))
}

// SetReplyTo records reply context both as a structured field and as the
// reply_to_id / quoted_text metadata entries.
func (m *InboundMessage) SetReplyTo(r ReplyTo) {
	m.ReplyTo = &r
	m.SetMeta(MetaReplyToID, r.MessageID)
	m.SetMeta(MetaQuotedText, r.QuotedText)
}

// HasMedia reports whether the message carries at least one attachment.
func (m *InboundMessage) HasMedia() bool {
	return len(m.Attachments) > 0
}

// Clone returns a deep copy safe to retain without aliasing the original.
func (m InboundMessage) Clone() InboundMessage {
	cp := m
	cp.Mentions = slices.Clone(m.Mentions)
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		cp.ReplyTo = &r
	}
	if m.Reaction != nil {
		r := *m.Reaction
		cp.Reaction = &r
	}
	if m.Attachments != nil {
		cp.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			cp.Attachments[i] = a.Clone()
		}
	}
	cp.Metadata = cloneMetadata(m.Metadata)
	return cp
}
