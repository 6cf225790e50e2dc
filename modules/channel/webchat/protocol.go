package webchat

import (
	"encoding/json"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

// frameType identifies the kind of frame exchanged with the widget.
type frameType string

const (
	// frameConnect is the first frame the server writes on a socket.
	frameConnect  frameType = "connect"
	frameMessage  frameType = "message"
	frameTyping   frameType = "typing"
	frameRead     frameType = "read"
	frameAck      frameType = "ack"
	framePresence frameType = "presence"
	frameError    frameType = "error"
)

// envelope is the wire format of every frame. On visitor messages ID is
// the client's own id and is echoed back in the ack.
type envelope struct {
	Type      frameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type connectPayload struct {
	SessionID        string `json:"session_id"`
	Welcome          string `json:"welcome,omitempty"`
	MaxMessageLength int    `json:"max_message_length"`
}

type messagePayload struct {
	ContentType message.ContentType `json:"content_type,omitempty"`
	Content     string              `json:"content,omitempty"`
	SenderName  string              `json:"sender_name,omitempty"`
	ReplyToID   string              `json:"reply_to_id,omitempty"`
	Attachments []frameAttachment   `json:"attachments,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

// frameAttachment carries media by URL or inline. Data is base64 on the
// wire.
type frameAttachment struct {
	Type      message.AttachmentType `json:"type,omitempty"`
	URL       string                 `json:"url,omitempty"`
	Data      []byte                 `json:"data,omitempty"`
	MIMEType  string                 `json:"mime_type,omitempty"`
	Filename  string                 `json:"filename,omitempty"`
	Caption   string                 `json:"caption,omitempty"`
	SizeBytes int64                  `json:"size_bytes,omitempty"`
}

type typingPayload struct {
	IsTyping bool `json:"is_typing"`
}

// readPayload lists the ids of messages the sender has read.
type readPayload struct {
	MessageIDs []string `json:"message_ids"`
}

// ackPayload confirms a message. From the server it carries the id
// assigned to the visitor's message; from the widget, the id of the
// server message it received.
type ackPayload struct {
	MessageID string `json:"message_id"`
}

type presencePayload struct {
	State string `json:"state"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func newEnvelope(t frameType, id string, payload any) (envelope, error) {
	env := envelope{Type: t, ID: id, Timestamp: time.Now().UTC()}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}
	env.Payload = raw
	return env, nil
}
