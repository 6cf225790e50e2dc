package meta

import (
	"encoding/json"
	"time"
)

// webhookPayload is the body Meta posts for page and instagram objects.
type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
	Standby   []messagingEvent `json:"standby"`
	Changes   []webhookChange  `json:"changes"`
}

// webhookChange is the field/value form Instagram uses for some
// subscriptions. Only the "messages" field is read.
type webhookChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// events flattens every messaging event of the entry.
func (e webhookEntry) events() []messagingEvent {
	out := make([]messagingEvent, 0, len(e.Messaging)+len(e.Standby))
	out = append(out, e.Messaging...)
	out = append(out, e.Standby...)
	for _, c := range e.Changes {
		if c.Field != "messages" {
			continue
		}
		var ev messagingEvent
		if err := json.Unmarshal(c.Value, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

type messagingEvent struct {
	Sender    participant `json:"sender"`
	Recipient participant `json:"recipient"`
	// Timestamp is in milliseconds.
	Timestamp int64           `json:"timestamp"`
	Message   *eventMessage   `json:"message,omitempty"`
	Delivery  *eventWatermark `json:"delivery,omitempty"`
	Read      *eventWatermark `json:"read,omitempty"`
	Postback  *eventPostback  `json:"postback,omitempty"`
	Reaction  *eventReaction  `json:"reaction,omitempty"`
}

func (e messagingEvent) time() time.Time {
	if e.Timestamp == 0 {
		return time.Now()
	}
	return time.UnixMilli(e.Timestamp)
}

type participant struct {
	ID string `json:"id"`
}

type eventMessage struct {
	MID         string            `json:"mid"`
	Text        string            `json:"text"`
	IsEcho      bool              `json:"is_echo"`
	IsDeleted   bool              `json:"is_deleted"`
	Attachments []eventAttachment `json:"attachments"`
	QuickReply  *struct {
		Payload string `json:"payload"`
	} `json:"quick_reply,omitempty"`
	ReplyTo *struct {
		MID string `json:"mid"`
	} `json:"reply_to,omitempty"`
}

type eventAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL         string `json:"url"`
		StickerID   int64  `json:"sticker_id"`
		Title       string `json:"title"`
		Coordinates *struct {
			Lat  float64 `json:"lat"`
			Long float64 `json:"long"`
		} `json:"coordinates,omitempty"`
	} `json:"payload"`
}

// eventWatermark is a delivery or read notification. Every message sent
// before Watermark is covered; MIDs lists some of them explicitly.
type eventWatermark struct {
	MIDs      []string `json:"mids"`
	MID       string   `json:"mid"`
	Watermark int64    `json:"watermark"`
}

type eventPostback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type eventReaction struct {
	MID      string `json:"mid"`
	Action   string `json:"action"`
	Reaction string `json:"reaction"`
	Emoji    string `json:"emoji"`
}

// sendRequest is the body of POST /{account}/messages.
type sendRequest struct {
	Recipient     participant   `json:"recipient"`
	MessagingType string        `json:"messaging_type,omitempty"`
	Message       *sendMessage  `json:"message,omitempty"`
	SenderAction  string        `json:"sender_action,omitempty"`
	Payload       *reactPayload `json:"payload,omitempty"`
}

type sendMessage struct {
	Text       string          `json:"text,omitempty"`
	Attachment *sendAttachment `json:"attachment,omitempty"`
}

type sendAttachment struct {
	Type    string            `json:"type"`
	Payload attachmentPayload `json:"payload"`
}

type attachmentPayload struct {
	URL          string `json:"url,omitempty"`
	AttachmentID string `json:"attachment_id,omitempty"`
	IsReusable   bool   `json:"is_reusable,omitempty"`
}

type reactPayload struct {
	MessageID string `json:"message_id"`
	Reaction  string `json:"reaction,omitempty"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

type accountInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

func (a accountInfo) display() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Username
}
