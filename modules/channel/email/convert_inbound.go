package email

import (
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Inbound metadata keys.
const (
	metaTo        = "to"
	metaInReplyTo = "in_reply_to"
	metaSender    = "sender"
)

// inboundMail is a parsed inbound route post.
type inboundMail struct {
	fields      map[string]string
	attachments []message.Attachment
}

func (m inboundMail) get(key string) string { return m.fields[key] }

// convertInbound maps an inbound mail. It reports false when no sender
// address can be found.
func convertInbound(in inboundMail, now time.Time) (message.InboundMessage, bool) {
	senderID, name := parseSender(in.get("from"))
	if senderID == "" {
		senderID, _ = parseSender(in.get("sender"))
	}
	if senderID == "" {
		return message.InboundMessage{}, false
	}

	content := in.get("stripped-text")
	if content == "" {
		content = in.get("body-plain")
	}
	msg := message.InboundMessage{
		ExternalID:  bareID(in.get("Message-Id")),
		SenderID:    senderID,
		ChatID:      senderID,
		SenderName:  name,
		Content:     strings.TrimSpace(content),
		ContentType: message.ContentText,
		Timestamp:   now,
	}
	if ts, err := strconv.ParseInt(in.get("timestamp"), 10, 64); err == nil {
		msg.Timestamp = time.Unix(ts, 0)
	}
	msg.SetGroup(false)
	msg.SetMeta(metaSubject, in.get("subject"))
	msg.SetMeta(metaTo, in.get("recipient"))
	if s := in.get("sender"); s != "" {
		msg.SetMeta(metaSender, s)
	}
	if refs := in.get("References"); refs != "" {
		msg.SetMeta(metaReferences, refs)
	}
	if parent := in.get("In-Reply-To"); parent != "" {
		msg.SetMeta(metaInReplyTo, parent)
		msg.SetReplyTo(message.ReplyTo{MessageID: bareID(parent)})
	}
	if msg.ExternalID == "" {
		msg.ExternalID = in.get("token")
	}

	if len(in.attachments) > 0 {
		msg.Attachments = in.attachments
		msg.ContentType = channel.ContentTypeFor(in.attachments[0].Type)
		msg.Attachments[0].Caption = msg.Content
	}
	return msg, true
}

// parseSender returns the bare address and display name of a From value.
func parseSender(raw string) (string, string) {
	if raw == "" {
		return "", ""
	}
	a, err := mail.ParseAddress(raw)
	if err != nil {
		return "", ""
	}
	return strings.ToLower(a.Address), a.Name
}

// event is a delivery event post.
type event struct {
	Signature signature `json:"signature"`
	EventData struct {
		Event     string  `json:"event"`
		Timestamp float64 `json:"timestamp"`
		Recipient string  `json:"recipient"`
		Severity  string  `json:"severity"`
		Reason    string  `json:"reason"`
		Message   struct {
			Headers struct {
				MessageID string `json:"message-id"`
			} `json:"headers"`
		} `json:"message"`
	} `json:"event-data"`
}

type signature struct {
	Timestamp string `json:"timestamp"`
	Token     string `json:"token"`
	Signature string `json:"signature"`
}

// convertEvent maps delivered and opened events to receipts.
func convertEvent(ev event) (message.DeliveryReceipt, bool) {
	var kind string
	switch ev.EventData.Event {
	case "delivered":
		kind = "delivered"
	case "opened":
		kind = "read"
	default:
		return message.DeliveryReceipt{}, false
	}
	id := bareID(ev.EventData.Message.Headers.MessageID)
	if id == "" {
		return message.DeliveryReceipt{}, false
	}
	var ts time.Time
	if ev.EventData.Timestamp > 0 {
		sec := int64(ev.EventData.Timestamp)
		ts = time.Unix(sec, int64((ev.EventData.Timestamp-float64(sec))*1e9))
	}
	rcpt := strings.ToLower(ev.EventData.Recipient)
	return channel.NewReceipt([]string{id}, rcpt, rcpt, kind, ts), true
}
