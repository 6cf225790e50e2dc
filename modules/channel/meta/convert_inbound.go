package meta

import (
	"strconv"
	"strings"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Metadata keys specific to Messenger and Instagram.
const (
	metaRecipientID       = "recipient_id"
	metaQuickReplyPayload = "quick_reply_payload"
	metaPostbackPayload   = "postback_payload"
	metaStickerID         = "sticker_id"
	metaDeleted           = "deleted"
	metaPageID            = "page_id"
)

// convertEvent maps one messaging event to an InboundMessage. It reports
// false for echoes of our own sends and for events that carry no message,
// such as receipts.
func convertEvent(ev messagingEvent, pageID string) (message.InboundMessage, bool) {
	msg := message.InboundMessage{
		SenderID:  ev.Sender.ID,
		ChatID:    ev.Sender.ID,
		Timestamp: ev.time(),
	}
	msg.SetGroup(false)
	msg.SetMeta(metaRecipientID, ev.Recipient.ID)
	if pageID != "" {
		msg.SetMeta(metaPageID, pageID)
	}

	switch {
	case ev.Message != nil:
		m := ev.Message
		if m.IsEcho {
			return message.InboundMessage{}, false
		}
		msg.ExternalID = m.MID
		if m.IsDeleted {
			msg.ContentType = message.ContentText
			msg.SetMeta(metaDeleted, "true")
			return msg, true
		}
		if !convertMessage(m, &msg) {
			return message.InboundMessage{}, false
		}
		if m.ReplyTo != nil && m.ReplyTo.MID != "" {
			msg.SetReplyTo(message.ReplyTo{MessageID: m.ReplyTo.MID})
		}
		if m.QuickReply != nil {
			msg.SetMeta(metaQuickReplyPayload, m.QuickReply.Payload)
		}
	case ev.Postback != nil:
		msg.ExternalID = ev.Postback.MID
		msg.ContentType = message.ContentText
		msg.Content = ev.Postback.Title
		msg.SetMeta(metaPostbackPayload, ev.Postback.Payload)
	case ev.Reaction != nil:
		r := ev.Reaction
		msg.ExternalID = r.MID
		msg.ContentType = message.ContentReaction
		emoji := r.Emoji
		if r.Action == "unreact" {
			emoji = ""
		} else if emoji == "" {
			emoji = reactionEmoji(r.Reaction)
		}
		msg.Content = emoji
		msg.Reaction = &message.Reaction{
			Emoji:           emoji,
			TargetMessageID: r.MID,
			SenderID:        ev.Sender.ID,
			Timestamp:       msg.Timestamp,
		}
	default:
		return message.InboundMessage{}, false
	}
	return msg, true
}

// convertMessage fills text and attachments. The first attachment decides
// the content type.
func convertMessage(m *eventMessage, msg *message.InboundMessage) bool {
	msg.Content = m.Text
	msg.ContentType = message.ContentText

	for _, a := range m.Attachments {
		att, ok := convertAttachment(a)
		if !ok {
			continue
		}
		if a.Payload.StickerID != 0 {
			msg.SetMeta(message.MetaIsSticker, "true")
			msg.SetMeta(metaStickerID, strconv.FormatInt(a.Payload.StickerID, 10))
		}
		if len(msg.Attachments) == 0 {
			msg.ContentType = channel.ContentTypeFor(att.Type)
			if att.Type == message.AttachmentLocation && msg.Content == "" {
				msg.Content = att.Caption
			}
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg.Content != "" || len(msg.Attachments) > 0
}

func convertAttachment(a eventAttachment) (message.Attachment, bool) {
	switch a.Type {
	case "image":
		t := message.AttachmentImage
		if a.Payload.StickerID != 0 {
			t = message.AttachmentSticker
		}
		return message.Attachment{Type: t, URL: a.Payload.URL}, true
	case "video", "ig_reel", "reel":
		return message.Attachment{Type: message.AttachmentVideo, URL: a.Payload.URL}, true
	case "audio":
		return message.Attachment{Type: message.AttachmentAudio, URL: a.Payload.URL}, true
	case "file":
		return message.Attachment{Type: message.AttachmentDocument, URL: a.Payload.URL, Filename: a.Payload.Title}, true
	case "location":
		c := a.Payload.Coordinates
		if c == nil {
			return message.Attachment{}, false
		}
		return message.Attachment{
			Type:      message.AttachmentLocation,
			Latitude:  c.Lat,
			Longitude: c.Long,
			Caption:   a.Payload.Title,
		}, true
	default:
		// fallback, share and story_mention carry no fetchable media.
		return message.Attachment{}, false
	}
}

// convertReceipt maps delivery and read notifications. Watermark-only
// notifications name no message and are dropped.
func convertReceipt(ev messagingEvent) (message.DeliveryReceipt, bool) {
	var (
		w    *eventWatermark
		kind string
	)
	switch {
	case ev.Delivery != nil:
		w, kind = ev.Delivery, "delivered"
	case ev.Read != nil:
		w, kind = ev.Read, "read"
	default:
		return message.DeliveryReceipt{}, false
	}
	ids := w.MIDs
	if w.MID != "" {
		ids = append(ids, w.MID)
	}
	r := channel.NewReceipt(ids, ev.Sender.ID, ev.Sender.ID, kind, ev.time())
	return r, len(r.MessageIDs) > 0
}

// reactionEmoji maps Messenger's named reactions onto emoji.
func reactionEmoji(name string) string {
	switch strings.ToLower(name) {
	case "love":
		return "❤️"
	case "smile":
		return "😆"
	case "wow":
		return "😮"
	case "sad":
		return "😢"
	case "angry":
		return "😠"
	case "like":
		return "👍"
	default:
		return name
	}
}
