package channel

import (
	"slices"
	"strings"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

// ConvertReceiptType maps a provider receipt type string onto a ReceiptType.
// Unrecognized values are treated as delivered.
func ConvertReceiptType(raw string) message.ReceiptType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "read", "read-self", "read_self":
		return message.ReceiptRead
	case "played", "played-self", "played_self":
		return message.ReceiptPlayed
	default:
		return message.ReceiptDelivered
	}
}

// NewReceipt builds one DeliveryReceipt for a provider batch. Empty ids are
// dropped; the order of the rest is kept.
func NewReceipt(ids []string, chatID, senderID, rawType string, ts time.Time) message.DeliveryReceipt {
	kept := slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return id == "" })
	if ts.IsZero() {
		ts = time.Now()
	}
	return message.DeliveryReceipt{
		MessageIDs: kept,
		ChatID:     chatID,
		SenderID:   senderID,
		Type:       ConvertReceiptType(rawType),
		Timestamp:  ts,
	}
}

// ContentTypeFor maps an attachment type onto the content type of the
// message carrying it. Stickers are images.
func ContentTypeFor(t message.AttachmentType) message.ContentType {
	switch t {
	case message.AttachmentImage, message.AttachmentSticker:
		return message.ContentImage
	case message.AttachmentVideo:
		return message.ContentVideo
	case message.AttachmentAudio:
		return message.ContentAudio
	case message.AttachmentLocation:
		return message.ContentLocation
	default:
		return message.ContentDocument
	}
}

// ValidateOutbound checks that msg carries the fields its content type
// requires.
func ValidateOutbound(msg message.OutboundMessage) error {
	if msg.RecipientID == "" {
		return &InvalidOutboundMessageError{Field: "recipient_id"}
	}
	switch msg.ContentType {
	case message.ContentText, "":
		if strings.TrimSpace(msg.Content) == "" {
			return &InvalidOutboundMessageError{Field: "content"}
		}
	case message.ContentLocation:
		if msg.Location == nil || msg.Location.Latitude == nil {
			return &InvalidOutboundMessageError{Field: "latitude"}
		}
		if msg.Location.Longitude == nil {
			return &InvalidOutboundMessageError{Field: "longitude"}
		}
	case message.ContentImage, message.ContentVideo, message.ContentAudio, message.ContentDocument:
		if len(msg.Attachments) == 0 {
			return &InvalidOutboundMessageError{Field: "attachments"}
		}
	case message.ContentReaction:
		if msg.ReplyToID == "" {
			return &InvalidOutboundMessageError{Field: "reply_to_id"}
		}
		if msg.Content == "" {
			return &InvalidOutboundMessageError{Field: "content"}
		}
	case message.ContentContact:
		if msg.Content == "" && msg.Metadata[message.MetaVCard] == "" {
			return &InvalidOutboundMessageError{Field: "vcard"}
		}
	}
	return nil
}
