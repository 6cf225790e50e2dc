package meta

import (
	"errors"
	"fmt"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// messagingTypeResponse is valid inside the 24 hour window opened by the
// user's last message. Callers override it with metadata[messaging_type].
const (
	messagingTypeResponse = "RESPONSE"
	metaMessagingType     = "messaging_type"
)

var errNeedsMediaURL = errors.New("media must be sent by URL on this platform")

// buildSendRequest converts msg to a Graph send request. Attachments that
// carry only inline data must have been uploaded first and carry MediaID.
func buildSendRequest(p *platform, msg message.OutboundMessage) (sendRequest, error) {
	req := sendRequest{
		Recipient:     participant{ID: msg.RecipientID},
		MessagingType: messagingTypeResponse,
	}
	if mt := msg.Metadata[metaMessagingType]; mt != "" {
		req.MessagingType = mt
	}

	switch msg.ContentType {
	case message.ContentText, "":
		req.Message = &sendMessage{Text: msg.Content}
	case message.ContentImage, message.ContentVideo, message.ContentAudio, message.ContentDocument:
		a := msg.FirstAttachment()
		if a == nil {
			return sendRequest{}, &channel.InvalidOutboundMessageError{Field: "attachments"}
		}
		payload := attachmentPayload{URL: a.URL, AttachmentID: a.MediaID}
		switch {
		case payload.AttachmentID != "":
			payload.URL = ""
		case payload.URL != "":
			payload.IsReusable = true
		default:
			return sendRequest{}, fmt.Errorf("%s: %w", p.name, errNeedsMediaURL)
		}
		req.Message = &sendMessage{Attachment: &sendAttachment{
			Type:    attachmentKind(msg.ContentType),
			Payload: payload,
		}}
	case message.ContentReaction:
		if p != instagram {
			return sendRequest{}, fmt.Errorf("%w: reactions on %s", channel.ErrNotSupported, p.name)
		}
		req.MessagingType = ""
		req.SenderAction = "react"
		req.Payload = &reactPayload{MessageID: msg.ReplyToID, Reaction: "love"}
	default:
		return sendRequest{}, fmt.Errorf("%w: %s content on %s", channel.ErrNotSupported, msg.ContentType, p.name)
	}
	return req, nil
}

// attachmentKind maps a content type onto the Send API attachment type.
func attachmentKind(ct message.ContentType) string {
	switch ct {
	case message.ContentImage:
		return "image"
	case message.ContentVideo:
		return "video"
	case message.ContentAudio:
		return "audio"
	default:
		return "file"
	}
}

// senderAction builds a typing_on, typing_off or mark_seen request.
func senderAction(recipient, action string) sendRequest {
	return sendRequest{Recipient: participant{ID: recipient}, SenderAction: action}
}
