package rcs

import (
	"strings"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Metadata keys specific to RCS.
const (
	metaAgentID        = "agent_id"
	metaPostbackData   = "postback_data"
	metaSuggestionType = "suggestion_type"
)

func (e *userEvent) isMessage() bool {
	return e.EventType == "" && e.MessageID != ""
}

func (e *userEvent) timestamp(fallback time.Time) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, e.SendTime); err == nil {
		return ts
	}
	return fallback
}

// convertMessage maps a user message. It reports false when the event has
// no sender or carries nothing the channel understands.
func convertMessage(e *userEvent, now time.Time) (message.InboundMessage, bool) {
	if e.SenderPhoneNumber == "" || e.MessageID == "" {
		return message.InboundMessage{}, false
	}
	msg := message.InboundMessage{
		ExternalID:  e.MessageID,
		SenderID:    e.SenderPhoneNumber,
		ChatID:      e.SenderPhoneNumber,
		ContentType: message.ContentText,
		Timestamp:   e.timestamp(now),
	}
	msg.SetGroup(false)
	if e.AgentID != "" {
		msg.SetMeta(metaAgentID, e.AgentID)
	}
	if e.Context != nil && e.Context.UserInfo != nil && e.Context.UserInfo.DisplayName != "" {
		msg.SenderName = e.Context.UserInfo.DisplayName
		msg.SetMeta(message.MetaPushName, msg.SenderName)
	}

	switch {
	case e.Text != "":
		msg.Content = e.Text
	case e.SuggestionResponse != nil:
		r := e.SuggestionResponse
		msg.Content = r.Text
		msg.SetMeta(metaPostbackData, r.PostbackData)
		msg.SetMeta(metaSuggestionType, strings.ToLower(r.Type))
	case e.Location != nil:
		msg.ContentType = message.ContentLocation
		msg.Attachments = []message.Attachment{{
			Type:      message.AttachmentLocation,
			Latitude:  e.Location.Latitude,
			Longitude: e.Location.Longitude,
		}}
	case e.UserFile != nil && e.UserFile.Payload.FileURI != "":
		p := e.UserFile.Payload
		mt := channel.NormalizeMIME(p.MimeType)
		name := p.FileName
		if name == "" {
			name = channel.FilenameFor(e.MessageID, mt)
		}
		a := message.Attachment{
			Type:      channel.ClassifyInbound(mt),
			URL:       p.FileURI,
			MediaID:   p.FileURI,
			MIMEType:  mt,
			SizeBytes: p.FileSizeBytes,
			Filename:  name,
		}
		msg.ContentType = channel.ContentTypeFor(a.Type)
		msg.Attachments = []message.Attachment{a}
	default:
		return message.InboundMessage{}, false
	}
	return msg, true
}

// convertReceipt maps DELIVERED and READ events for agent messages.
func convertReceipt(e *userEvent, now time.Time) (message.DeliveryReceipt, bool) {
	if e.MessageID == "" || e.SenderPhoneNumber == "" {
		return message.DeliveryReceipt{}, false
	}
	switch e.EventType {
	case eventDelivered, eventRead:
	default:
		return message.DeliveryReceipt{}, false
	}
	phone := e.SenderPhoneNumber
	return channel.NewReceipt([]string{e.MessageID}, phone, phone, strings.ToLower(e.EventType), e.timestamp(now)), true
}
