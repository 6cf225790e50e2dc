package webchat

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Metadata keys set on inbound messages.
const (
	metaClientMessageID = "client_message_id"
	metaVisitorEmail    = "visitor_email"
)

var errEmptyMessage = errors.New("message has no content or attachments")

// toInbound normalizes a visitor message. id is the server-assigned
// message id.
func toInbound(v *visitor, id, clientID string, p messagePayload, maxLen int, ts time.Time) (message.InboundMessage, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" && len(p.Attachments) == 0 {
		return message.InboundMessage{}, errEmptyMessage
	}
	if n := utf8.RuneCountInString(content); n > maxLen {
		return message.InboundMessage{}, fmt.Errorf("message is %d characters, limit %d", n, maxLen)
	}

	msg := message.InboundMessage{
		ExternalID:  id,
		SenderID:    v.id,
		ChatID:      v.id,
		SenderName:  v.name,
		Content:     content,
		ContentType: message.ContentText,
		Timestamp:   ts,
	}
	if p.SenderName != "" {
		msg.SenderName = p.SenderName
	}
	msg.SetGroup(false)
	for k, val := range p.Metadata {
		msg.SetMeta(k, val)
	}
	if clientID != "" {
		msg.SetMeta(metaClientMessageID, clientID)
	}
	if v.email != "" {
		msg.SetMeta(metaVisitorEmail, v.email)
	}
	if p.ReplyToID != "" {
		msg.SetReplyTo(message.ReplyTo{MessageID: p.ReplyToID})
	}

	for i, fa := range p.Attachments {
		a, err := inboundAttachment(fa)
		if err != nil {
			return message.InboundMessage{}, fmt.Errorf("attachment %d: %w", i, err)
		}
		msg.Attachments = append(msg.Attachments, a)
	}
	if len(msg.Attachments) > 0 {
		msg.ContentType = channel.ContentTypeFor(msg.Attachments[0].Type)
		if msg.Content == "" {
			msg.Content = msg.Attachments[0].Caption
		}
	}
	return msg, nil
}

func inboundAttachment(fa frameAttachment) (message.Attachment, error) {
	if len(fa.Data) == 0 && fa.URL == "" {
		return message.Attachment{}, channel.ErrMissingMediaData
	}
	mt := fa.MIMEType
	switch {
	case mt != "":
	case len(fa.Data) > 0:
		mt = channel.DetectMIME(fa.Data)
	default:
		if u, err := url.Parse(fa.URL); err == nil {
			mt = mime.TypeByExtension(path.Ext(u.Path))
		}
	}
	mt = channel.NormalizeMIME(mt)

	a := message.Attachment{
		Type:      fa.Type,
		URL:       fa.URL,
		Data:      fa.Data,
		MIMEType:  mt,
		SizeBytes: fa.SizeBytes,
		Filename:  fa.Filename,
		Caption:   fa.Caption,
	}
	if a.Type == "" {
		a.Type = channel.WebchatLimits.Category(mt)
	}
	if len(a.Data) > 0 {
		a.SizeBytes = int64(len(a.Data))
	}
	if a.Filename == "" && mt != "" {
		a.Filename = channel.FilenameFor("upload", mt)
	}
	// A URL of unknown type is passed on unchecked.
	if mt == "" {
		return a, nil
	}
	if err := channel.WebchatLimits.Check(a); err != nil {
		return message.Attachment{}, err
	}
	return a, nil
}

// toFrame renders an outbound message for the widget.
func toFrame(msg message.OutboundMessage) messagePayload {
	p := messagePayload{
		ContentType: msg.ContentType,
		Content:     msg.Content,
		ReplyToID:   msg.ReplyToID,
		Metadata:    msg.Metadata,
	}
	if p.ContentType == "" {
		p.ContentType = message.ContentText
	}
	for _, a := range msg.Attachments {
		p.Attachments = append(p.Attachments, frameAttachment{
			Type:      a.Type,
			URL:       a.URL,
			Data:      a.Data,
			MIMEType:  a.MIMEType,
			Filename:  a.Filename,
			Caption:   a.Caption,
			SizeBytes: a.SizeBytes,
		})
	}
	return p
}
