package whatsapp

import (
	"strconv"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Metadata keys specific to WhatsApp.
const (
	metaChatJID   = "chat_jid"
	metaSenderJID = "sender_jid"
	// metaTargetSender names the author of the message an outbound reaction
	// or read receipt targets in a group.
	metaTargetSender = "target_sender"
)

// convertMessage normalizes a whatsmeow message event. It reports false for
// events with no content the gateway understands (protocol messages, polls).
// The returned mediaRef is set when the message carries downloadable media.
func convertMessage(evt *events.Message) (message.InboundMessage, *mediaRef, bool) {
	if evt == nil || evt.Message == nil {
		return message.InboundMessage{}, nil, false
	}
	info := evt.Info
	wm := evt.Message
	id := string(info.ID)

	msg := message.InboundMessage{
		ExternalID: id,
		SenderID:   info.Sender.User,
		ChatID:     info.Chat.String(),
		SenderName: info.PushName,
		Timestamp:  info.Timestamp,
		IsFromMe:   info.IsFromMe,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.SetMeta(metaChatJID, info.Chat.String())
	msg.SetMeta(metaSenderJID, info.Sender.String())
	if info.PushName != "" {
		msg.SetMeta(message.MetaPushName, info.PushName)
	}
	msg.SetGroup(info.IsGroup || info.Chat.Server == types.GroupServer)

	var ref *mediaRef
	switch {
	case wm.GetConversation() != "":
		msg.ContentType = message.ContentText
		msg.Content = wm.GetConversation()

	case wm.GetExtendedTextMessage() != nil:
		msg.ContentType = message.ContentText
		msg.Content = wm.GetExtendedTextMessage().GetText()

	case wm.GetImageMessage() != nil:
		img := wm.GetImageMessage()
		msg.ContentType = message.ContentImage
		msg.Content = img.GetCaption()
		att := mediaAttachment(message.AttachmentImage, id, img)
		att.Caption = img.GetCaption()
		att.Width = int(img.GetWidth())
		att.Height = int(img.GetHeight())
		att.Thumbnail = img.GetJPEGThumbnail()
		msg.Attachments = append(msg.Attachments, att)
		ref = &mediaRef{id: id, msg: img, mimeType: att.MIMEType}

	case wm.GetStickerMessage() != nil:
		st := wm.GetStickerMessage()
		msg.ContentType = message.ContentImage
		msg.SetMeta(message.MetaIsSticker, "true")
		att := mediaAttachment(message.AttachmentSticker, id, st)
		att.Width = int(st.GetWidth())
		att.Height = int(st.GetHeight())
		if att.MIMEType == "" {
			att.MIMEType = "image/webp"
		}
		msg.Attachments = append(msg.Attachments, att)
		ref = &mediaRef{id: id, msg: st, mimeType: att.MIMEType}

	case wm.GetVideoMessage() != nil:
		vid := wm.GetVideoMessage()
		msg.ContentType = message.ContentVideo
		msg.Content = vid.GetCaption()
		att := mediaAttachment(message.AttachmentVideo, id, vid)
		att.Caption = vid.GetCaption()
		att.Width = int(vid.GetWidth())
		att.Height = int(vid.GetHeight())
		att.Duration = time.Duration(vid.GetSeconds()) * time.Second
		att.Thumbnail = vid.GetJPEGThumbnail()
		msg.Attachments = append(msg.Attachments, att)
		ref = &mediaRef{id: id, msg: vid, mimeType: att.MIMEType}

	case wm.GetAudioMessage() != nil:
		aud := wm.GetAudioMessage()
		msg.ContentType = message.ContentAudio
		if aud.GetPTT() {
			msg.SetMeta(message.MetaIsPTT, "true")
		}
		att := mediaAttachment(message.AttachmentAudio, id, aud)
		att.Duration = time.Duration(aud.GetSeconds()) * time.Second
		msg.Attachments = append(msg.Attachments, att)
		ref = &mediaRef{id: id, msg: aud, mimeType: att.MIMEType}

	case wm.GetDocumentMessage() != nil:
		doc := wm.GetDocumentMessage()
		msg.ContentType = message.ContentDocument
		msg.Content = doc.GetCaption()
		att := mediaAttachment(message.AttachmentDocument, id, doc)
		att.Caption = doc.GetCaption()
		att.Filename = doc.GetFileName()
		att.Thumbnail = doc.GetJPEGThumbnail()
		msg.Attachments = append(msg.Attachments, att)
		ref = &mediaRef{id: id, msg: doc, mimeType: att.MIMEType, filename: att.Filename}

	case wm.GetLocationMessage() != nil:
		loc := wm.GetLocationMessage()
		msg.ContentType = message.ContentLocation
		msg.Content = loc.GetName()
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentLocation,
			Caption:   loc.GetAddress(),
			Filename:  loc.GetName(),
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
			Thumbnail: loc.GetJPEGThumbnail(),
		})

	case wm.GetContactMessage() != nil:
		c := wm.GetContactMessage()
		msg.ContentType = message.ContentContact
		msg.Content = c.GetDisplayName()
		if v := c.GetVcard(); v != "" {
			msg.SetMeta(message.MetaVCard, v)
		}

	case wm.GetReactionMessage() != nil:
		r := wm.GetReactionMessage()
		msg.ContentType = message.ContentReaction
		msg.Content = r.GetText()
		msg.Reaction = &message.Reaction{
			Emoji:           r.GetText(),
			TargetMessageID: r.GetKey().GetID(),
			SenderID:        info.Sender.User,
			Timestamp:       msg.Timestamp,
		}

	default:
		return message.InboundMessage{}, nil, false
	}

	applyContextInfo(&msg, contextInfoOf(wm))
	return msg, ref, true
}

// downloadable is the metadata every whatsmeow media message exposes.
type downloadable interface {
	whatsmeow.DownloadableMessage
	GetURL() string
	GetMimetype() string
	GetFileLength() uint64
}

func mediaAttachment(t message.AttachmentType, id string, m downloadable) message.Attachment {
	mt := m.GetMimetype()
	if mt != "" {
		mt = channel.NormalizeMIME(mt)
	}
	return message.Attachment{
		Type:          t,
		URL:           m.GetURL(),
		MIMEType:      mt,
		SizeBytes:     int64(m.GetFileLength()),
		MediaID:       id,
		DirectPath:    m.GetDirectPath(),
		MediaKey:      m.GetMediaKey(),
		FileSHA256:    m.GetFileSHA256(),
		FileEncSHA256: m.GetFileEncSHA256(),
	}
}

// contextInfoOf returns the ContextInfo of whichever content the message
// carries, or nil.
func contextInfoOf(wm *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case wm.GetExtendedTextMessage() != nil:
		return wm.GetExtendedTextMessage().GetContextInfo()
	case wm.GetImageMessage() != nil:
		return wm.GetImageMessage().GetContextInfo()
	case wm.GetStickerMessage() != nil:
		return wm.GetStickerMessage().GetContextInfo()
	case wm.GetVideoMessage() != nil:
		return wm.GetVideoMessage().GetContextInfo()
	case wm.GetAudioMessage() != nil:
		return wm.GetAudioMessage().GetContextInfo()
	case wm.GetDocumentMessage() != nil:
		return wm.GetDocumentMessage().GetContextInfo()
	case wm.GetLocationMessage() != nil:
		return wm.GetLocationMessage().GetContextInfo()
	case wm.GetContactMessage() != nil:
		return wm.GetContactMessage().GetContextInfo()
	}
	return nil
}

func applyContextInfo(msg *message.InboundMessage, ci *waE2E.ContextInfo) {
	if ci == nil {
		return
	}
	if id := ci.GetStanzaID(); id != "" {
		msg.SetReplyTo(message.ReplyTo{
			MessageID:  id,
			SenderID:   userOf(ci.GetParticipant()),
			QuotedText: quotedText(ci.GetQuotedMessage()),
		})
	}
	for _, jid := range ci.GetMentionedJID() {
		if u := userOf(jid); u != "" {
			msg.Mentions = append(msg.Mentions, u)
		}
	}
	msg.IsForwarded = ci.GetIsForwarded()
	if score := ci.GetForwardingScore(); score > 0 {
		msg.SetMeta("forwarding_score", strconv.FormatUint(uint64(score), 10))
	}
}

// quotedText extracts readable text from a quoted message, best effort.
func quotedText(q *waE2E.Message) string {
	switch {
	case q == nil:
		return ""
	case q.GetConversation() != "":
		return q.GetConversation()
	case q.GetExtendedTextMessage() != nil:
		return q.GetExtendedTextMessage().GetText()
	case q.GetImageMessage() != nil:
		return q.GetImageMessage().GetCaption()
	case q.GetVideoMessage() != nil:
		return q.GetVideoMessage().GetCaption()
	case q.GetDocumentMessage() != nil:
		return q.GetDocumentMessage().GetCaption()
	case q.GetLocationMessage() != nil:
		return q.GetLocationMessage().GetName()
	case q.GetContactMessage() != nil:
		return q.GetContactMessage().GetDisplayName()
	}
	return ""
}

// userOf returns the user part of a JID string, or the input when it does
// not parse.
func userOf(raw string) string {
	if raw == "" {
		return ""
	}
	jid, err := types.ParseJID(raw)
	if err != nil || jid.User == "" {
		return raw
	}
	return jid.User
}

// convertReceipt turns one whatsmeow receipt batch into one DeliveryReceipt.
func convertReceipt(evt *events.Receipt) message.DeliveryReceipt {
	ids := make([]string, len(evt.MessageIDs))
	for i, id := range evt.MessageIDs {
		ids[i] = string(id)
	}
	return channel.NewReceipt(ids, evt.Chat.String(), evt.Sender.User, string(evt.Type), evt.Timestamp)
}

func convertPresence(evt *events.Presence) channel.PresenceEvent {
	state := "available"
	if evt.Unavailable {
		state = "unavailable"
	}
	return channel.PresenceEvent{
		ChatID:   evt.From.String(),
		SenderID: evt.From.User,
		State:    state,
		LastSeen: evt.LastSeen,
	}
}

func convertChatPresence(evt *events.ChatPresence) channel.PresenceEvent {
	state := string(evt.State)
	if evt.State == types.ChatPresenceComposing && evt.Media == types.ChatPresenceMediaAudio {
		state = "recording"
	}
	return channel.PresenceEvent{
		ChatID:   evt.Chat.String(),
		SenderID: evt.Sender.User,
		State:    state,
	}
}
