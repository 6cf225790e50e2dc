package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

var errInvalidRecipient = errors.New("whatsapp: invalid recipient")

// parseRecipient accepts a full JID ("123@s.whatsapp.net", "abc@g.us") or a
// bare phone number, optionally prefixed with "+".
func parseRecipient(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		jid, err := types.ParseJID(raw)
		if err != nil {
			return types.JID{}, fmt.Errorf("%w %q: %w", errInvalidRecipient, raw, err)
		}
		return jid, nil
	}
	phone := strings.TrimPrefix(raw, "+")
	if phone == "" || strings.IndexFunc(phone, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return types.JID{}, fmt.Errorf("%w %q", errInvalidRecipient, raw)
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

// uploader is the part of the transport media building needs.
type uploader interface {
	Upload(ctx context.Context, data []byte, mt whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// buildMessage converts a validated outbound message into a WhatsApp proto.
// Media attachments must already be resolved to inline data.
func buildMessage(ctx context.Context, up uploader, chat, self types.JID, msg message.OutboundMessage) (*waE2E.Message, error) {
	switch msg.ContentType {
	case message.ContentText, "":
		return buildText(msg), nil

	case message.ContentLocation:
		loc := msg.Location
		if loc == nil || loc.Latitude == nil || loc.Longitude == nil {
			return nil, fmt.Errorf("%w: location without coordinates", channel.ErrNotSupported)
		}
		return &waE2E.Message{
			LocationMessage: &waE2E.LocationMessage{
				DegreesLatitude:  loc.Latitude,
				DegreesLongitude: loc.Longitude,
				Name:             nonEmpty(loc.Name),
				Address:          nonEmpty(loc.Address),
				ContextInfo:      replyContext(msg),
			},
		}, nil

	case message.ContentContact:
		return &waE2E.Message{
			ContactMessage: &waE2E.ContactMessage{
				DisplayName: proto.String(msg.Content),
				Vcard:       nonEmpty(msg.Metadata[message.MetaVCard]),
				ContextInfo: replyContext(msg),
			},
		}, nil

	case message.ContentReaction:
		return buildReaction(chat, self, msg), nil

	case message.ContentImage, message.ContentVideo, message.ContentAudio, message.ContentDocument:
		att := msg.FirstAttachment()
		if att == nil || !att.HasData() {
			return nil, channel.ErrMissingMediaData
		}
		return buildMedia(ctx, up, msg, *att)
	}
	return nil, fmt.Errorf("%w: content type %q", channel.ErrNotSupported, msg.ContentType)
}

func buildText(msg message.OutboundMessage) *waE2E.Message {
	if msg.ReplyToID == "" {
		return &waE2E.Message{Conversation: proto.String(msg.Content)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(msg.Content),
			ContextInfo: replyContext(msg),
		},
	}
}

// replyContext quotes ReplyToID. The quoted author comes from
// metadata[target_sender] in groups.
func replyContext(msg message.OutboundMessage) *waE2E.ContextInfo {
	if msg.ReplyToID == "" {
		return nil
	}
	ci := &waE2E.ContextInfo{StanzaID: proto.String(msg.ReplyToID)}
	if p := msg.Metadata[metaTargetSender]; p != "" {
		if jid, err := parseRecipient(p); err == nil {
			ci.Participant = proto.String(jid.String())
		}
	}
	if q := msg.Metadata[message.MetaQuotedText]; q != "" {
		ci.QuotedMessage = &waE2E.Message{Conversation: proto.String(q)}
	}
	return ci
}

// buildReaction reacts to ReplyToID with Content as the emoji. An empty
// target sender means the reacted message was ours.
func buildReaction(chat, self types.JID, msg message.OutboundMessage) *waE2E.Message {
	key := &waCommon.MessageKey{
		RemoteJID: proto.String(chat.String()),
		ID:        proto.String(msg.ReplyToID),
	}
	target := types.EmptyJID
	if p := msg.Metadata[metaTargetSender]; p != "" {
		if jid, err := parseRecipient(p); err == nil {
			target = jid
		}
	}
	fromMe := target.IsEmpty() || (!self.IsEmpty() && target.User == self.User)
	key.FromMe = proto.Bool(fromMe)
	if !fromMe && chat.Server == types.GroupServer {
		key.Participant = proto.String(target.String())
	}
	return &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key:               key,
			Text:              proto.String(msg.Content),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	}
}

func buildMedia(ctx context.Context, up uploader, msg message.OutboundMessage, att message.Attachment) (*waE2E.Message, error) {
	mimeType := att.MIMEType
	if mimeType == "" {
		mimeType = channel.DetectMIME(att.Data)
	}
	caption := att.Caption
	if caption == "" {
		caption = msg.Content
	}

	mediaType := mediaTypeFor(msg.ContentType, att.Type)
	res, err := up.Upload(ctx, att.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: upload media: %w", err)
	}
	size := proto.Uint64(uint64(len(att.Data)))
	ci := replyContext(msg)

	switch {
	case att.Type == message.AttachmentSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(res.URL),
			DirectPath:    proto.String(res.DirectPath),
			MediaKey:      res.MediaKey,
			FileEncSHA256: res.FileEncSHA256,
			FileSHA256:    res.FileSHA256,
			FileLength:    size,
			Mimetype:      proto.String(mimeType),
			ContextInfo:   ci,
		}}, nil

	case mediaType == whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(res.URL),
			DirectPath:    proto.String(res.DirectPath),
			MediaKey:      res.MediaKey,
			FileEncSHA256: res.FileEncSHA256,
			FileSHA256:    res.FileSHA256,
			FileLength:    size,
			Mimetype:      proto.String(mimeType),
			Caption:       nonEmpty(caption),
			JPEGThumbnail: att.Thumbnail,
			ContextInfo:   ci,
		}}, nil

	case mediaType == whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(res.URL),
			DirectPath:    proto.String(res.DirectPath),
			MediaKey:      res.MediaKey,
			FileEncSHA256: res.FileEncSHA256,
			FileSHA256:    res.FileSHA256,
			FileLength:    size,
			Mimetype:      proto.String(mimeType),
			Caption:       nonEmpty(caption),
			Seconds:       seconds(att.Duration),
			JPEGThumbnail: att.Thumbnail,
			ContextInfo:   ci,
		}}, nil

	case mediaType == whatsmeow.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(res.URL),
			DirectPath:    proto.String(res.DirectPath),
			MediaKey:      res.MediaKey,
			FileEncSHA256: res.FileEncSHA256,
			FileSHA256:    res.FileSHA256,
			FileLength:    size,
			Mimetype:      proto.String(mimeType),
			PTT:           proto.Bool(msg.Metadata[message.MetaIsPTT] == "true"),
			Seconds:       seconds(att.Duration),
			ContextInfo:   ci,
		}}, nil
	}

	filename := att.Filename
	if filename == "" {
		filename = channel.FilenameFor("document", mimeType)
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           proto.String(res.URL),
		DirectPath:    proto.String(res.DirectPath),
		MediaKey:      res.MediaKey,
		FileEncSHA256: res.FileEncSHA256,
		FileSHA256:    res.FileSHA256,
		FileLength:    size,
		Mimetype:      proto.String(mimeType),
		FileName:      proto.String(filename),
		Title:         proto.String(filename),
		Caption:       nonEmpty(caption),
		ContextInfo:   ci,
	}}, nil
}

// mediaTypeFor picks the upload bucket. Stickers are uploaded as images.
func mediaTypeFor(ct message.ContentType, at message.AttachmentType) whatsmeow.MediaType {
	switch at {
	case message.AttachmentImage, message.AttachmentSticker:
		return whatsmeow.MediaImage
	case message.AttachmentVideo:
		return whatsmeow.MediaVideo
	case message.AttachmentAudio:
		return whatsmeow.MediaAudio
	case message.AttachmentDocument:
		return whatsmeow.MediaDocument
	}
	switch ct {
	case message.ContentImage:
		return whatsmeow.MediaImage
	case message.ContentVideo:
		return whatsmeow.MediaVideo
	case message.ContentAudio:
		return whatsmeow.MediaAudio
	}
	return whatsmeow.MediaDocument
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

func seconds(d time.Duration) *uint32 {
	if d <= 0 {
		return nil
	}
	return proto.Uint32(uint32(d / time.Second))
}
