package telegram

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Metadata keys specific to Telegram.
const (
	metaUsername     = "username"
	metaChatType     = "chat_type"
	metaEdited       = "edited"
	metaBotMentioned = "bot_mentioned"
	metaStickerEmoji = "sticker_emoji"
	metaPhone        = "phone"
	metaMediaGroupID = "media_group_id"
)

// convertUpdate transforms a Telegram update into an InboundMessage. It
// reports false for updates without a message or with content the gateway
// does not model (polls, dice, service messages).
func convertUpdate(update *tgbotapi.Update, botUsername string) (message.InboundMessage, bool) {
	tm, edited := extractMessage(update)
	if tm == nil || tm.Chat == nil {
		return message.InboundMessage{}, false
	}

	msg := message.InboundMessage{
		ExternalID: strconv.Itoa(tm.MessageID),
		ChatID:     strconv.FormatInt(tm.Chat.ID, 10),
		Timestamp:  tm.Time(),
	}
	if tm.Date == 0 {
		msg.Timestamp = time.Now()
	}
	switch {
	case tm.From != nil:
		msg.SenderID = strconv.FormatInt(tm.From.ID, 10)
		msg.SenderName = displayName(tm.From.FirstName, tm.From.LastName)
		if tm.From.UserName != "" {
			msg.SetMeta(metaUsername, tm.From.UserName)
		}
	case tm.SenderChat != nil:
		msg.SenderID = strconv.FormatInt(tm.SenderChat.ID, 10)
		msg.SenderName = tm.SenderChat.Title
	default:
		msg.SenderID = msg.ChatID
		msg.SenderName = tm.Chat.Title
	}
	msg.SetMeta(metaChatType, tm.Chat.Type)
	msg.SetGroup(tm.Chat.IsGroup() || tm.Chat.IsSuperGroup())
	if edited {
		msg.SetMeta(metaEdited, "true")
	}
	if tm.MediaGroupID != "" {
		msg.SetMeta(metaMediaGroupID, tm.MediaGroupID)
	}

	if !convertContent(tm, &msg) {
		return message.InboundMessage{}, false
	}

	if r := tm.ReplyToMessage; r != nil {
		reply := message.ReplyTo{
			MessageID:  strconv.Itoa(r.MessageID),
			QuotedText: firstNonEmpty(r.Text, r.Caption),
		}
		if r.From != nil {
			reply.SenderID = strconv.FormatInt(r.From.ID, 10)
		}
		msg.SetReplyTo(reply)
	}
	msg.IsForwarded = tm.ForwardDate != 0 || tm.ForwardFrom != nil || tm.ForwardFromChat != nil

	mentions, botMentioned := extractMentions(tm, botUsername)
	msg.Mentions = mentions
	if botMentioned {
		msg.SetMeta(metaBotMentioned, "true")
	}
	return msg, true
}

// extractMessage returns the message carried by an update, checking
// Message, EditedMessage, ChannelPost and EditedChannelPost in order.
func extractMessage(u *tgbotapi.Update) (*tgbotapi.Message, bool) {
	switch {
	case u.Message != nil:
		return u.Message, false
	case u.EditedMessage != nil:
		return u.EditedMessage, true
	case u.ChannelPost != nil:
		return u.ChannelPost, false
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost, true
	}
	return nil, false
}

// convertContent fills the content type, text and attachments. Media
// attachments carry the Telegram file_id as MediaID.
func convertContent(tm *tgbotapi.Message, msg *message.InboundMessage) bool {
	switch {
	case len(tm.Photo) > 0:
		largest := tm.Photo[len(tm.Photo)-1]
		msg.ContentType = message.ContentImage
		msg.Content = tm.Caption
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentImage,
			MediaID:   largest.FileID,
			MIMEType:  "image/jpeg",
			SizeBytes: int64(largest.FileSize),
			Width:     largest.Width,
			Height:    largest.Height,
			Caption:   tm.Caption,
		})

	case tm.Sticker != nil:
		st := tm.Sticker
		msg.ContentType = message.ContentImage
		msg.SetMeta(message.MetaIsSticker, "true")
		if st.Emoji != "" {
			msg.SetMeta(metaStickerEmoji, st.Emoji)
		}
		mimeType := "image/webp"
		if st.IsAnimated {
			mimeType = "application/x-tgsticker"
		}
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentSticker,
			MediaID:   st.FileID,
			MIMEType:  mimeType,
			SizeBytes: int64(st.FileSize),
			Width:     st.Width,
			Height:    st.Height,
		})

	case tm.Voice != nil:
		v := tm.Voice
		msg.ContentType = message.ContentAudio
		msg.Content = tm.Caption
		msg.SetMeta(message.MetaIsPTT, "true")
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentAudio,
			MediaID:   v.FileID,
			MIMEType:  normalizeOr(v.MimeType, "audio/ogg"),
			SizeBytes: int64(v.FileSize),
			Duration:  time.Duration(v.Duration) * time.Second,
		})

	case tm.Audio != nil:
		a := tm.Audio
		msg.ContentType = message.ContentAudio
		msg.Content = tm.Caption
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentAudio,
			MediaID:   a.FileID,
			MIMEType:  normalizeOr(a.MimeType, "audio/mpeg"),
			SizeBytes: int64(a.FileSize),
			Filename:  a.FileName,
			Duration:  time.Duration(a.Duration) * time.Second,
		})

	case tm.Video != nil:
		v := tm.Video
		msg.ContentType = message.ContentVideo
		msg.Content = tm.Caption
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentVideo,
			MediaID:   v.FileID,
			MIMEType:  normalizeOr(v.MimeType, "video/mp4"),
			SizeBytes: int64(v.FileSize),
			Filename:  v.FileName,
			Width:     v.Width,
			Height:    v.Height,
			Duration:  time.Duration(v.Duration) * time.Second,
			Caption:   tm.Caption,
		})

	case tm.VideoNote != nil:
		v := tm.VideoNote
		msg.ContentType = message.ContentVideo
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentVideo,
			MediaID:   v.FileID,
			MIMEType:  "video/mp4",
			SizeBytes: int64(v.FileSize),
			Width:     v.Length,
			Height:    v.Length,
			Duration:  time.Duration(v.Duration) * time.Second,
		})

	case tm.Animation != nil:
		a := tm.Animation
		msg.ContentType = message.ContentVideo
		msg.Content = tm.Caption
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentVideo,
			MediaID:   a.FileID,
			MIMEType:  normalizeOr(a.MimeType, "video/mp4"),
			SizeBytes: int64(a.FileSize),
			Filename:  a.FileName,
			Width:     a.Width,
			Height:    a.Height,
			Duration:  time.Duration(a.Duration) * time.Second,
			Caption:   tm.Caption,
		})

	case tm.Document != nil:
		d := tm.Document
		msg.ContentType = message.ContentDocument
		msg.Content = tm.Caption
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentDocument,
			MediaID:   d.FileID,
			MIMEType:  normalizeOr(d.MimeType, ""),
			SizeBytes: int64(d.FileSize),
			Filename:  d.FileName,
			Caption:   tm.Caption,
		})

	case tm.Venue != nil:
		v := tm.Venue
		msg.ContentType = message.ContentLocation
		msg.Content = v.Title
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentLocation,
			Filename:  v.Title,
			Caption:   v.Address,
			Latitude:  v.Location.Latitude,
			Longitude: v.Location.Longitude,
		})

	case tm.Location != nil:
		msg.ContentType = message.ContentLocation
		msg.Attachments = append(msg.Attachments, message.Attachment{
			Type:      message.AttachmentLocation,
			Latitude:  tm.Location.Latitude,
			Longitude: tm.Location.Longitude,
		})

	case tm.Contact != nil:
		c := tm.Contact
		msg.ContentType = message.ContentContact
		msg.Content = displayName(c.FirstName, c.LastName)
		msg.SetMeta(metaPhone, c.PhoneNumber)
		vcard := c.VCard
		if vcard == "" {
			vcard = buildVCard(msg.Content, c.PhoneNumber)
		}
		msg.SetMeta(message.MetaVCard, vcard)

	case tm.Text != "":
		msg.ContentType = message.ContentText
		msg.Content = tm.Text

	default:
		return false
	}
	return true
}

// extractMentions returns mentioned users in message order: usernames for
// "mention" entities and numeric ids for "text_mention" entities. The
// second result reports whether the bot itself was mentioned.
func extractMentions(tm *tgbotapi.Message, botUsername string) ([]string, bool) {
	entities := tm.Entities
	text := tm.Text
	if len(entities) == 0 {
		entities = tm.CaptionEntities
		text = tm.Caption
	}

	var ids []string
	botMentioned := false
	for _, ent := range entities {
		switch ent.Type {
		case "mention":
			username := strings.TrimPrefix(extractEntityText(text, ent.Offset, ent.Length), "@")
			if username == "" {
				continue
			}
			ids = append(ids, username)
			if botUsername != "" && strings.EqualFold(username, botUsername) {
				botMentioned = true
			}
		case "text_mention":
			if ent.User != nil {
				ids = append(ids, strconv.FormatInt(ent.User.ID, 10))
			}
		}
	}
	return ids, botMentioned
}

// extractEntityText slices text using UTF-16 offsets, which is what
// Telegram uses for entity offsets and lengths.
func extractEntityText(text string, offset, length int) string {
	encoded := utf16.Encode([]rune(text))
	if offset < 0 || offset >= len(encoded) {
		return ""
	}
	end := min(offset+length, len(encoded))
	return string(utf16.Decode(encoded[offset:end]))
}

func displayName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func normalizeOr(mimeType, fallback string) string {
	if mimeType == "" {
		return fallback
	}
	return channel.NormalizeMIME(mimeType)
}

func buildVCard(name, phone string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\nVERSION:3.0\n")
	b.WriteString("FN:" + name + "\n")
	if phone != "" {
		b.WriteString("TEL;TYPE=CELL:" + phone + "\n")
	}
	b.WriteString("END:VCARD")
	return b.String()
}
