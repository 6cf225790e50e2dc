package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// metaParseMode overrides the configured parse mode for one message.
const metaParseMode = "parse_mode"

var errInvalidChat = errors.New("telegram: invalid chat id")

// chatRef addresses a chat either by numeric id or by @channelusername.
type chatRef struct {
	id       int64
	username string
}

func parseChat(raw string) (chatRef, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "@") && len(raw) > 1 {
		return chatRef{username: raw}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return chatRef{}, fmt.Errorf("%w %q", errInvalidChat, raw)
	}
	return chatRef{id: id}, nil
}

func (c chatRef) base(replyTo string) tgbotapi.BaseChat {
	bc := tgbotapi.BaseChat{ChatID: c.id, ChannelUsername: c.username}
	if id, err := strconv.Atoi(replyTo); err == nil && id > 0 {
		bc.ReplyToMessageID = id
		bc.AllowSendingWithoutReply = true
	}
	return bc
}

// buildChattable converts a validated outbound message into the matching
// Bot API request. Media must already carry inline data or a URL.
func buildChattable(chat chatRef, msg message.OutboundMessage, parseMode string) (tgbotapi.Chattable, error) {
	if pm := msg.Metadata[metaParseMode]; pm != "" {
		parseMode = pm
	}
	base := chat.base(msg.ReplyToID)

	switch msg.ContentType {
	case message.ContentText, "":
		text, mode := formatText(msg.Content, parseMode)
		return tgbotapi.MessageConfig{BaseChat: base, Text: text, ParseMode: mode}, nil

	case message.ContentLocation:
		loc := msg.Location
		if loc == nil || loc.Latitude == nil || loc.Longitude == nil {
			return nil, &channel.InvalidOutboundMessageError{Field: "latitude"}
		}
		if loc.Name != "" || loc.Address != "" {
			return tgbotapi.VenueConfig{
				BaseChat:  base,
				Latitude:  *loc.Latitude,
				Longitude: *loc.Longitude,
				Title:     firstNonEmpty(loc.Name, loc.Address),
				Address:   firstNonEmpty(loc.Address, loc.Name),
			}, nil
		}
		return tgbotapi.LocationConfig{BaseChat: base, Latitude: *loc.Latitude, Longitude: *loc.Longitude}, nil

	case message.ContentContact:
		phone := msg.Metadata[metaPhone]
		if phone == "" {
			return nil, &channel.InvalidOutboundMessageError{Field: "metadata.phone"}
		}
		first, last, _ := strings.Cut(msg.Content, " ")
		return tgbotapi.ContactConfig{
			BaseChat:    base,
			PhoneNumber: phone,
			FirstName:   first,
			LastName:    last,
			VCard:       msg.Metadata[message.MetaVCard],
		}, nil

	case message.ContentImage, message.ContentVideo, message.ContentAudio, message.ContentDocument:
		att := msg.FirstAttachment()
		if att == nil {
			return nil, channel.ErrMissingMediaData
		}
		return buildMedia(base, msg, *att, parseMode)
	}
	return nil, fmt.Errorf("%w: content type %q", channel.ErrNotSupported, msg.ContentType)
}

func buildMedia(base tgbotapi.BaseChat, msg message.OutboundMessage, att message.Attachment, parseMode string) (tgbotapi.Chattable, error) {
	file, err := fileData(att)
	if err != nil {
		return nil, err
	}
	caption := att.Caption
	if caption == "" {
		caption = msg.Content
	}
	caption, mode := formatText(caption, parseMode)
	if caption == "" {
		mode = ""
	}
	bf := tgbotapi.BaseFile{BaseChat: base, File: file}
	seconds := int(att.Duration / time.Second)

	switch {
	case att.Type == message.AttachmentSticker:
		return tgbotapi.StickerConfig{BaseFile: bf}, nil
	case msg.ContentType == message.ContentImage:
		return tgbotapi.PhotoConfig{BaseFile: bf, Caption: caption, ParseMode: mode}, nil
	case msg.ContentType == message.ContentVideo:
		return tgbotapi.VideoConfig{BaseFile: bf, Caption: caption, ParseMode: mode, Duration: seconds}, nil
	case msg.ContentType == message.ContentAudio && msg.Metadata[message.MetaIsPTT] == "true":
		return tgbotapi.VoiceConfig{BaseFile: bf, Caption: caption, ParseMode: mode, Duration: seconds}, nil
	case msg.ContentType == message.ContentAudio:
		return tgbotapi.AudioConfig{BaseFile: bf, Caption: caption, ParseMode: mode, Duration: seconds}, nil
	}
	return tgbotapi.DocumentConfig{BaseFile: bf, Caption: caption, ParseMode: mode}, nil
}

// fileData picks inline bytes over a URL. Telegram fetches URLs itself.
func fileData(att message.Attachment) (tgbotapi.RequestFileData, error) {
	switch {
	case att.HasData():
		name := att.Filename
		if name == "" {
			name = channel.FilenameFor(string(att.Type), att.MIMEType)
		}
		return tgbotapi.FileBytes{Name: name, Bytes: att.Data}, nil
	case att.URL != "":
		return tgbotapi.FileURL(att.URL), nil
	}
	return nil, channel.ErrMissingMediaData
}

// formatText applies the parse mode to text and returns the mode to send.
func formatText(text, parseMode string) (string, string) {
	switch parseMode {
	case parseModeMarkdown:
		return FormatMarkdownV2(text), tgbotapi.ModeMarkdownV2
	case parseModeNone:
		return text, ""
	}
	return text, parseMode
}

// chatAction maps a typing indicator onto a sendChatAction action.
func chatAction(ind message.TypingIndicator) string {
	if ind.Recording {
		return tgbotapi.ChatRecordVoice
	}
	return tgbotapi.ChatTyping
}
