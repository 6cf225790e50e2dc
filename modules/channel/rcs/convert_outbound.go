package rcs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// metaSuggestions lists suggested replies separated by "|".
const metaSuggestions = "suggestions"

const (
	maxSuggestions     = 11
	maxSuggestionText  = 25
	maxCardDescription = 2000
	uploadedPrefix     = "files/"
)

var errNeedsMediaURL = errors.New("rcs: files must be uploaded or reachable by URL")

// buildContent converts msg into an RBM content message. Attachments that
// only carry data must have been uploaded first, leaving a files/ MediaID.
func buildContent(msg message.OutboundMessage) (contentMessage, error) {
	var out contentMessage
	switch msg.ContentType {
	case message.ContentText, "":
		if msg.Content == "" {
			return out, &channel.InvalidOutboundMessageError{Field: "content"}
		}
		out.Text = msg.Content
	case message.ContentImage, message.ContentVideo, message.ContentAudio, message.ContentDocument:
		a := msg.FirstAttachment()
		if a == nil {
			return out, &channel.InvalidOutboundMessageError{Field: "attachments"}
		}
		if len(msg.Attachments) > 1 {
			return out, fmt.Errorf("%w: one file per rcs message", channel.ErrNotSupported)
		}
		info, uploaded, err := fileRef(*a)
		if err != nil {
			return out, err
		}
		caption := msg.Content
		if caption == "" {
			caption = a.Caption
		}
		if caption == "" {
			out.ContentInfo, out.UploadedRbmFile = info, uploaded
			break
		}
		out.RichCard = &richCard{StandaloneCard: &standaloneCard{
			CardOrientation: "VERTICAL",
			CardContent: cardContent{
				Description: truncate(caption, maxCardDescription),
				Media:       &cardMedia{Height: "MEDIUM", ContentInfo: info, UploadedRbmFile: uploaded},
			},
		}}
	case message.ContentLocation:
		l := msg.Location
		if l == nil || l.Latitude == nil || l.Longitude == nil {
			return out, &channel.InvalidOutboundMessageError{Field: "location"}
		}
		out.Text = locationText(l)
		out.Suggestions = append(out.Suggestions, suggestion{Action: &suggestedAction{
			Text:         "View location",
			PostbackData: "view_location",
			ViewLocationAction: &viewLocationAction{
				LatLong: latLng{Latitude: *l.Latitude, Longitude: *l.Longitude},
				Label:   l.Name,
			},
		}})
	default:
		return out, fmt.Errorf("%w: %s content over rcs", channel.ErrNotSupported, msg.ContentType)
	}
	out.Suggestions = append(out.Suggestions, replies(msg.Metadata[metaSuggestions])...)
	if len(out.Suggestions) > maxSuggestions {
		out.Suggestions = out.Suggestions[:maxSuggestions]
	}
	return out, nil
}

func fileRef(a message.Attachment) (*contentInfo, *uploadedFile, error) {
	switch {
	case strings.HasPrefix(a.MediaID, uploadedPrefix):
		return nil, &uploadedFile{FileName: a.MediaID}, nil
	case a.URL != "":
		return &contentInfo{FileURL: a.URL}, nil, nil
	default:
		return nil, nil, errNeedsMediaURL
	}
}

func locationText(l *message.Location) string {
	var lines []string
	for _, s := range []string{l.Name, l.Address} {
		if s != "" {
			lines = append(lines, s)
		}
	}
	if len(lines) == 0 {
		lines = append(lines, strconv.FormatFloat(*l.Latitude, 'f', -1, 64)+","+strconv.FormatFloat(*l.Longitude, 'f', -1, 64))
	}
	return strings.Join(lines, "\n")
}

// replies turns "Yes|No" into suggested replies whose postback data is the
// full text.
func replies(raw string) []suggestion {
	var out []suggestion
	for _, s := range strings.Split(raw, "|") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, suggestion{Reply: &suggestedReply{Text: truncate(s, maxSuggestionText), PostbackData: s}})
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// messageID extracts the id from "phones/{phone}/agentMessages/{id}".
func messageID(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
