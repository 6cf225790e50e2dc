package email

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// Outbound metadata keys.
const (
	metaSubject    = "subject"
	metaHTML       = "html"
	metaCC         = "cc"
	metaReplyTo    = "reply_to"
	metaReferences = "references"
)

// buildMessage converts msg into a mail. Attachments must carry their
// bytes; URLs are resolved before the driver sees them.
func buildMessage(cfg *Config, msg message.OutboundMessage) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	var err error
	if cfg.FromName != "" {
		err = m.FromFormat(cfg.FromName, cfg.FromAddress)
	} else {
		err = m.From(cfg.FromAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("email: from address: %w", err)
	}
	if err := m.To(msg.RecipientID); err != nil {
		return nil, fmt.Errorf("email: recipient %q: %w", msg.RecipientID, err)
	}
	if cc := splitList(msg.Metadata[metaCC]); len(cc) > 0 {
		if err := m.Cc(cc...); err != nil {
			return nil, fmt.Errorf("email: cc: %w", err)
		}
	}
	if rt := msg.Metadata[metaReplyTo]; rt != "" {
		if err := m.ReplyTo(rt); err != nil {
			return nil, fmt.Errorf("email: reply_to: %w", err)
		}
	}

	subject := msg.Metadata[metaSubject]
	if subject == "" {
		subject = cfg.DefaultSubject
	}
	if msg.ReplyToID != "" {
		parent := angleID(msg.ReplyToID)
		m.SetGenHeader(gomail.HeaderInReplyTo, parent)
		refs := parent
		if prior := msg.Metadata[metaReferences]; prior != "" {
			refs = prior + " " + parent
		}
		m.SetGenHeader(gomail.HeaderReferences, refs)
		if !strings.HasPrefix(strings.ToLower(subject), "re:") && msg.Metadata[metaSubject] != "" {
			subject = "Re: " + subject
		}
	}
	m.Subject(subject)

	body := msg.Content
	switch msg.ContentType {
	case message.ContentText, "":
		if body == "" && msg.Metadata[metaHTML] == "" {
			return nil, &channel.InvalidOutboundMessageError{Field: "content"}
		}
	case message.ContentImage, message.ContentVideo, message.ContentAudio, message.ContentDocument:
		if len(msg.Attachments) == 0 {
			return nil, &channel.InvalidOutboundMessageError{Field: "attachments"}
		}
		if body == "" {
			body = msg.Attachments[0].Caption
		}
		for i, a := range msg.Attachments {
			if err := attach(m, i, a); err != nil {
				return nil, err
			}
		}
	case message.ContentLocation:
		loc, err := locationBody(msg)
		if err != nil {
			return nil, err
		}
		body = loc
	default:
		return nil, fmt.Errorf("%w: %s content over email", channel.ErrNotSupported, msg.ContentType)
	}

	m.SetBodyString(gomail.TypeTextPlain, body)
	if html := msg.Metadata[metaHTML]; html != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, html)
	}
	m.SetMessageID()
	m.SetDate()
	return m, nil
}

func attach(m *gomail.Msg, i int, a message.Attachment) error {
	if !a.HasData() {
		return fmt.Errorf("email: attachment %d has no content", i)
	}
	mimeType := a.MIMEType
	if mimeType == "" {
		mimeType = channel.DetectMIME(a.Data)
	}
	name := a.Filename
	if name == "" {
		name = channel.FilenameFor("attachment-"+strconv.Itoa(i+1), mimeType)
	}
	if err := m.AttachReader(name, bytes.NewReader(a.Data), gomail.WithFileContentType(gomail.ContentType(mimeType))); err != nil {
		return fmt.Errorf("email: attach %s: %w", name, err)
	}
	return nil
}

func locationBody(msg message.OutboundMessage) (string, error) {
	l := msg.Location
	if l == nil || l.Latitude == nil || l.Longitude == nil {
		return "", &channel.InvalidOutboundMessageError{Field: "location"}
	}
	var lines []string
	for _, s := range []string{l.Name, l.Address} {
		if s != "" {
			lines = append(lines, s)
		}
	}
	lines = append(lines, "https://maps.google.com/?q="+
		strconv.FormatFloat(*l.Latitude, 'f', -1, 64)+","+strconv.FormatFloat(*l.Longitude, 'f', -1, 64))
	return strings.Join(lines, "\n"), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// angleID wraps a message id in angle brackets for threading headers.
func angleID(id string) string {
	return "<" + bareID(id) + ">"
}

// bareID strips the angle brackets of a Message-Id.
func bareID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}
