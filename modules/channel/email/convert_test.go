package email

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

func TestBuildMessage_Text(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	msg := message.NewTextMessage("alice@example.org", "Hello Alice")
	msg.Metadata = map[string]string{metaHTML: "<p>Hello Alice</p>", metaCC: "bob@example.org, carol@example.org"}
	m, err := buildMessage(cfg, msg)
	if err != nil {
		t.Fatal(err)
	}
	raw := render(t, m)
	for _, want := range []string{
		"bot@example.com",
		"alice@example.org",
		"carol@example.org",
		"Subject: " + defaultSubject,
		"Hello Alice",
		"text/html",
		"Message-ID: <",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("mail missing %q:\n%s", want, raw)
		}
	}
	if m.GetMessageID() == "" {
		t.Error("no Message-ID set")
	}
}

func TestBuildMessage_Reply(t *testing.T) {
	t.Parallel()

	msg := message.NewTextMessage("alice@example.org", "Sure")
	msg.ReplyToID = "abc@mail.example.org"
	msg.Metadata = map[string]string{metaSubject: "Invoice", metaReferences: "<root@mail.example.org>"}
	m, err := buildMessage(testConfig(), msg)
	if err != nil {
		t.Fatal(err)
	}
	raw := render(t, m)
	for _, want := range []string{
		"In-Reply-To: <abc@mail.example.org>",
		"References: <root@mail.example.org> <abc@mail.example.org>",
		"Subject: Re: Invoice",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("mail missing %q:\n%s", want, raw)
		}
	}
}

func TestBuildMessage_Attachments(t *testing.T) {
	t.Parallel()

	msg := message.OutboundMessage{
		RecipientID: "alice@example.org",
		ContentType: message.ContentDocument,
		Attachments: []message.Attachment{
			{Type: message.AttachmentDocument, Data: []byte("%PDF-1.4 test"), MIMEType: "application/pdf", Filename: "report.pdf", Caption: "the report"},
			{Type: message.AttachmentImage, Data: []byte("\x89PNG\r\n\x1a\n....")},
		},
	}
	m, err := buildMessage(testConfig(), msg)
	if err != nil {
		t.Fatal(err)
	}
	raw := render(t, m)
	for _, want := range []string{`report.pdf`, `attachment-2.png`, "the report"} {
		if !strings.Contains(raw, want) {
			t.Errorf("mail missing %q", want)
		}
	}
}

func TestBuildMessage_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  message.OutboundMessage
		is   error
		want string
	}{
		{name: "bad recipient", msg: message.NewTextMessage("not an address", "x"), want: "recipient"},
		{name: "empty text", msg: message.NewTextMessage("a@example.org", ""), want: "content"},
		{name: "media without bytes", msg: message.OutboundMessage{
			RecipientID: "a@example.org", ContentType: message.ContentImage,
			Attachments: []message.Attachment{{Type: message.AttachmentImage, URL: "https://cdn.example.com/a.png"}},
		}, want: "no content"},
		{name: "reaction", msg: message.OutboundMessage{RecipientID: "a@example.org", ContentType: message.ContentReaction}, is: channel.ErrNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := buildMessage(testConfig(), tt.msg)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestConvertInbound(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)

	in := inboundMail{fields: map[string]string{
		"from":          `"Alice Martin" <Alice@Example.org>`,
		"sender":        "bounces@example.org",
		"recipient":     "support@example.com",
		"subject":       "Re: Invoice",
		"body-plain":    "Yes please\n\n> quoted",
		"stripped-text": "Yes please",
		"Message-Id":    "<m1@mail.example.org>",
		"In-Reply-To":   "<out1@example.com>",
		"References":    "<root@example.com> <out1@example.com>",
		"timestamp":     "1700000100",
	}}
	msg, ok := convertInbound(in, now)
	if !ok {
		t.Fatal("not converted")
	}
	if msg.SenderID != "alice@example.org" || msg.SenderName != "Alice Martin" || msg.ChatID != msg.SenderID {
		t.Errorf("sender = %q %q", msg.SenderID, msg.SenderName)
	}
	if msg.ExternalID != "m1@mail.example.org" || msg.Content != "Yes please" || msg.ContentType != message.ContentText {
		t.Errorf("message = %+v", msg)
	}
	if msg.ReplyTo == nil || msg.ReplyTo.MessageID != "out1@example.com" {
		t.Errorf("reply = %+v", msg.ReplyTo)
	}
	if msg.Meta(metaSubject) != "Re: Invoice" || msg.Meta(metaTo) != "support@example.com" || msg.Meta(metaReferences) == "" {
		t.Errorf("metadata = %v", msg.Metadata)
	}
	if msg.Timestamp.Unix() != 1700000100 {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}

	in = inboundMail{
		fields:      map[string]string{"sender": "bob@example.org", "body-plain": "see attached"},
		attachments: []message.Attachment{{Type: message.AttachmentImage, Data: []byte{1}, MIMEType: "image/png"}},
	}
	msg, ok = convertInbound(in, now)
	if !ok || msg.SenderID != "bob@example.org" || msg.ContentType != message.ContentImage || msg.Attachments[0].Caption != "see attached" {
		t.Errorf("attachment mail = %+v", msg)
	}
	if !msg.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want receive time", msg.Timestamp)
	}

	if _, ok := convertInbound(inboundMail{fields: map[string]string{"from": "garbage"}}, now); ok {
		t.Error("mail without a parsable sender was converted")
	}
}

func TestConvertEvent(t *testing.T) {
	t.Parallel()

	mk := func(kind, id string) event {
		var ev event
		ev.EventData.Event = kind
		ev.EventData.Recipient = "Alice@Example.org"
		ev.EventData.Timestamp = 1700000000.5
		ev.EventData.Message.Headers.MessageID = id
		return ev
	}
	r, ok := convertEvent(mk("delivered", "out1@example.com"))
	if !ok || r.Type != message.ReceiptDelivered || r.MessageID() != "out1@example.com" || r.ChatID != "alice@example.org" {
		t.Errorf("delivered = %+v", r)
	}
	r, ok = convertEvent(mk("opened", "<out1@example.com>"))
	if !ok || r.Type != message.ReceiptRead || r.MessageID() != "out1@example.com" {
		t.Errorf("opened = %+v", r)
	}
	for _, kind := range []string{"failed", "clicked", "accepted"} {
		if _, ok := convertEvent(mk(kind, "x@y")); ok {
			t.Errorf("%s became a receipt", kind)
		}
	}
	if _, ok := convertEvent(mk("delivered", "")); ok {
		t.Error("event without a message id became a receipt")
	}
}
