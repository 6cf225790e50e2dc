package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/channel/channeltest"
	"github.com/flemzord/sbridge/pkg/message"
)

func dialed(t *testing.T, f *fakeMailer) (*driver, *channeltest.Sink) {
	t.Helper()
	d := newDriver(testConfig(), discardLogger(), f.factory())
	d.now = func() time.Time { return fixedNow }
	sink := &channeltest.Sink{}
	if err := d.Dial(context.Background(), sink); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d, sink
}

func TestDriver_Dial(t *testing.T) {
	t.Parallel()
	f := &fakeMailer{}
	d, sink := dialed(t, f)
	if sink.Connected() != 1 || f.dials != 1 {
		t.Errorf("connected = %d, dials = %d", sink.Connected(), f.dials)
	}
	if err := d.Dial(context.Background(), sink); err != nil {
		t.Fatal(err)
	}
	if f.dials != 1 {
		t.Error("redial logged in again")
	}

	bad := newDriver(testConfig(), discardLogger(), (&fakeMailer{dialErr: errors.New("535 auth failed")}).factory())
	if err := bad.Dial(context.Background(), &channeltest.Sink{}); err == nil || !strings.Contains(err.Error(), "smtp login") {
		t.Errorf("Dial err = %v", err)
	}
}

func TestDriver_Send(t *testing.T) {
	t.Parallel()
	f := &fakeMailer{}
	d, _ := dialed(t, f)

	res, err := d.Send(context.Background(), message.NewTextMessage("alice@example.org", "hi"))
	if err != nil || !res.Success {
		t.Fatalf("Send = %+v, %v", res, err)
	}
	mails := f.mails()
	if len(mails) != 1 {
		t.Fatalf("sent %d mails", len(mails))
	}
	if res.ExternalID == "" || strings.ContainsAny(res.ExternalID, "<>") || "<"+res.ExternalID+">" != mails[0].GetMessageID() {
		t.Errorf("ExternalID = %q, Message-ID = %q", res.ExternalID, mails[0].GetMessageID())
	}
	if got := mails[0].GetToString(); len(got) != 1 || !strings.Contains(got[0], "alice@example.org") {
		t.Errorf("to = %v", got)
	}
}

func TestDriver_SendFailures(t *testing.T) {
	t.Parallel()

	rejected := &fakeMailer{sendErr: &gomail.SendError{Reason: gomail.ErrSMTPRcptTo}}
	d, _ := dialed(t, rejected)
	res, err := d.Send(context.Background(), message.NewTextMessage("nobody@example.org", "x"))
	if err != nil || res.Success {
		t.Errorf("rejected recipient: res = %+v, err = %v", res, err)
	}

	down := &fakeMailer{sendErr: errors.New("dial failed: connection refused")}
	d, _ = dialed(t, down)
	if _, err := d.Send(context.Background(), message.NewTextMessage("a@example.org", "x")); err == nil {
		t.Error("expected transport error")
	}

	idle := newDriver(testConfig(), discardLogger(), (&fakeMailer{}).factory())
	res, _ = idle.Send(context.Background(), message.NewTextMessage("a@example.org", "x"))
	if res.Error != channel.ErrClientNotReady.Error() {
		t.Errorf("not connected: %+v", res)
	}
}

func TestDriver_Handlers(t *testing.T) {
	t.Parallel()
	d, sink := dialed(t, &fakeMailer{})

	if err := d.handleMail(inboundMail{fields: map[string]string{"from": "alice@example.org", "body-plain": "hi"}}); err != nil {
		t.Fatal(err)
	}
	if err := d.handleMail(inboundMail{fields: map[string]string{"body-plain": "orphan"}}); err != nil {
		t.Fatal(err)
	}
	var delivered, failed event
	delivered.EventData.Event = "delivered"
	delivered.EventData.Message.Headers.MessageID = "out1@example.com"
	failed.EventData.Event = "failed"
	for _, ev := range []event{delivered, failed} {
		if err := d.handleEvent(ev); err != nil {
			t.Fatal(err)
		}
	}
	if len(sink.Messages()) != 1 || len(sink.Receipts()) != 1 {
		t.Errorf("messages = %d, receipts = %d", len(sink.Messages()), len(sink.Receipts()))
	}

	_ = d.Close(context.Background())
	if err := d.handleMail(inboundMail{}); !errors.Is(err, channel.ErrClientNotReady) {
		t.Errorf("err = %v, want not ready", err)
	}
}

func TestDriver_Capabilities(t *testing.T) {
	t.Parallel()
	caps := newDriver(testConfig(), discardLogger(), nil).Capabilities()
	if caps.AcceptsMediaURL || caps.SupportsMediaUpload || caps.MaxMessageLength != 100_000 {
		t.Errorf("caps = %+v", caps)
	}
	if caps.Limits.MaxSize() != channel.EmailLimits.MaxSize() {
		t.Error("limits")
	}
}
