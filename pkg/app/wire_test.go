package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/channel/channeltest"
	"github.com/flemzord/sbridge/internal/security"
	"github.com/flemzord/sbridge/pkg/message"
)

type auditRecorder struct {
	mu     sync.Mutex
	events []security.AuditEvent
}

func (r *auditRecorder) record(e security.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *auditRecorder) types() []security.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]security.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newWiredBase(t *testing.T, reg *channel.Registry, name string) (*channel.Base, *channeltest.FakeDriver) {
	t.Helper()
	drv := channeltest.NewFakeDriver()
	b := channel.NewBase(channel.BaseConfig{
		Name:   name,
		Driver: drv,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := reg.Register(b); err != nil {
		t.Fatal(err)
	}
	b.StartEvents()
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b, drv
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWireHandlers_Defaults(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	b, drv := newWiredBase(t, reg, "wa")
	rec := &auditRecorder{}
	audit := security.NewAuditLogger(security.AuditLoggerConfig{OnEvent: rec.record})

	if n := wireHandlers(reg, Handlers{}, slog.New(slog.NewTextHandler(io.Discard, nil)), audit); n != 1 {
		t.Fatalf("wired = %d, want 1", n)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	drv.Sink().OnMessage(message.InboundMessage{ExternalID: "m1", ChatID: "c1", SenderID: "s1", Content: "hi", ContentType: message.ContentText})

	ok := waitFor(t, func() bool {
		types := rec.types()
		return len(types) == 2 && types[0] == security.EventConnect && types[1] == security.EventMessage
	})
	if !ok {
		t.Fatalf("audit events = %v", rec.types())
	}
	rec.mu.Lock()
	msg := rec.events[1]
	rec.mu.Unlock()
	if msg.Channel != "wa" || msg.MessageID != "m1" || msg.ChatID != "c1" {
		t.Errorf("message event = %+v", msg)
	}
}

func TestWireHandlers_Custom(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	b, drv := newWiredBase(t, reg, "tg")
	got := make(chan message.InboundMessage, 1)
	h := Handlers{Message: func(_ context.Context, msg message.InboundMessage) error {
		got <- msg
		return nil
	}}
	wireHandlers(reg, h, slog.New(slog.NewTextHandler(io.Discard, nil)), security.NewAuditLogger(security.AuditLoggerConfig{}))

	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	drv.Sink().OnMessage(message.InboundMessage{ExternalID: "m2", ChatID: "c", SenderID: "s", Content: "yo", ContentType: message.ContentText})

	select {
	case msg := <-got:
		if msg.ExternalID != "m2" || msg.Channel != "tg" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("custom handler not called")
	}
}
