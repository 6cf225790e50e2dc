// Package channeltest provides fakes for exercising channel adapters
// without a provider.
package channeltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// FakeDriver is an in-memory channel.InteractiveDriver. By default it has a
// stored session and confirms the connection synchronously from Dial.
type FakeDriver struct {
	mu       sync.Mutex
	session  bool
	caps     channel.Capabilities
	sink     channel.Sink
	sent     []message.OutboundMessage
	typing   []message.TypingIndicator
	reads    []message.ReadReceipt
	uploads  []message.Media
	media    map[string]message.Media
	dials    int
	closes   int
	destroys int
	nextID   int

	// ManualConfirm leaves the adapter in Connecting after Dial; call
	// Confirm to finish.
	ManualConfirm bool
	// DialErr, if set, is returned by Dial.
	DialErr error
	// SendFunc, if set, replaces the default recording Send.
	SendFunc func(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error)
	// CloseFunc, if set, runs after Close is counted.
	CloseFunc func(ctx context.Context) error
	// LoginFunc, if set, runs the interactive login. The default blocks
	// until the login is cancelled.
	LoginFunc func(ctx context.Context, mode channel.LoginMode, phone string, sink channel.LoginSink) error
}

var (
	_ channel.InteractiveDriver = (*FakeDriver)(nil)
	_ channel.TypingDriver      = (*FakeDriver)(nil)
	_ channel.ReadReceiptDriver = (*FakeDriver)(nil)
	_ channel.MediaDriver       = (*FakeDriver)(nil)
)

// NewFakeDriver creates a FakeDriver with a stored session and text-only
// capabilities.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		session: true,
		media:   make(map[string]message.Media),
		caps: channel.Capabilities{
			ContentTypes: []message.ContentType{
				message.ContentText,
				message.ContentImage,
				message.ContentLocation,
				message.ContentReaction,
			},
			SupportsTyping:           true,
			SupportsReadReceipts:     true,
			SupportsInteractiveLogin: true,
			SupportsMediaUpload:      true,
			Limits:                   channel.WhatsAppLimits,
		},
	}
}

// SetSession sets whether stored credentials exist.
func (d *FakeDriver) SetSession(ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = ok
}

// SetCapabilities replaces the reported capabilities.
func (d *FakeDriver) SetCapabilities(c channel.Capabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = c
}

// PutMedia stores a payload returned by Download.
func (d *FakeDriver) PutMedia(id string, m message.Media) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.media[id] = m
}

func (d *FakeDriver) HasSession() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *FakeDriver) Dial(_ context.Context, sink channel.Sink) error {
	d.mu.Lock()
	d.dials++
	d.sink = sink
	err := d.DialErr
	manual := d.ManualConfirm
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if !manual {
		sink.OnConnected()
	}
	return nil
}

func (d *FakeDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	if d.CloseFunc != nil {
		return d.CloseFunc(ctx)
	}
	return nil
}

func (d *FakeDriver) DestroySession(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroys++
	d.session = false
	return nil
}

func (d *FakeDriver) Send(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	if d.SendFunc != nil {
		return d.SendFunc(ctx, msg)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg.Clone())
	d.nextID++
	return message.SentResult(fmt.Sprintf("fake-%d", d.nextID), time.Now()), nil
}

func (d *FakeDriver) Capabilities() channel.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *FakeDriver) RunLogin(ctx context.Context, mode channel.LoginMode, phone string, sink channel.LoginSink) error {
	if d.LoginFunc != nil {
		err := d.LoginFunc(ctx, mode, phone, sink)
		if err == nil {
			d.SetSession(true)
		}
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *FakeDriver) SendTyping(_ context.Context, ind message.TypingIndicator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typing = append(d.typing, ind)
	return nil
}

func (d *FakeDriver) MarkRead(_ context.Context, r message.ReadReceipt) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads = append(d.reads, r)
	return nil
}

func (d *FakeDriver) Upload(_ context.Context, m message.Media) (message.MediaUpload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads = append(d.uploads, m)
	id := fmt.Sprintf("media-%d", len(d.uploads))
	d.media[id] = m
	return message.MediaUpload{Success: true, MediaID: id}, nil
}

func (d *FakeDriver) Download(_ context.Context, id string) (message.Media, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.media[id]
	if !ok {
		return message.Media{}, fmt.Errorf("fake: media %q not found", id)
	}
	return m, nil
}

// Sink returns the sink passed to the last Dial.
func (d *FakeDriver) Sink() channel.Sink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink
}

// Confirm reports the pending dial as confirmed.
func (d *FakeDriver) Confirm() {
	if s := d.Sink(); s != nil {
		s.OnConnected()
	}
}

// Sent returns a copy of every message passed to Send.
func (d *FakeDriver) Sent() []message.OutboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.OutboundMessage(nil), d.sent...)
}

// Typing returns the typing indicators sent.
func (d *FakeDriver) Typing() []message.TypingIndicator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.TypingIndicator(nil), d.typing...)
}

// Reads returns the read receipts sent.
func (d *FakeDriver) Reads() []message.ReadReceipt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.ReadReceipt(nil), d.reads...)
}

// Counts returns how many times Dial, Close and DestroySession ran.
func (d *FakeDriver) Counts() (dials, closes, destroys int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials, d.closes, d.destroys
}
