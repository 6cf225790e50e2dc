package rcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// driver implements channel.Driver for one RBM agent. The service account
// is the session, so there is no interactive login.
type driver struct {
	cfg    *Config
	logger *slog.Logger
	http   *http.Client

	mu     sync.Mutex
	client *Client
	sink   channel.Sink
}

var (
	_ channel.TypingDriver      = (*driver)(nil)
	_ channel.ReadReceiptDriver = (*driver)(nil)
	_ channel.MediaDriver       = (*driver)(nil)
)

func newDriver(cfg *Config, logger *slog.Logger, hc *http.Client) *driver {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &driver{cfg: cfg, logger: logger, http: hc}
}

func (d *driver) current() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

// HasSession implements channel.Driver.
func (d *driver) HasSession() bool { return true }

// Dial implements channel.Driver. It loads the credentials and fetches a
// token so a bad key fails here rather than on the first send.
func (d *driver) Dial(_ context.Context, sink channel.Sink) error {
	d.mu.Lock()
	d.sink = sink
	connected := d.client != nil
	d.mu.Unlock()
	if connected {
		sink.OnConnected()
		return nil
	}

	tokens, err := newTokenSource(d.cfg, d.http)
	if err != nil {
		return err
	}
	c := newClient(d.cfg, d.http, tokens)
	if err := c.Authenticate(); err != nil {
		return fmt.Errorf("rcs: authentication failed (check credentials): %w", err)
	}
	d.logger.Info("rbm agent authenticated", "agent", d.cfg.AgentID)

	d.mu.Lock()
	d.client = c
	d.mu.Unlock()
	sink.OnConnected()
	return nil
}

// Close implements channel.Driver.
func (d *driver) Close(context.Context) error {
	d.mu.Lock()
	d.client = nil
	d.mu.Unlock()
	return nil
}

// DestroySession implements channel.Driver. Credentials live in config,
// so logging out only stops delivery.
func (d *driver) DestroySession(ctx context.Context) error {
	return d.Close(ctx)
}

// Send implements channel.Driver. Attachments that only carry data are
// uploaded to the RBM file store first.
func (d *driver) Send(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	c := d.current()
	if c == nil {
		return message.FailedResult(channel.ErrClientNotReady), nil
	}
	if !e164Pattern.MatchString(msg.RecipientID) {
		return message.FailedResult(fmt.Errorf("rcs: recipient %q is not an E.164 number", msg.RecipientID)), nil
	}
	if a := msg.FirstAttachment(); a != nil && a.MediaID == "" && a.URL == "" && a.HasData() {
		name, err := d.upload(ctx, c, message.Media{Data: a.Data, MIMEType: a.MIMEType})
		if err != nil {
			return message.FailedResult(err), nil
		}
		msg = msg.Clone()
		msg.Attachments[0].MediaID = name
	}

	content, err := buildContent(msg)
	if err != nil {
		return message.FailedResult(err), nil
	}
	sent, err := c.SendMessage(ctx, msg.RecipientID, content)
	switch {
	case err == nil:
	case IsAuthError(err):
		d.loggedOut(err)
		return message.SendResult{}, err
	case isRejected(err):
		return message.FailedResult(err), nil
	default:
		return message.SendResult{}, err
	}
	ts := sent.SendTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return message.SentResult(messageID(sent.Name), ts), nil
}

// SendTyping implements channel.TypingDriver. RBM has no "stopped typing"
// event; the indicator expires on its own.
func (d *driver) SendTyping(ctx context.Context, ind message.TypingIndicator) error {
	if !ind.IsTyping {
		return nil
	}
	return d.event(ctx, ind.RecipientID, agentEvent{EventType: eventTyping})
}

// MarkRead implements channel.ReadReceiptDriver.
func (d *driver) MarkRead(ctx context.Context, r message.ReadReceipt) error {
	if r.MessageID == "" {
		return &channel.InvalidOutboundMessageError{Field: "message_id"}
	}
	return d.event(ctx, r.RecipientID, agentEvent{EventType: eventRead, MessageID: r.MessageID})
}

func (d *driver) event(ctx context.Context, phone string, ev agentEvent) error {
	c := d.current()
	if c == nil {
		return channel.ErrClientNotReady
	}
	err := c.SendEvent(ctx, phone, ev)
	if IsAuthError(err) {
		d.loggedOut(err)
	}
	return err
}

// Upload implements channel.MediaDriver. The returned MediaID is a files/
// name that can be sent for the lifetime of the file on the RBM server.
func (d *driver) Upload(ctx context.Context, media message.Media) (message.MediaUpload, error) {
	c := d.current()
	if c == nil {
		return message.MediaUpload{}, channel.ErrClientNotReady
	}
	name, err := d.upload(ctx, c, media)
	if err != nil {
		return message.MediaUpload{}, err
	}
	return message.MediaUpload{Success: true, MediaID: name}, nil
}

func (d *driver) upload(ctx context.Context, c *Client, media message.Media) (string, error) {
	mimeType := media.MIMEType
	if mimeType == "" {
		mimeType = channel.DetectMIME(media.Data)
	}
	name, err := c.UploadFile(ctx, media.Data, mimeType)
	if IsAuthError(err) {
		d.loggedOut(err)
	}
	return name, err
}

// Download implements channel.MediaDriver. mediaID is the fileUri of an
// inbound user file.
func (d *driver) Download(ctx context.Context, mediaID string) (message.Media, error) {
	c := d.current()
	if c == nil {
		return message.Media{}, channel.ErrClientNotReady
	}
	u, err := url.Parse(mediaID)
	if err != nil || u.Scheme != "https" {
		return message.Media{}, errors.New("rcs: media id must be a user file https URL")
	}
	data, mimeType, err := c.Fetch(ctx, mediaID, channel.RCSLimits.MaxSize())
	if err != nil {
		return message.Media{}, err
	}
	mimeType = channel.NormalizeMIME(mimeType)
	if mimeType == "" {
		mimeType = channel.DetectMIME(data)
	}
	return message.Media{
		Data:     data,
		MIMEType: mimeType,
		Filename: channel.FilenameFor(path.Base(u.Path), mimeType),
		Size:     int64(len(data)),
	}, nil
}

// Capabilities implements channel.Driver.
func (d *driver) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		ContentTypes: []message.ContentType{
			message.ContentText,
			message.ContentImage,
			message.ContentVideo,
			message.ContentAudio,
			message.ContentDocument,
			message.ContentLocation,
		},
		MaxMessageLength:     d.cfg.MaxMessageLength,
		SupportsTyping:       true,
		SupportsReadReceipts: true,
		SupportsMediaUpload:  true,
		AcceptsMediaURL:      true,
		Limits:               channel.RCSLimits,
	}
}

// handleEvent receives decoded pushes from the gateway. Pushes arriving
// while disconnected are refused so Pub/Sub redelivers them.
func (d *driver) handleEvent(e *userEvent) error {
	d.mu.Lock()
	sink, c := d.sink, d.client
	d.mu.Unlock()
	if sink == nil || c == nil {
		return channel.ErrClientNotReady
	}
	if e.AgentID != "" && e.AgentID != d.cfg.AgentID {
		d.logger.Warn("ignoring rcs event for another agent", "agent", e.AgentID)
		return nil
	}

	now := time.Now()
	if e.isMessage() {
		msg, ok := convertMessage(e, now)
		if !ok {
			d.logger.Debug("ignoring unsupported rcs message", "id", e.MessageID)
			return nil
		}
		sink.OnMessage(msg)
		return nil
	}
	if r, ok := convertReceipt(e, now); ok {
		sink.OnReceipt(r)
		return nil
	}
	if e.EventType == eventTyping {
		sink.OnPresence(channel.PresenceEvent{
			ChatID:   e.SenderPhoneNumber,
			SenderID: e.SenderPhoneNumber,
			State:    "composing",
			LastSeen: e.timestamp(now),
		})
		return nil
	}
	d.logger.Debug("rcs event", "type", e.EventType, "id", e.EventID)
	return nil
}

// loggedOut drops the client and reports a logout when Google rejects the
// credentials.
func (d *driver) loggedOut(err error) {
	d.mu.Lock()
	sink := d.sink
	d.client = nil
	d.mu.Unlock()
	if sink != nil {
		sink.OnLoggedOut("rbm credentials rejected: " + err.Error())
	}
}
