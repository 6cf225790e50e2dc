package meta

import (
	"context"
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

// subscribedFields are the page webhook fields the channel consumes.
var subscribedFields = []string{
	"messages",
	"messaging_postbacks",
	"message_deliveries",
	"message_reads",
	"message_reactions",
}

// driver implements channel.Driver for one Messenger page or Instagram
// account. The access token is the session, so there is no interactive
// login.
type driver struct {
	cfg      *Config
	platform *platform
	logger   *slog.Logger
	http     *http.Client

	mu      sync.Mutex
	client  *Client
	account accountInfo
	sink    channel.Sink
}

var (
	_ channel.TypingDriver      = (*driver)(nil)
	_ channel.ReadReceiptDriver = (*driver)(nil)
	_ channel.MediaDriver       = (*driver)(nil)
)

func newDriver(cfg *Config, p *platform, logger *slog.Logger, hc *http.Client) *driver {
	return &driver{cfg: cfg, platform: p, logger: logger, http: hc}
}

func (d *driver) current() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

// HasSession implements channel.Driver.
func (d *driver) HasSession() bool { return true }

// Dial implements channel.Driver. It checks the token by reading the
// account node and optionally subscribes the app to the page.
func (d *driver) Dial(ctx context.Context, sink channel.Sink) error {
	d.mu.Lock()
	d.sink = sink
	connected := d.client != nil
	d.mu.Unlock()
	if connected {
		sink.OnConnected()
		return nil
	}

	c := newClient(d.cfg, d.http)
	acct, err := c.Account(ctx, d.cfg.account(), d.platform.accountFn)
	if err != nil {
		return fmt.Errorf("%s: account lookup failed (check access_token): %w", d.platform.name, err)
	}
	d.logger.Info(d.platform.name+" account authenticated", "id", acct.ID, "name", acct.display())

	if d.cfg.SubscribeWebhooks {
		if err := c.Subscribe(ctx, d.cfg.AccountID, subscribedFields); err != nil {
			return fmt.Errorf("%s: subscribe webhooks: %w", d.platform.name, err)
		}
		d.logger.Info(d.platform.name+" webhook subscription confirmed", "fields", subscribedFields)
	}

	d.mu.Lock()
	d.client = c
	d.account = acct
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

// DestroySession implements channel.Driver. The token lives in config, so
// logging out only stops delivery.
func (d *driver) DestroySession(ctx context.Context) error {
	return d.Close(ctx)
}

// Send implements channel.Driver.
func (d *driver) Send(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	c := d.current()
	if c == nil {
		return message.FailedResult(channel.ErrClientNotReady), nil
	}
	if a := msg.FirstAttachment(); a != nil && a.MediaID == "" && a.URL == "" && a.HasData() {
		up, err := d.upload(ctx, c, message.Media{Data: a.Data, MIMEType: a.MIMEType, Filename: a.Filename})
		if err != nil {
			return message.FailedResult(err), nil
		}
		msg = msg.Clone()
		msg.Attachments[0].MediaID = up
	}

	req, err := buildSendRequest(d.platform, msg)
	if err != nil {
		return message.FailedResult(err), nil
	}
	resp, err := c.SendMessage(ctx, d.cfg.account(), req)
	if err != nil {
		d.checkToken(err)
		return message.SendResult{}, err
	}
	return message.SentResult(resp.MessageID, time.Now()), nil
}

// SendTyping implements channel.TypingDriver. Instagram has no typing
// indicator.
func (d *driver) SendTyping(ctx context.Context, ind message.TypingIndicator) error {
	if !d.platform.typing {
		return fmt.Errorf("%w: typing indicator on %s", channel.ErrNotSupported, d.platform.name)
	}
	action := "typing_off"
	if ind.IsTyping {
		action = "typing_on"
	}
	return d.action(ctx, ind.RecipientID, action)
}

// MarkRead implements channel.ReadReceiptDriver. mark_seen covers the whole
// conversation, so MessageID is not sent.
func (d *driver) MarkRead(ctx context.Context, r message.ReadReceipt) error {
	return d.action(ctx, r.RecipientID, "mark_seen")
}

func (d *driver) action(ctx context.Context, recipient, action string) error {
	c := d.current()
	if c == nil {
		return channel.ErrClientNotReady
	}
	_, err := c.SendMessage(ctx, d.cfg.account(), senderAction(recipient, action))
	d.checkToken(err)
	return err
}

// Upload implements channel.MediaDriver. Only Messenger stores reusable
// attachments.
func (d *driver) Upload(ctx context.Context, media message.Media) (message.MediaUpload, error) {
	c := d.current()
	if c == nil {
		return message.MediaUpload{}, channel.ErrClientNotReady
	}
	id, err := d.upload(ctx, c, media)
	if err != nil {
		return message.MediaUpload{}, err
	}
	return message.MediaUpload{Success: true, MediaID: id}, nil
}

func (d *driver) upload(ctx context.Context, c *Client, media message.Media) (string, error) {
	if !d.platform.upload {
		return "", fmt.Errorf("%s: %w", d.platform.name, errNeedsMediaURL)
	}
	mimeType := media.MIMEType
	if mimeType == "" {
		mimeType = channel.DetectMIME(media.Data)
	}
	kind := attachmentKind(channel.ContentTypeFor(d.platform.limits.Category(mimeType)))
	name := media.Filename
	if name == "" {
		name = channel.FilenameFor("upload", mimeType)
	}
	id, err := c.UploadAttachment(ctx, d.cfg.account(), kind, name, mimeType, media.Data)
	if err != nil {
		d.checkToken(err)
		return "", err
	}
	return id, nil
}

// Download implements channel.MediaDriver. Inbound attachments carry a
// signed CDN URL rather than a media id, so mediaID is that URL.
func (d *driver) Download(ctx context.Context, mediaID string) (message.Media, error) {
	c := d.current()
	if c == nil {
		return message.Media{}, channel.ErrClientNotReady
	}
	u, err := url.Parse(mediaID)
	if err != nil || u.Scheme != "https" {
		return message.Media{}, fmt.Errorf("%s: media id must be an attachment https URL", d.platform.name)
	}
	data, mimeType, err := c.Fetch(ctx, mediaID, d.platform.limits.MaxSize())
	if err != nil {
		return message.Media{}, err
	}
	return message.Media{
		Data:     data,
		MIMEType: channel.NormalizeMIME(mimeType),
		Filename: path.Base(u.Path),
		Size:     int64(len(data)),
	}, nil
}

// Capabilities implements channel.Driver.
func (d *driver) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		ContentTypes:         d.platform.content,
		MaxMessageLength:     d.cfg.MaxMessageLength,
		SupportsTyping:       d.platform.typing,
		SupportsReadReceipts: true,
		SupportsMediaUpload:  d.platform.upload,
		AcceptsMediaURL:      true,
		Limits:               d.platform.limits,
	}
}

// handleWebhook receives payloads pushed to the gateway. Payloads arriving
// while disconnected are refused so Meta retries them.
func (d *driver) handleWebhook(p *webhookPayload) error {
	d.mu.Lock()
	sink, c, self := d.sink, d.client, d.account.ID
	d.mu.Unlock()
	if sink == nil || c == nil {
		return channel.ErrClientNotReady
	}

	for _, entry := range p.Entry {
		for _, ev := range entry.events() {
			if r, ok := convertReceipt(ev); ok {
				sink.OnReceipt(r)
				continue
			}
			if self != "" && ev.Sender.ID == self {
				continue
			}
			msg, ok := convertEvent(ev, entry.ID)
			if !ok {
				d.logger.Debug("ignoring unsupported messaging event", "entry", entry.ID, "sender", ev.Sender.ID)
				continue
			}
			sink.OnMessage(msg)
		}
	}
	return nil
}

// checkToken drops the client and reports a logout when Graph says the
// token is no longer valid.
func (d *driver) checkToken(err error) {
	if err == nil || !IsInvalidToken(err) {
		return
	}
	d.mu.Lock()
	sink := d.sink
	d.client = nil
	d.mu.Unlock()
	if sink != nil {
		sink.OnLoggedOut("access token rejected: " + err.Error())
	}
}
