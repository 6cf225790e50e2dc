package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// maxDownloadBytes is the Bot API getFile ceiling.
const maxDownloadBytes = 20 << 20

// driver implements channel.Driver on top of the Bot API. A bot token is
// its own session, so there is no interactive login.
type driver struct {
	cfg    *Config
	logger *slog.Logger
	http   *http.Client

	mu     sync.Mutex
	client *Client
	sink   channel.Sink
	poller *poller
}

var (
	_ channel.TypingDriver = (*driver)(nil)
	_ channel.MediaDriver  = (*driver)(nil)
)

func newDriver(cfg *Config, logger *slog.Logger, hc *http.Client) *driver {
	return &driver{cfg: cfg, logger: logger, http: hc}
}

func (d *driver) current() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

// HasSession implements channel.Driver.
func (d *driver) HasSession() bool { return true }

// Dial implements channel.Driver. It checks the token with getMe, then
// either starts long polling or registers the webhook.
func (d *driver) Dial(ctx context.Context, sink channel.Sink) error {
	d.mu.Lock()
	d.sink = sink
	connected := d.client != nil
	d.mu.Unlock()
	if connected {
		sink.OnConnected()
		return nil
	}

	c, err := dialClient(d.cfg, d.http)
	if err != nil {
		return err
	}
	self := c.Self()
	d.logger.Info("telegram bot authenticated", "id", self.ID, "username", self.UserName)

	var p *poller
	switch d.cfg.Mode {
	case modeWebhook:
		if err := c.SetWebhook(ctx, d.cfg.WebhookURL, d.cfg.WebhookSecret, d.cfg.AllowedUpdates); err != nil {
			c.Close()
			return fmt.Errorf("telegram: setWebhook failed: %w", err)
		}
		d.logger.Info("telegram webhook configured", "url", d.cfg.WebhookURL)
	default:
		// A leftover webhook makes getUpdates fail with 409.
		if err := c.DeleteWebhook(ctx); err != nil {
			c.Close()
			return fmt.Errorf("telegram: deleteWebhook failed: %w", err)
		}
		p = newPoller(c, d.cfg, d.logger, d.dispatch, d.revoked)
	}

	d.mu.Lock()
	d.client = c
	d.poller = p
	d.mu.Unlock()

	if p != nil {
		p.start()
		d.logger.Info("telegram polling started", "timeout", d.cfg.PollingTimeout)
	}
	sink.OnConnected()
	return nil
}

// Close implements channel.Driver.
func (d *driver) Close(ctx context.Context) error {
	d.mu.Lock()
	c, p := d.client, d.poller
	d.client, d.poller = nil, nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}

	if d.cfg.Mode == modeWebhook {
		if err := c.DeleteWebhook(ctx); err != nil {
			d.logger.Warn("telegram: failed to delete webhook on shutdown", "error", err)
		}
	}
	// Closing the client first aborts the pending getUpdates.
	c.Close()
	if p != nil {
		p.stop()
	}
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
	chat, err := parseChat(msg.RecipientID)
	if err != nil {
		return message.FailedResult(err), nil
	}
	req, err := buildChattable(chat, msg, d.cfg.ParseMode)
	if err != nil {
		return message.FailedResult(err), nil
	}
	sent, err := c.Send(ctx, req)
	if err != nil {
		return message.SendResult{}, err
	}
	ts := time.Now()
	if sent.Date != 0 {
		ts = sent.Time()
	}
	return message.SentResult(strconv.Itoa(sent.MessageID), ts), nil
}

// SendTyping implements channel.TypingDriver. Telegram clears the action
// on its own after a few seconds, so a stop indicator is a no-op.
func (d *driver) SendTyping(ctx context.Context, ind message.TypingIndicator) error {
	c := d.current()
	if c == nil {
		return channel.ErrClientNotReady
	}
	if !ind.IsTyping {
		return nil
	}
	chat, err := parseChat(ind.RecipientID)
	if err != nil {
		return err
	}
	action := tgbotapi.ChatActionConfig{BaseChat: chat.base(""), Action: chatAction(ind)}
	return c.Request(ctx, action)
}

// Upload implements channel.MediaDriver. The Bot API has no standalone
// upload endpoint.
func (d *driver) Upload(context.Context, message.Media) (message.MediaUpload, error) {
	return message.MediaUpload{}, fmt.Errorf("%w: telegram has no media upload endpoint", channel.ErrNotSupported)
}

// Download implements channel.MediaDriver. mediaID is a Telegram file_id.
func (d *driver) Download(ctx context.Context, mediaID string) (message.Media, error) {
	c := d.current()
	if c == nil {
		return message.Media{}, channel.ErrClientNotReady
	}
	data, name, err := c.Download(ctx, mediaID, maxDownloadBytes)
	if err != nil {
		return message.Media{}, err
	}
	return message.Media{
		Data:     data,
		MIMEType: channel.DetectMIME(data),
		Filename: name,
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
			message.ContentContact,
		},
		MaxMessageLength: d.cfg.MaxMessageLength,
		SupportsTyping:   true,
		AcceptsMediaURL:  true,
		Limits:           channel.TelegramLimits,
	}
}

// handleWebhook receives updates pushed to the gateway. Updates arriving
// while disconnected are refused so Telegram redelivers them later.
func (d *driver) handleWebhook(update *tgbotapi.Update) error {
	if d.current() == nil {
		return channel.ErrClientNotReady
	}
	d.dispatch(update)
	return nil
}

func (d *driver) dispatch(update *tgbotapi.Update) {
	d.mu.Lock()
	sink, c := d.sink, d.client
	d.mu.Unlock()
	if sink == nil || c == nil {
		return
	}

	msg, ok := convertUpdate(update, c.Self().UserName)
	if !ok {
		d.logger.Debug("ignoring unsupported update", "update_id", update.UpdateID)
		return
	}
	sink.OnMessage(msg)
}

// revoked runs on the poller goroutine when the token is rejected. The
// poller exits by itself, so it is not stopped here.
func (d *driver) revoked(reason string) {
	d.mu.Lock()
	c, sink := d.client, d.sink
	d.client, d.poller = nil, nil
	d.mu.Unlock()
	if c != nil {
		c.Close()
	}
	if sink != nil {
		sink.OnLoggedOut("bot token rejected: " + reason)
	}
}
