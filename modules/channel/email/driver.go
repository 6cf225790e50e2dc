package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// driver implements channel.Driver for one SMTP account. SMTP sessions are
// opened per send, so "connected" means the server accepted a login.
type driver struct {
	cfg       *Config
	logger    *slog.Logger
	newMailer func(*Config) (mailer, error)
	now       func() time.Time

	mu     sync.Mutex
	mailer mailer
	sink   channel.Sink

	// sendMu keeps one SMTP transaction in flight per channel.
	sendMu sync.Mutex
}

func newDriver(cfg *Config, logger *slog.Logger, newMailer func(*Config) (mailer, error)) *driver {
	if newMailer == nil {
		newMailer = newSMTPClient
	}
	return &driver{cfg: cfg, logger: logger, newMailer: newMailer, now: time.Now}
}

func (d *driver) current() mailer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mailer
}

// HasSession implements channel.Driver.
func (d *driver) HasSession() bool { return true }

// Dial implements channel.Driver. It logs in once to check the server and
// credentials, then closes the session.
func (d *driver) Dial(ctx context.Context, sink channel.Sink) error {
	d.mu.Lock()
	d.sink = sink
	connected := d.mailer != nil
	d.mu.Unlock()
	if connected {
		sink.OnConnected()
		return nil
	}

	m, err := d.newMailer(d.cfg)
	if err != nil {
		return err
	}
	if err := m.DialWithContext(ctx); err != nil {
		return fmt.Errorf("email: smtp login to %s failed: %w", d.cfg.SMTPHost, err)
	}
	if err := m.Close(); err != nil {
		d.logger.Debug("smtp close after login check", "error", err)
	}
	d.logger.Info("smtp server accepted login", "host", d.cfg.SMTPHost, "port", d.cfg.SMTPPort)

	d.mu.Lock()
	d.mailer = m
	d.mu.Unlock()
	sink.OnConnected()
	return nil
}

// Close implements channel.Driver.
func (d *driver) Close(context.Context) error {
	d.mu.Lock()
	d.mailer = nil
	d.mu.Unlock()
	return nil
}

// DestroySession implements channel.Driver.
func (d *driver) DestroySession(ctx context.Context) error {
	return d.Close(ctx)
}

// Send implements channel.Driver. The result's ExternalID is the
// Message-Id without angle brackets, the form delivery events carry.
func (d *driver) Send(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	m := d.current()
	if m == nil {
		return message.FailedResult(channel.ErrClientNotReady), nil
	}
	mail, err := buildMessage(d.cfg, msg)
	if err != nil {
		return message.FailedResult(err), nil
	}

	d.sendMu.Lock()
	err = m.DialAndSendWithContext(ctx, mail)
	d.sendMu.Unlock()
	if err != nil {
		if isRejected(err) {
			return message.FailedResult(err), nil
		}
		return message.SendResult{}, err
	}
	return message.SentResult(bareID(mail.GetMessageID()), d.now()), nil
}

// Capabilities implements channel.Driver. Media is always attached, so
// URLs are fetched before Send.
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
		MaxMessageLength: d.cfg.MaxMessageLength,
		Limits:           channel.EmailLimits,
	}
}

func (d *driver) connectedSink() channel.Sink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mailer == nil {
		return nil
	}
	return d.sink
}

// handleMail delivers an inbound mail. Posts arriving while disconnected
// are refused so the provider retries them.
func (d *driver) handleMail(in inboundMail) error {
	sink := d.connectedSink()
	if sink == nil {
		return channel.ErrClientNotReady
	}
	msg, ok := convertInbound(in, d.now())
	if !ok {
		d.logger.Debug("ignoring inbound mail without a sender", "recipient", in.get("recipient"))
		return nil
	}
	sink.OnMessage(msg)
	return nil
}

func (d *driver) handleEvent(ev event) error {
	sink := d.connectedSink()
	if sink == nil {
		return channel.ErrClientNotReady
	}
	if r, ok := convertEvent(ev); ok {
		sink.OnReceipt(r)
		return nil
	}
	if ev.EventData.Event == "failed" {
		d.logger.Warn("email delivery failed",
			"message_id", ev.EventData.Message.Headers.MessageID,
			"recipient", ev.EventData.Recipient,
			"severity", ev.EventData.Severity,
			"reason", ev.EventData.Reason,
		)
		return nil
	}
	d.logger.Debug("email event", "event", ev.EventData.Event)
	return nil
}
