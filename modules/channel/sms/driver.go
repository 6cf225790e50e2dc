package sms

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// driver implements channel.Driver for one Twilio sender. Credentials are
// the session, so there is no interactive login.
type driver struct {
	cfg    *Config
	logger *slog.Logger
	http   *http.Client
	newAPI func(*Config) messagesAPI

	mu   sync.Mutex
	api  messagesAPI
	sink channel.Sink
}

var _ channel.MediaDriver = (*driver)(nil)

func newDriver(cfg *Config, logger *slog.Logger, newAPI func(*Config) messagesAPI) *driver {
	if newAPI == nil {
		newAPI = newRestAPI
	}
	return &driver{
		cfg:    cfg,
		logger: logger,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		newAPI: newAPI,
	}
}

func (d *driver) current() messagesAPI {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api
}

// HasSession implements channel.Driver.
func (d *driver) HasSession() bool { return true }

// Dial implements channel.Driver. It checks the credentials by fetching
// the account and refuses suspended or closed accounts.
func (d *driver) Dial(ctx context.Context, sink channel.Sink) error {
	d.mu.Lock()
	d.sink = sink
	connected := d.api != nil
	d.mu.Unlock()
	if connected {
		sink.OnConnected()
		return nil
	}

	api := d.newAPI(d.cfg)
	acct, err := call(ctx, func() (accountView, error) {
		a, err := api.FetchAccount(d.cfg.AccountSID)
		return viewAccount(a), err
	})
	if err != nil {
		return fmt.Errorf("sms: account lookup failed (check credentials): %w", err)
	}
	if acct.status != "" && acct.status != "active" {
		return fmt.Errorf("sms: twilio account is %s", acct.status)
	}
	d.logger.Info("twilio account authenticated", "account", d.cfg.AccountSID, "name", acct.name)

	d.mu.Lock()
	d.api = api
	d.mu.Unlock()
	sink.OnConnected()
	return nil
}

// Close implements channel.Driver.
func (d *driver) Close(context.Context) error {
	d.mu.Lock()
	d.api = nil
	d.mu.Unlock()
	return nil
}

// DestroySession implements channel.Driver. Credentials live in config,
// so logging out only stops delivery.
func (d *driver) DestroySession(ctx context.Context) error {
	return d.Close(ctx)
}

// Send implements channel.Driver.
func (d *driver) Send(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	api := d.current()
	if api == nil {
		return message.FailedResult(channel.ErrClientNotReady), nil
	}
	params, err := buildParams(d.cfg, msg)
	if err != nil {
		return message.FailedResult(err), nil
	}
	sent, err := call(ctx, func() (sentView, error) {
		m, err := api.CreateMessage(params)
		return viewMessage(m), err
	})
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
	if sent.errorCode != 0 {
		return message.FailedResult(fmt.Errorf("sms: twilio error %d: %s", sent.errorCode, sent.errorMessage)), nil
	}
	res := message.SentResult(sent.sid, time.Now())
	res.Status = sendStatus(sent.status)
	return res, nil
}

// Upload implements channel.MediaDriver. Twilio fetches MMS media from a
// public URL and has no upload endpoint.
func (d *driver) Upload(context.Context, message.Media) (message.MediaUpload, error) {
	return message.MediaUpload{}, fmt.Errorf("%w: upload a file to storage and send its URL", errNeedsMediaURL)
}

// Download implements channel.MediaDriver. mediaID is the MediaUrl of an
// inbound message.
func (d *driver) Download(ctx context.Context, mediaID string) (message.Media, error) {
	if d.current() == nil {
		return message.Media{}, channel.ErrClientNotReady
	}
	data, mimeType, err := fetchMedia(ctx, d.http, d.cfg, mediaID, channel.SMSLimits.MaxSize())
	if err != nil {
		return message.Media{}, err
	}
	mimeType = channel.NormalizeMIME(mimeType)
	if mimeType == "" {
		mimeType = channel.DetectMIME(data)
	}
	name := mediaID
	if u, err := url.Parse(mediaID); err == nil {
		name = path.Base(u.Path)
	}
	return message.Media{
		Data:     data,
		MIMEType: mimeType,
		Filename: channel.FilenameFor(name, mimeType),
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
		MaxMessageLength: d.cfg.MaxMessageLength,
		AcceptsMediaURL:  true,
		Limits:           channel.SMSLimits,
	}
}

// handleWebhook receives form posts from the gateway. Posts arriving while
// disconnected are refused so Twilio retries them.
func (d *driver) handleWebhook(form url.Values) error {
	d.mu.Lock()
	sink, api := d.sink, d.api
	d.mu.Unlock()
	if sink == nil || api == nil {
		return channel.ErrClientNotReady
	}

	now := time.Now()
	if isInbound(form) {
		msg, ok := convertInbound(form, now)
		if !ok {
			d.logger.Debug("ignoring incomplete sms webhook")
			return nil
		}
		sink.OnMessage(msg)
		return nil
	}

	status := callbackStatus(form)
	if r, ok := convertStatus(form, now); ok {
		sink.OnReceipt(r)
		return nil
	}
	if status == "failed" || status == "undelivered" {
		d.logger.Warn("sms delivery failed",
			"sid", messageSID(form),
			"status", status,
			"error_code", form.Get("ErrorCode"),
		)
		return nil
	}
	d.logger.Debug("sms status update", "sid", messageSID(form), "status", status)
	return nil
}

// loggedOut drops the client and reports a logout when Twilio rejects the
// credentials.
func (d *driver) loggedOut(err error) {
	d.mu.Lock()
	sink := d.sink
	d.api = nil
	d.mu.Unlock()
	if sink != nil {
		sink.OnLoggedOut("twilio credentials rejected: " + err.Error())
	}
}

// accountView and sentView copy the SDK's pointer fields once so callers
// never dereference nil.
type accountView struct {
	name   string
	status string
}

func viewAccount(a *openapi.ApiV2010Account) accountView {
	if a == nil {
		return accountView{}
	}
	return accountView{name: deref(a.FriendlyName), status: deref(a.Status)}
}

type sentView struct {
	sid          string
	status       string
	errorCode    int
	errorMessage string
}

func viewMessage(m *openapi.ApiV2010Message) sentView {
	if m == nil {
		return sentView{}
	}
	v := sentView{sid: deref(m.Sid), status: deref(m.Status), errorMessage: deref(m.ErrorMessage)}
	if m.ErrorCode != nil {
		v.errorCode = *m.ErrorCode
	}
	return v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
