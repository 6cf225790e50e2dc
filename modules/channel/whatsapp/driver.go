package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

// qrGrace extends a QR challenge past whatsmeow's own rotation timeout so
// the next code, not our timer, supersedes it.
const qrGrace = 5 * time.Second

var (
	errNotOpen       = errors.New("whatsapp: device store not open")
	errMediaNotFound = errors.New("whatsapp: media not found")
)

// transportFactory builds a transport for the current device. It is called
// on open and again after a logout drops the device.
type transportFactory func(ctx context.Context) (transport, error)

// driver implements channel.Driver on top of whatsmeow.
type driver struct {
	cfg     *Config
	logger  *slog.Logger
	factory transportFactory
	media   *mediaCache

	mu     sync.Mutex
	client transport
	sink   channel.Sink
}

var (
	_ channel.InteractiveDriver = (*driver)(nil)
	_ channel.TypingDriver      = (*driver)(nil)
	_ channel.ReadReceiptDriver = (*driver)(nil)
	_ channel.MediaDriver       = (*driver)(nil)
)

func newDriver(cfg *Config, logger *slog.Logger, factory transportFactory) *driver {
	return &driver{
		cfg:     cfg,
		logger:  logger,
		factory: factory,
		media:   newMediaCache(cfg.MediaCacheSize),
	}
}

// open builds the client for the stored device, if not built yet.
func (d *driver) open(ctx context.Context) error {
	_, err := d.transport(ctx)
	return err
}

func (d *driver) transport(ctx context.Context) (transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	if d.factory == nil {
		return nil, errNotOpen
	}
	c, err := d.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", channel.ErrTransportUnavailable, err)
	}
	c.AddEventHandler(d.handleEvent)
	d.client = c
	return c, nil
}

func (d *driver) current() transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

func (d *driver) setSink(s channel.Sink) {
	d.mu.Lock()
	d.sink = s
	d.mu.Unlock()
}

func (d *driver) currentSink() channel.Sink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink
}

// HasSession implements channel.Driver.
func (d *driver) HasSession() bool {
	c := d.current()
	return c != nil && c.HasSession()
}

// Dial implements channel.Driver.
func (d *driver) Dial(ctx context.Context, sink channel.Sink) error {
	d.setSink(sink)
	c, err := d.transport(ctx)
	if err != nil {
		return err
	}
	if c.IsConnected() {
		sink.OnConnected()
		return nil
	}
	return c.Connect()
}

// Close implements channel.Driver.
func (d *driver) Close(context.Context) error {
	if c := d.current(); c != nil {
		c.Disconnect()
	}
	return nil
}

// DestroySession implements channel.Driver. The device is dropped so the
// next login pairs a fresh one.
func (d *driver) DestroySession(ctx context.Context) error {
	d.mu.Lock()
	c := d.client
	d.client = nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}

	var err error
	if c.IsConnected() && c.HasSession() {
		err = c.Logout(ctx)
	} else if c.HasSession() {
		err = c.DeleteSession(ctx)
	}
	c.Disconnect()
	return err
}

// RunLogin implements channel.InteractiveDriver.
func (d *driver) RunLogin(ctx context.Context, mode channel.LoginMode, phone string, sink channel.LoginSink) error {
	c, err := d.transport(ctx)
	if err != nil {
		return err
	}
	if c.HasSession() {
		return channel.ErrAlreadyAuthenticated
	}
	if c.IsConnected() {
		c.Disconnect()
	}

	qr, err := c.QRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: qr channel: %w", err)
	}
	if err := c.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect for login: %w", err)
	}

	paired := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-qr:
			if !ok {
				if c.HasSession() {
					return nil
				}
				return errors.New("whatsapp: login channel closed")
			}
			switch item.Event {
			case "code":
				if mode != channel.LoginPairCode {
					sink.Challenge(item.Code, item.Timeout+qrGrace)
					continue
				}
				// The first QR code means the socket is ready for a
				// pairing request. Later codes are ignored.
				if paired {
					continue
				}
				paired = true
				code, err := c.PairPhone(ctx, phone)
				if err != nil {
					return fmt.Errorf("whatsapp: pair phone: %w", err)
				}
				sink.Challenge(code, channel.DefaultPairCodeExpiry)
			case "success":
				return nil
			case "timeout":
				return channel.ErrChallengeExpired
			default:
				if item.Error != nil {
					return fmt.Errorf("whatsapp: login %s: %w", item.Event, item.Error)
				}
				return fmt.Errorf("whatsapp: login failed: %s", item.Event)
			}
		}
	}
}

// Send implements channel.Driver.
func (d *driver) Send(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	c := d.current()
	if c == nil || !c.IsConnected() {
		return message.FailedResult(channel.ErrClientNotReady), nil
	}
	to, err := parseRecipient(msg.RecipientID)
	if err != nil {
		return message.FailedResult(err), nil
	}
	wm, err := buildMessage(ctx, c, to, c.OwnJID(), msg)
	if err != nil {
		return message.FailedResult(err), nil
	}
	resp, err := c.SendMessage(ctx, to, wm)
	if err != nil {
		return message.SendResult{}, err
	}
	ts := resp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return message.SentResult(string(resp.ID), ts), nil
}

// SendTyping implements channel.TypingDriver.
func (d *driver) SendTyping(ctx context.Context, ind message.TypingIndicator) error {
	c := d.current()
	if c == nil || !c.IsConnected() {
		return channel.ErrClientNotReady
	}
	jid, err := parseRecipient(ind.RecipientID)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	var media types.ChatPresenceMedia
	if ind.IsTyping {
		state = types.ChatPresenceComposing
		if ind.Recording {
			media = types.ChatPresenceMediaAudio
		}
	}
	return c.SendChatPresence(ctx, jid, state, media)
}

// MarkRead implements channel.ReadReceiptDriver.
func (d *driver) MarkRead(ctx context.Context, r message.ReadReceipt) error {
	c := d.current()
	if c == nil || !c.IsConnected() {
		return channel.ErrClientNotReady
	}
	chat, err := parseRecipient(r.RecipientID)
	if err != nil {
		return err
	}
	sender := types.EmptyJID
	if r.SenderID != "" {
		if sender, err = parseRecipient(r.SenderID); err != nil {
			return err
		}
	} else if chat.Server != types.GroupServer {
		sender = chat
	}
	return c.MarkRead(ctx, []types.MessageID{types.MessageID(r.MessageID)}, chat, sender)
}

// Upload implements channel.MediaDriver. WhatsApp has no standalone media
// ids, so the returned MediaID is the direct path.
func (d *driver) Upload(ctx context.Context, media message.Media) (message.MediaUpload, error) {
	c := d.current()
	if c == nil || !c.IsConnected() {
		return message.MediaUpload{}, channel.ErrClientNotReady
	}
	att := message.Attachment{Type: channel.WhatsAppLimits.Category(media.MIMEType)}
	res, err := c.Upload(ctx, media.Data, mediaTypeFor("", att.Type))
	if err != nil {
		return message.MediaUpload{}, err
	}
	return message.MediaUpload{
		Success: true,
		MediaID: res.DirectPath,
		URL:     res.URL,
	}, nil
}

// Download implements channel.MediaDriver. mediaID is the id of a recent
// inbound message carrying media.
func (d *driver) Download(ctx context.Context, mediaID string) (message.Media, error) {
	c := d.current()
	if c == nil || !c.IsConnected() {
		return message.Media{}, channel.ErrClientNotReady
	}
	ref, ok := d.media.get(mediaID)
	if !ok {
		return message.Media{}, fmt.Errorf("%w: %s", errMediaNotFound, mediaID)
	}
	data, err := c.Download(ctx, ref.msg)
	if err != nil {
		return message.Media{}, err
	}
	return message.Media{
		Data:     data,
		MIMEType: ref.mimeType,
		Filename: ref.filename,
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
			message.ContentReaction,
		},
		MaxMessageLength:         d.cfg.MaxMessageLength,
		SupportsTyping:           true,
		SupportsReadReceipts:     true,
		SupportsInteractiveLogin: true,
		SupportsMediaUpload:      true,
		Limits:                   channel.WhatsAppLimits,
	}
}

// handleEvent maps whatsmeow events onto the sink. It runs on whatsmeow's
// event goroutine and must not block.
func (d *driver) handleEvent(evt any) {
	sink := d.currentSink()
	if sink == nil {
		return
	}

	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe && !d.cfg.IncludeFromMe {
			return
		}
		if v.Info.Chat.Server == types.BroadcastServer {
			return
		}
		msg, ref, ok := convertMessage(v)
		if !ok {
			d.logger.Debug("ignoring unsupported message", "id", v.Info.ID, "chat", v.Info.Chat.String())
			return
		}
		if ref != nil {
			d.media.put(*ref)
		}
		sink.OnMessage(msg)

	case *events.Receipt:
		sink.OnReceipt(convertReceipt(v))

	case *events.Presence:
		sink.OnPresence(convertPresence(v))

	case *events.ChatPresence:
		sink.OnPresence(convertChatPresence(v))

	case *events.Connected:
		sink.OnConnected()

	case *events.PairSuccess:
		d.logger.Info("device paired", "jid", v.ID.String(), "platform", v.Platform)

	case *events.Disconnected:
		sink.OnDisconnected("connection closed")

	case *events.StreamReplaced:
		sink.OnDisconnected("stream replaced by another client")

	case *events.ConnectFailure:
		sink.OnDisconnected(fmt.Sprintf("connect failure: %s", v.Reason.String()))

	case *events.TemporaryBan:
		sink.OnDisconnected(fmt.Sprintf("temporary ban: %s", v.String()))

	case *events.LoggedOut:
		sink.OnLoggedOut(v.Reason.String())
	}
}
