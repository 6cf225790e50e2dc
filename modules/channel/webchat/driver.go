package webchat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

var (
	errVisitorOffline = errors.New("webchat: visitor not connected")
	errInvalidPayload = errors.New("invalid payload")
)

// driver implements channel.Driver and serves the widget sockets. There is
// no provider session: Dial opens the endpoint and Close drops every
// visitor.
type driver struct {
	cfg      *Config
	logger   *slog.Logger
	sessions *sessionStore

	mu     sync.RWMutex
	sink   channel.Sink
	ctx    context.Context
	cancel context.CancelFunc
}

var (
	_ channel.TypingDriver      = (*driver)(nil)
	_ channel.ReadReceiptDriver = (*driver)(nil)
	_ http.Handler              = (*driver)(nil)
)

func newDriver(cfg *Config, logger *slog.Logger) *driver {
	return &driver{cfg: cfg, logger: logger, sessions: newSessionStore()}
}

// open returns the sink and the lifetime of the endpoint, if dialed.
func (d *driver) open() (channel.Sink, context.Context, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cancel == nil {
		return nil, nil, false
	}
	return d.sink, d.ctx, true
}

// HasSession implements channel.Driver.
func (d *driver) HasSession() bool { return true }

// Dial implements channel.Driver.
func (d *driver) Dial(_ context.Context, sink channel.Sink) error {
	d.mu.Lock()
	d.sink = sink
	if d.cancel == nil {
		d.ctx, d.cancel = context.WithCancel(context.Background())
	}
	d.mu.Unlock()
	sink.OnConnected()
	return nil
}

// Close implements channel.Driver. Visitors are sent a going-away close.
func (d *driver) Close(context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel, d.ctx = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	defer cancel()

	var wg sync.WaitGroup
	for _, v := range d.sessions.drain() {
		wg.Go(func() {
			_ = v.conn.Close(websocket.StatusGoingAway, "server shutting down")
		})
	}
	wg.Wait()
	return nil
}

// DestroySession implements channel.Driver.
func (d *driver) DestroySession(ctx context.Context) error { return d.Close(ctx) }

// Send implements channel.Driver. The recipient is the visitor session id
// and the returned id is assigned here.
func (d *driver) Send(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	id := uuid.NewString()
	env, err := newEnvelope(frameMessage, id, toFrame(msg))
	if err != nil {
		return message.SendResult{}, err
	}
	if err := d.deliver(ctx, msg.RecipientID, env); err != nil {
		return message.SendResult{}, err
	}
	return message.SentResult(id, env.Timestamp), nil
}

// SendTyping implements channel.TypingDriver.
func (d *driver) SendTyping(ctx context.Context, ind message.TypingIndicator) error {
	env, err := newEnvelope(frameTyping, "", typingPayload{IsTyping: ind.IsTyping})
	if err != nil {
		return err
	}
	return d.deliver(ctx, ind.RecipientID, env)
}

// MarkRead implements channel.ReadReceiptDriver.
func (d *driver) MarkRead(ctx context.Context, r message.ReadReceipt) error {
	env, err := newEnvelope(frameRead, "", readPayload{MessageIDs: []string{r.MessageID}})
	if err != nil {
		return err
	}
	return d.deliver(ctx, r.RecipientID, env)
}

func (d *driver) deliver(ctx context.Context, sessionID string, env envelope) error {
	if _, _, ok := d.open(); !ok {
		return channel.ErrClientNotReady
	}
	v, ok := d.sessions.get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", errVisitorOffline, sessionID)
	}
	wctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()
	if err := v.write(wctx, env); err != nil {
		return fmt.Errorf("webchat: write to %s: %w", sessionID, err)
	}
	return nil
}

// Capabilities implements channel.Driver.
func (d *driver) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		ContentTypes: []message.ContentType{
			message.ContentText,
			message.ContentImage,
			message.ContentDocument,
		},
		MaxMessageLength:     d.cfg.MaxMessageLength,
		SupportsTyping:       true,
		SupportsReadReceipts: true,
		AcceptsMediaURL:      true,
		Limits:               channel.WebchatLimits,
	}
}

func (d *driver) authorized(r *http.Request) bool {
	if d.cfg.Token == "" {
		return true
	}
	tok := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(tok), []byte(d.cfg.Token)) == 1
}

// ServeHTTP runs one visitor socket: accept, register, greet, then read
// until the visitor leaves or the channel closes.
func (d *driver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sink, runCtx, ok := d.open()
	if !ok {
		http.Error(w, "channel not connected", http.StatusServiceUnavailable)
		return
	}
	if !d.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if _, err := uuid.Parse(sessionID); err != nil {
		sessionID = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: d.cfg.AllowedOrigins})
	if err != nil {
		d.logger.Warn("webchat accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()
	conn.SetReadLimit(d.cfg.MaxFrameBytes)

	now := time.Now()
	v := &visitor{
		id:          sessionID,
		name:        q.Get("name"),
		email:       q.Get("email"),
		conn:        conn,
		connectedAt: now,
		lastSeen:    now,
	}
	old, ok := d.sessions.add(v, d.cfg.MaxSessions)
	if !ok {
		d.logger.Warn("webchat session limit reached", "max_sessions", d.cfg.MaxSessions)
		_ = conn.Close(websocket.StatusTryAgainLater, "too many sessions")
		return
	}
	if old != nil {
		go func() { _ = old.conn.Close(websocket.StatusPolicyViolation, "session opened elsewhere") }()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	hello, err := newEnvelope(frameConnect, "", connectPayload{
		SessionID:        v.id,
		Welcome:          d.cfg.WelcomeMessage,
		MaxMessageLength: d.cfg.MaxMessageLength,
	})
	if err == nil {
		err = v.write(ctx, hello)
	}
	if err != nil {
		d.sessions.remove(v)
		d.logger.Warn("webchat greeting failed", "session", v.id, "error", err)
		return
	}

	d.logger.Info("webchat visitor connected", "session", v.id, "replaced", old != nil, "active", d.sessions.len())
	sink.OnPresence(channel.PresenceEvent{ChatID: v.id, SenderID: v.id, State: "available", LastSeen: now})

	if d.cfg.PingInterval > 0 {
		go d.pingLoop(ctx, v)
	}
	d.readLoop(ctx, sink, v)

	if d.sessions.remove(v) {
		sink.OnPresence(channel.PresenceEvent{ChatID: v.id, SenderID: v.id, State: "unavailable", LastSeen: v.seen()})
	}
	d.logger.Info("webchat visitor disconnected", "session", v.id, "duration", time.Since(v.connectedAt).Round(time.Second))
}

func (d *driver) readLoop(ctx context.Context, sink channel.Sink, v *visitor) {
	for {
		_, data, err := v.conn.Read(ctx)
		if err != nil {
			if s := websocket.CloseStatus(err); s == -1 && ctx.Err() == nil {
				d.logger.Debug("webchat read ended", "session", v.id, "error", err)
			}
			return
		}
		v.touch()

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			d.sendError(ctx, v, "", "invalid frame")
			continue
		}
		if err := d.handleFrame(ctx, sink, v, env); err != nil {
			d.logger.Debug("webchat frame rejected", "session", v.id, "type", env.Type, "error", err)
			d.sendError(ctx, v, env.ID, err.Error())
		}
	}
}

func (d *driver) handleFrame(ctx context.Context, sink channel.Sink, v *visitor, env envelope) error {
	now := time.Now()
	switch env.Type {
	case frameMessage:
		var p messagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		id := uuid.NewString()
		msg, err := toInbound(v, id, env.ID, p, d.cfg.MaxMessageLength, now)
		if err != nil {
			return err
		}
		if ack, err := newEnvelope(frameAck, env.ID, ackPayload{MessageID: id}); err == nil {
			if err := v.write(ctx, ack); err != nil {
				d.logger.Warn("webchat ack failed", "session", v.id, "error", err)
			}
		}
		sink.OnMessage(msg)

	case frameTyping:
		var p typingPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		state := "paused"
		if p.IsTyping {
			state = "composing"
		}
		sink.OnPresence(channel.PresenceEvent{ChatID: v.id, SenderID: v.id, State: state, LastSeen: now})

	case frameRead:
		var p readPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		sink.OnReceipt(channel.NewReceipt(p.MessageIDs, v.id, v.id, "read", now))

	case frameAck:
		var p ackPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		sink.OnReceipt(channel.NewReceipt([]string{p.MessageID}, v.id, v.id, "delivered", now))

	case framePresence:
		var p presencePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		state, ok := presenceStates[strings.ToLower(p.State)]
		if !ok {
			return fmt.Errorf("unknown presence state %q", p.State)
		}
		sink.OnPresence(channel.PresenceEvent{ChatID: v.id, SenderID: v.id, State: state, LastSeen: now})

	default:
		return fmt.Errorf("unsupported frame type %q", env.Type)
	}
	return nil
}

// presenceStates maps widget states onto PresenceEvent states.
var presenceStates = map[string]string{
	"online":  "available",
	"away":    "unavailable",
	"offline": "unavailable",
}

func decode(env envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w for %s frame", errInvalidPayload, env.Type)
	}
	return nil
}

func (d *driver) sendError(ctx context.Context, v *visitor, id, msg string) {
	env, err := newEnvelope(frameError, id, errorPayload{Message: msg})
	if err != nil {
		return
	}
	if err := v.write(ctx, env); err != nil {
		d.logger.Debug("webchat error frame not sent", "session", v.id, "error", err)
	}
}

func (d *driver) pingLoop(ctx context.Context, v *visitor) {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, d.cfg.PingInterval)
			err := v.conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Warn("webchat ping failed, disconnecting", "session", v.id, "last_seen", v.seen(), "error", err)
					_ = v.conn.Close(websocket.StatusGoingAway, "ping timeout")
				}
				return
			}
			v.touch()
		}
	}
}
