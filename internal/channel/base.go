package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/sbridge/pkg/message"
)

const tracerName = "github.com/flemzord/sbridge/internal/channel"

// closeTimeout bounds transport teardown triggered from background paths.
const closeTimeout = 10 * time.Second

// errNotConnected is the send failure reported while not connected.
var errNotConnected = errors.New("not connected")

// BaseConfig configures a Base.
type BaseConfig struct {
	// Name is the channel instance id, for example "whatsapp-main".
	Name   string
	Driver Driver
	Logger *slog.Logger

	Metrics   *Metrics
	Locker    SessionLocker
	Owner     string
	Resolver  *Resolver
	Limiter   SendLimiter
	AllowList *AllowList
	QueueSize int
	Tracer    trace.Tracer
}

// Base implements Adapter on top of a Driver. It holds the connection state
// machine, the login session, the handler registry and the dispatcher.
type Base struct {
	name     string
	driver   Driver
	logger   *slog.Logger
	metrics  *Metrics
	locker   SessionLocker
	owner    string
	resolver *Resolver
	limiter  SendLimiter
	tracer   trace.Tracer

	allow atomic.Pointer[AllowList]

	mu            sync.Mutex
	sm            stateMachine
	login         *LoginSession
	wantConnected bool
	leased        bool

	handlers   *Handlers
	dispatcher *Dispatcher
}

var (
	_ Adapter = (*Base)(nil)
	_ Sink    = (*Base)(nil)
)

// NewBase creates a Base. Events are buffered until StartEvents.
func NewBase(cfg BaseConfig) *Base {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Resolver == nil {
		var limits Limits
		if cfg.Driver != nil {
			limits = cfg.Driver.Capabilities().Limits
		}
		cfg.Resolver = NewResolver(ResolverConfig{Limits: limits})
	}

	b := &Base{
		name:     cfg.Name,
		driver:   cfg.Driver,
		logger:   cfg.Logger.With("channel", cfg.Name),
		metrics:  cfg.Metrics,
		locker:   cfg.Locker,
		owner:    cfg.Owner,
		resolver: cfg.Resolver,
		limiter:  cfg.Limiter,
		tracer:   cfg.Tracer,
	}
	b.allow.Store(cfg.AllowList)
	b.handlers = newHandlers(&b.mu)
	b.dispatcher = NewDispatcher(DispatcherConfig{
		Channel:   cfg.Name,
		Handlers:  b.handlers,
		Logger:    b.logger,
		Metrics:   cfg.Metrics,
		QueueSize: cfg.QueueSize,
	})
	b.sm.onChange = func(from, to State, trigger Trigger) {
		b.metrics.transition(b.name, from, to)
		b.logger.Debug("connection state changed", "from", from, "to", to, "trigger", trigger)
	}
	return b
}

// Name returns the channel instance id.
func (b *Base) Name() string { return b.name }

// State returns the current connection state.
func (b *Base) State() State { return b.sm.Current() }

// StartEvents begins event delivery.
func (b *Base) StartEvents() { b.dispatcher.Start() }

// Close disconnects and stops event delivery.
func (b *Base) Close(ctx context.Context) error {
	err := b.Disconnect(ctx)
	return errors.Join(err, b.dispatcher.Stop(ctx))
}

// SetAllowList replaces the inbound allow-list. nil disables filtering.
func (b *Base) SetAllowList(a *AllowList) { b.allow.Store(a) }

// Connect implements Adapter.
func (b *Base) Connect(ctx context.Context) error {
	b.mu.Lock()
	switch b.sm.Current() {
	case StateConnected, StateAwaitingAuth:
		b.mu.Unlock()
		return nil
	case StateConnecting:
		b.mu.Unlock()
		return ErrAlreadyConnecting
	}
	if b.driver == nil {
		b.mu.Unlock()
		return ErrTransportUnavailable
	}
	if err := b.acquireLocked(ctx); err != nil {
		b.mu.Unlock()
		return err
	}
	b.wantConnected = true

	if !b.driver.HasSession() {
		b.sm.Fire(TriggerDialNoSession)
		b.mu.Unlock()
		b.logger.Info("no stored session, awaiting interactive login")
		return nil
	}
	b.sm.Fire(TriggerDialWithSession)
	b.mu.Unlock()

	if err := b.driver.Dial(ctx, b); err != nil {
		b.mu.Lock()
		b.sm.setError(err)
		b.sm.Fire(TriggerTransportRejected)
		b.wantConnected = false
		b.mu.Unlock()
		b.release(ctx)
		b.logger.Warn("connect failed", "error", err)
		if errors.Is(err, ErrTransportUnavailable) {
			return err
		}
		return &ConnectFailedError{Cause: err}
	}
	return nil
}

// BeginInteractiveLogin implements Adapter. A login already in progress is
// superseded.
func (b *Base) BeginInteractiveLogin(ctx context.Context, mode LoginMode, phone string) (*LoginSession, error) {
	if mode == "" {
		mode = LoginQR
	}

	b.mu.Lock()
	state := b.sm.Current()
	switch state {
	case StateConnected:
		b.mu.Unlock()
		return nil, ErrAlreadyAuthenticated
	case StateConnecting, StateLoggedOut:
		b.mu.Unlock()
		return nil, ErrClientNotReady
	}
	if b.driver == nil {
		b.mu.Unlock()
		return nil, ErrTransportUnavailable
	}
	drv, ok := b.driver.(InteractiveDriver)
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: interactive login", ErrNotSupported)
	}
	if state == StateDisconnected {
		if b.driver.HasSession() {
			b.mu.Unlock()
			return nil, ErrAlreadyAuthenticated
		}
		if err := b.acquireLocked(ctx); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.sm.Fire(TriggerDialNoSession)
	}
	b.wantConnected = true

	prev := b.login
	ls := newLoginSession(ctx, mode, phone)
	ls.onFinish = b.finishLogin
	ls.onChallenge = func(c Challenge) { b.dispatcher.Emit(ChallengeEvent{Challenge: c}) }
	b.login = ls
	b.mu.Unlock()

	if prev != nil {
		if err := prev.abort(ctx); err != nil {
			b.logger.Warn("previous login did not stop in time", "error", err)
		}
	}
	b.logger.Info("interactive login started", "mode", mode)
	ls.run(drv)
	return ls, nil
}

// finishLogin commits the terminal transition of a login session. It is a
// no-op for sessions that were superseded or torn down.
func (b *Base) finishLogin(ls *LoginSession, err error) {
	b.mu.Lock()
	if b.login != ls {
		b.mu.Unlock()
		return
	}
	b.login = nil

	if err == nil {
		if _, _, ok := b.sm.Fire(TriggerChallengeAccepted); ok {
			b.dispatcher.Emit(ConnectionEvent{Connected: true, Reason: "login succeeded"})
		}
		b.mu.Unlock()
		b.logger.Info("interactive login succeeded")
		return
	}

	trigger := TriggerLoginCancelled
	if errors.Is(err, ErrChallengeExpired) {
		trigger = TriggerChallengeExpired
	}
	b.sm.setError(err)
	_, _, changed := b.sm.Fire(trigger)
	b.wantConnected = false
	if changed {
		b.dispatcher.Emit(ConnectionEvent{Connected: false, Reason: err.Error()})
	}
	b.mu.Unlock()

	b.logger.Info("interactive login ended", "error", err)
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if cerr := b.driver.Close(ctx); cerr != nil {
		b.logger.Warn("closing transport after login failed", "error", cerr)
	}
	b.release(ctx)
}

// CurrentLogin returns the login session in progress, if any.
func (b *Base) CurrentLogin() *LoginSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.login
}

// CurrentChallenge returns the newest challenge of the login in progress.
func (b *Base) CurrentChallenge() (Challenge, bool) {
	ls := b.CurrentLogin()
	if ls == nil {
		return Challenge{}, false
	}
	return ls.Current()
}

// Disconnect implements Adapter.
func (b *Base) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	ls := b.login
	b.login = nil
	b.wantConnected = false
	_, _, changed := b.sm.Fire(TriggerDisconnect)
	if changed {
		b.dispatcher.Emit(ConnectionEvent{Connected: false, Reason: "disconnect requested"})
	}
	b.mu.Unlock()

	if ls != nil {
		if err := ls.abort(ctx); err != nil {
			b.logger.Warn("login did not stop in time", "error", err)
		}
	}

	var err error
	if b.driver != nil && (changed || ls != nil) {
		if cerr := b.driver.Close(ctx); cerr != nil {
			err = &TransportError{Op: "close", Cause: cerr}
		}
	}
	b.release(ctx)
	if changed {
		b.logger.Info("disconnected")
	}
	return err
}

// Logout implements Adapter.
func (b *Base) Logout(ctx context.Context) error {
	b.mu.Lock()
	if b.sm.Current() == StateLoggedOut {
		b.mu.Unlock()
		return nil
	}
	ls := b.login
	b.login = nil
	b.wantConnected = false
	if b.sm.Current() == StateConnecting {
		b.sm.Fire(TriggerDisconnect)
	}
	b.sm.Fire(TriggerLogout)
	b.dispatcher.Emit(LoggedOutEvent{Reason: "logout requested"})
	b.mu.Unlock()

	if ls != nil {
		if err := ls.abort(ctx); err != nil {
			b.logger.Warn("login did not stop in time", "error", err)
		}
	}

	var err error
	if b.driver != nil {
		if derr := b.driver.DestroySession(ctx); derr != nil {
			err = &TransportError{Op: "logout", Cause: derr}
		}
	}
	b.release(ctx)
	b.logger.Info("logged out")
	return err
}

func (b *Base) acquireLocked(ctx context.Context) error {
	if b.locker == nil || b.leased {
		return nil
	}
	if err := b.locker.Acquire(ctx, b.name, b.owner); err != nil {
		return err
	}
	b.leased = true
	return nil
}

func (b *Base) release(ctx context.Context) {
	b.mu.Lock()
	if b.locker == nil || !b.leased || b.wantConnected {
		b.mu.Unlock()
		return
	}
	b.leased = false
	b.mu.Unlock()
	if err := b.locker.Release(ctx, b.name, b.owner); err != nil {
		b.logger.Warn("releasing session lease failed", "error", err)
	}
}

// OnConnected implements Sink.
func (b *Base) OnConnected() {
	b.mu.Lock()
	switch b.sm.Current() {
	case StateConnecting:
		b.sm.Fire(TriggerTransportConfirmed)
		b.dispatcher.Emit(ConnectionEvent{Connected: true, Reason: "connected"})
	case StateAwaitingAuth:
		if ls := b.login; ls != nil {
			b.mu.Unlock()
			ls.Succeed()
			return
		}
		b.sm.Fire(TriggerChallengeAccepted)
		b.dispatcher.Emit(ConnectionEvent{Connected: true, Reason: "connected"})
	case StateDisconnected:
		// Transports that reconnect on their own report here.
		if b.wantConnected {
			b.sm.Fire(TriggerDialWithSession)
			b.sm.Fire(TriggerTransportConfirmed)
			b.dispatcher.Emit(ConnectionEvent{Connected: true, Reason: "reconnected"})
		}
	}
	b.mu.Unlock()
}

// OnDisconnected implements Sink.
func (b *Base) OnDisconnected(reason string) {
	b.mu.Lock()
	var changed bool
	switch b.sm.Current() {
	case StateConnected:
		_, _, changed = b.sm.Fire(TriggerTransportLost)
	case StateConnecting:
		_, _, changed = b.sm.Fire(TriggerTransportRejected)
		b.wantConnected = false
	}
	if changed {
		b.sm.setError(errors.New(reason))
		b.dispatcher.Emit(ConnectionEvent{Connected: false, Reason: reason})
	}
	b.mu.Unlock()

	if changed {
		b.logger.Warn("transport lost", "reason", reason)
		b.release(context.Background())
	}
}

// OnLoggedOut implements Sink.
func (b *Base) OnLoggedOut(reason string) {
	b.mu.Lock()
	_, _, changed := b.sm.Fire(TriggerRemoteRevoke)
	if !changed && b.sm.Current() == StateConnecting {
		b.sm.Fire(TriggerTransportRejected)
		changed = true
	}
	b.wantConnected = false
	if changed {
		b.sm.setError(errors.New("logged out: " + reason))
		b.dispatcher.Emit(LoggedOutEvent{Reason: reason})
	}
	b.mu.Unlock()

	if changed {
		b.logger.Warn("session revoked by provider", "reason", reason)
	}
	b.release(context.Background())
}

// OnMessage implements Sink.
func (b *Base) OnMessage(msg message.InboundMessage) {
	if msg.Channel == "" {
		msg.Channel = b.name
	}
	if al := b.allow.Load(); al != nil && !al.IsAllowed(msg) {
		b.logger.Debug("inbound message denied by allow-list", "sender", msg.SenderID, "chat", msg.ChatID)
		return
	}
	b.dispatcher.Emit(MessageEvent{Message: msg})
}

// OnReceipt implements Sink.
func (b *Base) OnReceipt(r message.DeliveryReceipt) {
	if len(r.MessageIDs) == 0 {
		return
	}
	b.dispatcher.Emit(ReceiptEvent{Receipt: r})
}

// OnPresence implements Sink.
func (b *Base) OnPresence(ev PresenceEvent) {
	b.dispatcher.Emit(ev)
}

// Send implements Adapter.
func (b *Base) Send(ctx context.Context, msg message.OutboundMessage) message.SendResult {
	ctx, span := b.tracer.Start(ctx, "channel.Send", trace.WithAttributes(
		attribute.String("channel", b.name),
		attribute.String("content_type", string(msg.ContentType)),
	))
	defer span.End()

	start := time.Now()
	res := b.send(ctx, msg)
	b.metrics.sent(b.name, string(res.Status), time.Since(start))

	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	} else {
		span.SetAttributes(attribute.String("external_id", res.ExternalID))
	}
	return res
}

func (b *Base) send(ctx context.Context, msg message.OutboundMessage) message.SendResult {
	if b.sm.Current() != StateConnected || b.driver == nil {
		return message.FailedResult(errNotConnected)
	}
	if b.limiter != nil {
		if err := b.limiter.AllowKey("send:" + b.name); err != nil {
			return message.FailedResult(err)
		}
	}
	if msg.ContentType == "" {
		msg.ContentType = message.ContentText
	}

	caps := b.driver.Capabilities()
	if len(msg.Attachments) > 0 {
		resolved, err := b.resolveAttachments(ctx, msg.Attachments, caps)
		if err != nil {
			return message.FailedResult(err)
		}
		msg.Attachments = resolved
	}
	if err := ValidateOutbound(msg); err != nil {
		return message.FailedResult(err)
	}

	var last message.SendResult
	for i, part := range SplitMessage(msg, ChunkConfig{MaxLength: caps.MaxMessageLength, PreserveBlocks: true}) {
		// A disconnect between parts stops the rest of the message.
		if i > 0 && b.sm.Current() != StateConnected {
			return message.FailedResult(errNotConnected)
		}
		res, err := b.driver.Send(ctx, part)
		if err != nil {
			b.logger.Warn("send failed", "recipient", msg.RecipientID, "error", err)
			return message.FailedResult(&TransportError{Op: "send", Cause: err})
		}
		if !res.Success {
			return res
		}
		last = res
	}
	return last
}

func (b *Base) resolveAttachments(ctx context.Context, in []message.Attachment, caps Capabilities) ([]message.Attachment, error) {
	out := make([]message.Attachment, len(in))
	for i, a := range in {
		if caps.AcceptsMediaURL && !a.HasData() && a.URL != "" {
			if err := b.resolver.Limits().CheckDeclared(a); err != nil {
				return nil, err
			}
			out[i] = a
			continue
		}
		r, err := b.resolver.ResolveAndCheck(ctx, a)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// SendTypingIndicator implements Adapter.
func (b *Base) SendTypingIndicator(ctx context.Context, ind message.TypingIndicator) error {
	if b.sm.Current() != StateConnected {
		return ErrClientNotReady
	}
	d, ok := b.driver.(TypingDriver)
	if !ok {
		return fmt.Errorf("%w: typing indicator", ErrNotSupported)
	}
	if err := d.SendTyping(ctx, ind); err != nil {
		return &TransportError{Op: "typing", Cause: err}
	}
	return nil
}

// SendReadReceipt implements Adapter.
func (b *Base) SendReadReceipt(ctx context.Context, r message.ReadReceipt) error {
	if b.sm.Current() != StateConnected {
		return ErrClientNotReady
	}
	d, ok := b.driver.(ReadReceiptDriver)
	if !ok {
		return fmt.Errorf("%w: read receipt", ErrNotSupported)
	}
	if err := d.MarkRead(ctx, r); err != nil {
		return &TransportError{Op: "read receipt", Cause: err}
	}
	return nil
}

// UploadMedia implements Adapter.
func (b *Base) UploadMedia(ctx context.Context, media message.Media) (message.MediaUpload, error) {
	if b.sm.Current() != StateConnected {
		return message.MediaUpload{}, ErrClientNotReady
	}
	d, ok := b.driver.(MediaDriver)
	if !ok {
		return message.MediaUpload{}, fmt.Errorf("%w: media upload", ErrNotSupported)
	}
	if len(media.Data) == 0 {
		return message.MediaUpload{}, ErrMissingMediaData
	}
	if media.MIMEType == "" {
		media.MIMEType = DetectMIME(media.Data)
	}
	limits := b.resolver.Limits()
	att := message.Attachment{
		Type:     limits.Category(media.MIMEType),
		Data:     media.Data,
		MIMEType: media.MIMEType,
	}
	if err := limits.Check(att); err != nil {
		return message.MediaUpload{}, err
	}
	up, err := d.Upload(ctx, media)
	if err != nil {
		return message.MediaUpload{Error: err.Error()}, &TransportError{Op: "upload", Cause: err}
	}
	return up, nil
}

// DownloadMedia implements Adapter.
func (b *Base) DownloadMedia(ctx context.Context, mediaID string) (message.Media, error) {
	d, ok := b.driver.(MediaDriver)
	if !ok {
		return message.Media{}, fmt.Errorf("%w: media download", ErrNotSupported)
	}
	m, err := d.Download(ctx, mediaID)
	if err != nil {
		return message.Media{}, &TransportError{Op: "download", Cause: err}
	}
	if m.MIMEType == "" && len(m.Data) > 0 {
		m.MIMEType = DetectMIME(m.Data)
	}
	if m.Filename == "" {
		m.Filename = FilenameFor(mediaID, m.MIMEType)
	}
	if m.Size == 0 {
		m.Size = int64(len(m.Data))
	}
	return m, nil
}

// SetMessageHandler implements Adapter.
func (b *Base) SetMessageHandler(fn MessageHandler) { b.handlers.SetMessage(fn) }

// SetStatusHandler implements Adapter.
func (b *Base) SetStatusHandler(fn StatusHandler) { b.handlers.SetStatus(fn) }

// SetConnectionHandler implements Adapter.
func (b *Base) SetConnectionHandler(fn ConnectionHandler) { b.handlers.SetConnection(fn) }

// SetPresenceHandler registers an optional presence observer.
func (b *Base) SetPresenceHandler(fn PresenceHandler) { b.handlers.SetPresence(fn) }

// SetChallengeHandler registers an optional login challenge observer.
func (b *Base) SetChallengeHandler(fn ChallengeHandler) { b.handlers.SetChallenge(fn) }

// ConnectionStatus implements Adapter. It does not take the adapter lock.
func (b *Base) ConnectionStatus() message.ConnectionStatus {
	state := b.sm.Current()
	return message.ConnectionStatus{
		Connected:   state == StateConnected,
		Status:      state.String(),
		Error:       b.sm.lastErr(),
		LastConnect: b.sm.lastConnected(),
		Metadata: map[string]string{
			"channel": b.name,
		},
	}
}

// Capabilities implements Adapter.
func (b *Base) Capabilities() Capabilities {
	if b.driver == nil {
		return Capabilities{}
	}
	return b.driver.Capabilities()
}

// Dispatcher exposes the event dispatcher, mainly for tests.
func (b *Base) Dispatcher() *Dispatcher { return b.dispatcher }
