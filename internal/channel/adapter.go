// Package channel is the channel adapter layer of the gateway. It owns the
// connection lifecycle of every messaging channel, including interactive
// QR or pairing-code login, normalizes provider events into pkg/message
// types, and delivers them to the registered handlers.
//
// Each channel module implements a small Driver around its provider SDK and
// embeds a *Base, which provides the state machine, the event dispatcher,
// media resolution and the uniform Adapter facade.
package channel

import (
	"context"

	"github.com/flemzord/sbridge/pkg/message"
)

// Adapter is the uniform contract every channel exposes to the rest of the
// gateway. Implementations are safe for concurrent use.
type Adapter interface {
	// Name returns the channel instance id.
	Name() string

	// Connect dials the provider. It is a no-op when already connected. When
	// no stored session exists the adapter moves to awaiting interactive
	// auth and BeginInteractiveLogin must be called.
	Connect(ctx context.Context) error
	// Disconnect closes the transport, keeping the stored session.
	Disconnect(ctx context.Context) error
	// BeginInteractiveLogin starts a QR or pairing-code login.
	BeginInteractiveLogin(ctx context.Context, mode LoginMode, phone string) (*LoginSession, error)
	// Logout closes the transport and invalidates the stored session.
	Logout(ctx context.Context) error

	// Send delivers msg. Failures are reported in the result, never as an error.
	Send(ctx context.Context, msg message.OutboundMessage) message.SendResult
	SendTypingIndicator(ctx context.Context, ind message.TypingIndicator) error
	SendReadReceipt(ctx context.Context, r message.ReadReceipt) error
	UploadMedia(ctx context.Context, media message.Media) (message.MediaUpload, error)
	DownloadMedia(ctx context.Context, mediaID string) (message.Media, error)

	// Handler registration. The last registration wins.
	SetMessageHandler(fn MessageHandler)
	SetStatusHandler(fn StatusHandler)
	SetConnectionHandler(fn ConnectionHandler)

	ConnectionStatus() message.ConnectionStatus
	Capabilities() Capabilities
}

// Capabilities describes what a channel supports.
type Capabilities struct {
	ContentTypes             []message.ContentType `json:"content_types"`
	MaxMessageLength         int                   `json:"max_message_length"`
	SupportsTyping           bool                  `json:"supports_typing"`
	SupportsReadReceipts     bool                  `json:"supports_read_receipts"`
	SupportsInteractiveLogin bool                  `json:"supports_interactive_login"`
	SupportsMediaUpload      bool                  `json:"supports_media_upload"`
	// AcceptsMediaURL means the provider fetches media URLs itself, so the
	// adapter forwards them without downloading.
	AcceptsMediaURL bool   `json:"accepts_media_url"`
	Limits          Limits `json:"-"`
}

// Supports reports whether ct is in ContentTypes.
func (c Capabilities) Supports(ct message.ContentType) bool {
	for _, t := range c.ContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// Sink receives transport events. Base implements it; drivers keep the
// sink passed to Dial and report through it.
type Sink interface {
	OnConnected()
	OnDisconnected(reason string)
	OnLoggedOut(reason string)
	OnMessage(msg message.InboundMessage)
	OnReceipt(r message.DeliveryReceipt)
	OnPresence(ev PresenceEvent)
}

// Driver wraps one provider transport.
type Driver interface {
	// HasSession reports whether stored credentials exist. Token-based
	// drivers always return true.
	HasSession() bool
	// Dial starts the transport. The driver reports confirmation through
	// sink.OnConnected, possibly before Dial returns.
	Dial(ctx context.Context, sink Sink) error
	// Close stops the transport. It must be idempotent.
	Close(ctx context.Context) error
	// DestroySession closes the transport and invalidates stored credentials.
	DestroySession(ctx context.Context) error
	// Send transmits a validated, resolved message.
	Send(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error)
	Capabilities() Capabilities
}

// InteractiveDriver is implemented by drivers that log in by QR or code.
// RunLogin blocks until the login ends; it reports challenges and the
// outcome through sink and must return when ctx is cancelled.
type InteractiveDriver interface {
	Driver
	RunLogin(ctx context.Context, mode LoginMode, phone string, sink LoginSink) error
}

// TypingDriver is implemented by drivers that can show typing indicators.
type TypingDriver interface {
	SendTyping(ctx context.Context, ind message.TypingIndicator) error
}

// ReadReceiptDriver is implemented by drivers that can mark messages read.
type ReadReceiptDriver interface {
	MarkRead(ctx context.Context, r message.ReadReceipt) error
}

// MediaDriver is implemented by drivers with a media store.
type MediaDriver interface {
	Upload(ctx context.Context, media message.Media) (message.MediaUpload, error)
	Download(ctx context.Context, mediaID string) (message.Media, error)
}

// SendLimiter throttles outbound sends by key.
type SendLimiter interface {
	AllowKey(key string) error
}
