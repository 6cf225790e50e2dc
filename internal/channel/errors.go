package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors for channel operations.
var (
	// ErrNoChannel indicates a send targets a channel that is not registered.
	ErrNoChannel = errors.New("channel: unknown channel")

	// ErrDuplicateChannel indicates a channel with the same name is already
	// registered.
	ErrDuplicateChannel = errors.New("channel: duplicate channel name")

	// ErrDenied indicates an inbound message was blocked by the allow-list.
	ErrDenied = errors.New("channel: sender not allowed")

	// ErrClientNotReady indicates the transport has not been dialed yet, or
	// is mid-dial, so the requested operation cannot run.
	ErrClientNotReady = errors.New("channel: client not ready")

	// ErrAlreadyConnecting is returned by Connect while a dial is in flight.
	ErrAlreadyConnecting = errors.New("channel: already connecting")

	// ErrAlreadyAuthenticated is returned by BeginInteractiveLogin when a
	// valid session already exists.
	ErrAlreadyAuthenticated = errors.New("channel: already authenticated")

	// ErrChallengeExpired ends a login whose current challenge timed out.
	ErrChallengeExpired = errors.New("channel: login challenge expired")

	// ErrLoginCancelled ends a login that was cancelled or superseded.
	ErrLoginCancelled = errors.New("channel: login cancelled")

	// ErrTransportUnavailable indicates the provider transport could not be
	// constructed or reached.
	ErrTransportUnavailable = errors.New("channel: transport unavailable")

	// ErrNotSupported indicates the channel does not implement an optional
	// operation (for example interactive login on a token-based channel).
	ErrNotSupported = errors.New("channel: operation not supported")

	// ErrMissingMediaData indicates an attachment has neither inline data
	// nor a URL.
	ErrMissingMediaData = errors.New("channel: attachment has no data or url")

	// ErrMediaTooLarge indicates an attachment exceeds the channel ceiling
	// for its category.
	ErrMediaTooLarge = errors.New("channel: media too large")

	// ErrUnsupportedMediaType indicates the channel does not accept the MIME type.
	ErrUnsupportedMediaType = errors.New("channel: unsupported media type")

	// ErrSessionLocked indicates another adapter instance holds the session
	// for this channel id.
	ErrSessionLocked = errors.New("channel: session held by another owner")
)

// ConnectFailedError reports a dial rejected by the transport.
type ConnectFailedError struct {
	Cause error
}

func (e *ConnectFailedError) Error() string {
	return "channel: connect failed: " + e.Cause.Error()
}

func (e *ConnectFailedError) Unwrap() error { return e.Cause }

// TransportError wraps an opaque failure from the provider transport.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("channel: transport %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// InvalidOutboundMessageError reports an outbound message missing a field
// its content type requires.
type InvalidOutboundMessageError struct {
	Field string
}

func (e *InvalidOutboundMessageError) Error() string {
	return "channel: invalid outbound message: missing " + e.Field
}
