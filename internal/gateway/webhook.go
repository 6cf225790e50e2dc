package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/sbridge/internal/security"
)

// ErrInvalidSignature is returned by webhook handlers that check their own
// provider signature. The dispatcher answers 401 for it.
var ErrInvalidSignature = errors.New("gateway: invalid webhook signature")

// WebhookHandler processes a webhook payload.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, source string, body []byte, headers http.Header) error
}

// WebhookVerifier is implemented by handlers whose provider confirms the
// endpoint with a GET handshake. It returns the body to echo back.
type WebhookVerifier interface {
	VerifyWebhook(query url.Values) (string, error)
}

// WebhookResponder is implemented by handlers whose provider expects a
// specific reply body, such as TwiML or a handshake echo. It replaces
// HandleWebhook when present.
type WebhookResponder interface {
	RespondWebhook(ctx context.Context, source string, body []byte, headers http.Header) (contentType string, reply []byte, err error)
}

// WebhookBodyLimiter is implemented by handlers that accept bodies larger
// than the dispatcher default, such as inbound mail with attachments.
type WebhookBodyLimiter interface {
	MaxWebhookBody() int
}

type webhookEntry struct {
	handler WebhookHandler
	secret  string
}

// WebhookDispatcher routes incoming webhooks to registered handlers with
// optional HMAC validation.
type WebhookDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]webhookEntry
	logger   *slog.Logger
	metrics  *Metrics
	maxBody  int
}

// NewWebhookDispatcher creates a ready-to-use dispatcher.
func NewWebhookDispatcher(logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		handlers: make(map[string]webhookEntry),
		logger:   logger,
		maxBody:  security.DefaultMaxPayload,
	}
}

// Register adds a handler for source. A non-empty secret makes the
// dispatcher require a matching X-Signature-256 header.
func (d *WebhookDispatcher) Register(source string, h WebhookHandler, secret string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[source] = webhookEntry{handler: h, secret: secret}
}

// Unregister removes the handler for source.
func (d *WebhookDispatcher) Unregister(source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, source)
}

// Has reports whether source has a handler.
func (d *WebhookDispatcher) Has(source string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[source]
	return ok
}

// Sources returns the registered source names in sorted order.
func (d *WebhookDispatcher) Sources() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for s := range d.handlers {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (d *WebhookDispatcher) lookup(r *http.Request) (string, webhookEntry, bool) {
	source := chi.URLParam(r, "source")
	d.mu.RLock()
	entry, ok := d.handlers[source]
	d.mu.RUnlock()
	return source, entry, ok
}

// ServeHTTP implements http.Handler for POST /webhooks/{source}.
func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source, entry, ok := d.lookup(r)
	if !ok {
		d.logger.Warn("webhook received for unregistered source", "source", source)
		d.metrics.webhook(source, "unregistered")
		http.Error(w, "unknown webhook source", http.StatusNotFound)
		return
	}

	body, err := d.readBody(r, entry.handler)
	if err != nil {
		d.metrics.webhook(source, "rejected")
		if errors.Is(err, security.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if entry.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if !validateHMAC(body, sig, entry.secret) {
			d.metrics.webhook(source, "rejected")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	contentType, reply := "application/json", []byte(`{"ok":true}`)
	if rs, ok := entry.handler.(WebhookResponder); ok {
		var ct string
		var out []byte
		if ct, out, err = rs.RespondWebhook(r.Context(), source, body, r.Header); err == nil && ct != "" {
			contentType, reply = ct, out
		}
	} else {
		err = entry.handler.HandleWebhook(r.Context(), source, body, r.Header)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			d.logger.Warn("webhook signature rejected", "source", source)
			d.metrics.webhook(source, "rejected")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		d.logger.Error("webhook handler failed", "source", source, "error", err)
		d.metrics.webhook(source, "failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	d.metrics.webhook(source, "ok")
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(reply)
}

// readBody applies the JSON depth check only to JSON or untyped bodies, so
// form posts and multipart uploads are read as-is.
func (d *WebhookDispatcher) readBody(r *http.Request, h WebhookHandler) ([]byte, error) {
	limit := d.maxBody
	if l, ok := h.(WebhookBodyLimiter); ok && l.MaxWebhookBody() > limit {
		limit = l.MaxWebhookBody()
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "" || mt == "application/json" || strings.HasSuffix(mt, "+json") {
		return security.ReadPayload(r.Body, limit)
	}
	return security.ReadBody(r.Body, limit)
}

// ServeVerify handles GET /webhooks/{source} for handlers implementing
// WebhookVerifier.
func (d *WebhookDispatcher) ServeVerify(w http.ResponseWriter, r *http.Request) {
	source, entry, ok := d.lookup(r)
	if !ok {
		http.Error(w, "unknown webhook source", http.StatusNotFound)
		return
	}
	v, ok := entry.handler.(WebhookVerifier)
	if !ok {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	challenge, err := v.VerifyWebhook(r.URL.Query())
	if err != nil {
		d.logger.Warn("webhook verification rejected", "source", source, "error", err)
		d.metrics.webhook(source, "rejected")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	d.logger.Info("webhook verified", "source", source)
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(challenge))
}

// ValidateHMAC checks a "sha256=<hex>" signature of body in constant time.
// It is shared with channel modules whose providers sign the same way.
func ValidateHMAC(body []byte, signature, secret string) bool {
	return validateHMAC(body, signature, secret)
}

func validateHMAC(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
