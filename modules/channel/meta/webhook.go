package meta

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/flemzord/sbridge/internal/gateway"
)

const signatureHeader = "X-Hub-Signature-256"

var (
	errInvalidSignature = fmt.Errorf("meta: invalid %s: %w", signatureHeader, gateway.ErrInvalidSignature)
	errVerifyMismatch   = errors.New("meta: hub.verify_token mismatch")
)

// webhookReceiver implements gateway.WebhookHandler and
// gateway.WebhookVerifier for one channel.
type webhookReceiver struct {
	object      string
	appSecret   string
	verifyToken string
	handle      func(*webhookPayload) error
}

// HandleWebhook checks the signature when an app secret is configured,
// then hands payloads for our object type to the driver.
func (w *webhookReceiver) HandleWebhook(_ context.Context, _ string, body []byte, headers http.Header) error {
	if w.appSecret != "" && !gateway.ValidateHMAC(body, headers.Get(signatureHeader), w.appSecret) {
		return errInvalidSignature
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("meta: invalid webhook JSON: %w", err)
	}
	if payload.Object != w.object {
		return fmt.Errorf("meta: unexpected webhook object %q", payload.Object)
	}
	return w.handle(&payload)
}

// VerifyWebhook answers the subscription handshake with hub.challenge.
func (w *webhookReceiver) VerifyWebhook(q url.Values) (string, error) {
	if q.Get("hub.mode") != "subscribe" {
		return "", fmt.Errorf("meta: unexpected hub.mode %q", q.Get("hub.mode"))
	}
	token := q.Get("hub.verify_token")
	if w.verifyToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(w.verifyToken)) != 1 {
		return "", errVerifyMismatch
	}
	return q.Get("hub.challenge"), nil
}
