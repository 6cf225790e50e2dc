package rcs

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/flemzord/sbridge/internal/gateway"
)

const signatureHeader = "X-Goog-Signature"

var (
	errInvalidSignature = fmt.Errorf("rcs: invalid %s: %w", signatureHeader, gateway.ErrInvalidSignature)
	errTokenMismatch    = fmt.Errorf("rcs: handshake client token mismatch: %w", gateway.ErrInvalidSignature)
)

// webhookReceiver implements gateway.WebhookResponder for one agent.
type webhookReceiver struct {
	clientToken string
	handle      func(*userEvent) error
}

// HandleWebhook implements gateway.WebhookHandler.
func (w *webhookReceiver) HandleWebhook(ctx context.Context, source string, body []byte, headers http.Header) error {
	_, _, err := w.RespondWebhook(ctx, source, body, headers)
	return err
}

// RespondWebhook answers the handshake with its secret, or verifies and
// unwraps a push and hands the event to the driver.
func (w *webhookReceiver) RespondWebhook(_ context.Context, _ string, body []byte, headers http.Header) (string, []byte, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, fmt.Errorf("rcs: invalid webhook JSON: %w", err)
	}

	if env.Message == nil {
		if env.Secret == "" {
			return "", nil, errors.New("rcs: webhook carries neither a message nor a handshake")
		}
		if w.clientToken != "" && subtle.ConstantTimeCompare([]byte(env.ClientToken), []byte(w.clientToken)) != 1 {
			return "", nil, errTokenMismatch
		}
		reply, err := json.Marshal(map[string]string{"secret": env.Secret})
		if err != nil {
			return "", nil, err
		}
		return "application/json", reply, nil
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return "", nil, fmt.Errorf("rcs: invalid push data: %w", err)
	}
	if w.clientToken != "" && !validSignature(data, headers.Get(signatureHeader), w.clientToken) {
		return "", nil, errInvalidSignature
	}
	var ev userEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", nil, fmt.Errorf("rcs: invalid push event: %w", err)
	}
	return "", nil, w.handle(&ev)
}

// validSignature checks the base64 HMAC-SHA512 of the decoded push data
// keyed by the client token.
func validSignature(data []byte, sig, token string) bool {
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, []byte(token))
	mac.Write(data)
	return hmac.Equal(got, mac.Sum(nil))
}
