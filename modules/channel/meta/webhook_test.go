package meta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/flemzord/sbridge/internal/gateway"
)

const pageBody = `{"object":"page","entry":[{"id":"p1","time":1,"messaging":[{"sender":{"id":"u1"},"recipient":{"id":"p1"},"timestamp":1,"message":{"mid":"m1","text":"hi"}}]}]}`

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookReceiver_Signature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		secret  string
		sig     string
		wantErr error
		handled bool
	}{
		{name: "valid", secret: testSecret, sig: sign(pageBody, testSecret), handled: true},
		{name: "wrong secret", secret: testSecret, sig: sign(pageBody, "other"), wantErr: gateway.ErrInvalidSignature},
		{name: "missing header", secret: testSecret, wantErr: gateway.ErrInvalidSignature},
		{name: "no secret configured", handled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got *webhookPayload
			w := &webhookReceiver{object: "page", appSecret: tt.secret, handle: func(p *webhookPayload) error {
				got = p
				return nil
			}}
			headers := http.Header{}
			if tt.sig != "" {
				headers.Set(signatureHeader, tt.sig)
			}

			err := w.HandleWebhook(context.Background(), "messenger", []byte(pageBody), headers)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if (got != nil) != tt.handled {
				t.Fatalf("handled = %v, want %v", got != nil, tt.handled)
			}
			if got != nil && (len(got.Entry) != 1 || got.Entry[0].Messaging[0].Message.Text != "hi") {
				t.Errorf("payload = %+v", got)
			}
		})
	}
}

func TestWebhookReceiver_RejectsPayload(t *testing.T) {
	t.Parallel()
	w := &webhookReceiver{object: "instagram", handle: func(*webhookPayload) error {
		t.Error("handle must not be called")
		return nil
	}}

	if err := w.HandleWebhook(context.Background(), "instagram", []byte("{"), http.Header{}); err == nil {
		t.Error("invalid JSON accepted")
	}
	if err := w.HandleWebhook(context.Background(), "instagram", []byte(pageBody), http.Header{}); err == nil {
		t.Error("page object accepted by the instagram receiver")
	}
}

func TestWebhookReceiver_Verify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		token   string
		query   url.Values
		want    string
		wantErr bool
	}{
		{
			name:  "ok",
			token: "verify-me",
			query: url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"verify-me"}, "hub.challenge": {"1158201444"}},
			want:  "1158201444",
		},
		{
			name:    "wrong token",
			token:   "verify-me",
			query:   url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"nope"}, "hub.challenge": {"1"}},
			wantErr: true,
		},
		{
			name:    "wrong mode",
			token:   "verify-me",
			query:   url.Values{"hub.mode": {"unsubscribe"}, "hub.verify_token": {"verify-me"}},
			wantErr: true,
		},
		{
			name:    "no token configured",
			query:   url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {""}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := &webhookReceiver{verifyToken: tt.token}
			got, err := w.VerifyWebhook(tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Errorf("challenge = %q, want %q", got, tt.want)
			}
		})
	}
}
