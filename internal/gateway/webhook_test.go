package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// mockWebhookHandler records the last delivery.
type mockWebhookHandler struct {
	called  bool
	source  string
	body    []byte
	headers http.Header
	err     error
}

func (m *mockWebhookHandler) HandleWebhook(_ context.Context, source string, body []byte, headers http.Header) error {
	m.called = true
	m.source = source
	m.body = body
	m.headers = headers
	return m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookDispatcher_ServeHTTP(t *testing.T) {
	t.Parallel()

	const update = `{"update_id":7,"message":{"text":"hi"}}`

	tests := []struct {
		name       string
		secret     string
		handlerErr error
		maxBody    int
		path       string
		body       string
		sig        string
		want       int
		delivered  bool
	}{
		{name: "signed", secret: "s3cret", path: "/webhooks/tg-main", body: update, sig: signPayload([]byte(update), "s3cret"), want: http.StatusOK, delivered: true},
		{name: "no secret configured", path: "/webhooks/tg-main", body: update, want: http.StatusOK, delivered: true},
		{name: "bad signature", secret: "s3cret", path: "/webhooks/tg-main", body: update, sig: "sha256=00", want: http.StatusUnauthorized},
		{name: "missing signature", secret: "s3cret", path: "/webhooks/tg-main", body: update, want: http.StatusUnauthorized},
		{name: "unregistered source", path: "/webhooks/fb-page", body: update, want: http.StatusNotFound},
		{name: "too large", maxBody: 16, path: "/webhooks/tg-main", body: update, want: http.StatusRequestEntityTooLarge},
		{name: "invalid json", path: "/webhooks/tg-main", body: `{"update_id":`, want: http.StatusBadRequest},
		{name: "handler rejects signature", handlerErr: fmt.Errorf("graph: %w", ErrInvalidSignature), path: "/webhooks/tg-main", body: update, want: http.StatusUnauthorized, delivered: true},
		{name: "handler fails", handlerErr: errors.New("queue full"), path: "/webhooks/tg-main", body: update, want: http.StatusInternalServerError, delivered: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &mockWebhookHandler{err: tt.handlerErr}
			d := NewWebhookDispatcher(testLogger())
			if tt.maxBody > 0 {
				d.maxBody = tt.maxBody
			}
			d.Register("tg-main", h, tt.secret)

			r := chi.NewRouter()
			r.Post("/webhooks/{source}", d.ServeHTTP)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			if tt.sig != "" {
				req.Header.Set("X-Signature-256", tt.sig)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body)
			}
			if h.called != tt.delivered {
				t.Fatalf("delivered = %v, want %v", h.called, tt.delivered)
			}
			if h.called && (h.source != "tg-main" || string(h.body) != tt.body) {
				t.Errorf("delivery = %q %q", h.source, h.body)
			}
		})
	}
}

func TestWebhookDispatcher_GetNotRouted(t *testing.T) {
	t.Parallel()

	d := NewWebhookDispatcher(testLogger())
	d.Register("tg-main", &mockWebhookHandler{}, "")
	r := chi.NewRouter()
	r.Post("/webhooks/{source}", d.ServeHTTP)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/tg-main", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}

func TestValidateHMAC(t *testing.T) {
	t.Parallel()

	body := []byte(`{"object":"page"}`)
	tests := []struct {
		name string
		sig  string
		want bool
	}{
		{name: "match", sig: signPayload(body, "app-secret"), want: true},
		{name: "other secret", sig: signPayload(body, "nope")},
		{name: "no prefix", sig: strings.TrimPrefix(signPayload(body, "app-secret"), "sha256=")},
		{name: "not hex", sig: "sha256=zz"},
		{name: "empty"},
	}
	for _, tt := range tests {
		if got := validateHMAC(body, tt.sig, "app-secret"); got != tt.want {
			t.Errorf("%s: validateHMAC = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// verifyingHandler answers the GET subscription handshake.
type verifyingHandler struct {
	mockWebhookHandler
	token string
}

func (v *verifyingHandler) VerifyWebhook(q url.Values) (string, error) {
	if q.Get("hub.verify_token") != v.token {
		return "", errors.New("token mismatch")
	}
	return q.Get("hub.challenge"), nil
}

func TestWebhookDispatcher_ServeVerify(t *testing.T) {
	t.Parallel()

	d := NewWebhookDispatcher(testLogger())
	d.Register("messenger", &verifyingHandler{token: "vt"}, "")
	d.Register("plain", &mockWebhookHandler{}, "")

	r := chi.NewRouter()
	r.Get("/webhooks/{source}", d.ServeVerify)

	tests := []struct {
		name, path string
		want       int
		body       string
	}{
		{name: "accepted", path: "/webhooks/messenger?hub.mode=subscribe&hub.verify_token=vt&hub.challenge=42", want: http.StatusOK, body: "42"},
		{name: "wrong token", path: "/webhooks/messenger?hub.verify_token=no&hub.challenge=42", want: http.StatusForbidden},
		{name: "not a verifier", path: "/webhooks/plain", want: http.StatusMethodNotAllowed},
		{name: "unknown", path: "/webhooks/ghost", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rr.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rr.Code, tt.want)
		}
		if tt.body != "" && rr.Body.String() != tt.body {
			t.Errorf("%s: body = %q, want %q", tt.name, rr.Body, tt.body)
		}
	}
}

func TestWebhookDispatcher_RegistrationAndMetrics(t *testing.T) {
	t.Parallel()

	d := NewWebhookDispatcher(testLogger())
	d.metrics = NewMetrics(prometheus.NewRegistry())
	d.Register("b", &mockWebhookHandler{}, "")
	d.Register("a", &mockWebhookHandler{}, "")

	if got := d.Sources(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Sources = %v", got)
	}

	r := chi.NewRouter()
	r.Post("/webhooks/{source}", d.ServeHTTP)
	for range 3 {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/a", strings.NewReader(`{}`)))
	}
	d.Unregister("a")
	if d.Has("a") {
		t.Error("a still registered")
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/a", strings.NewReader(`{}`)))

	if got := testutil.ToFloat64(d.metrics.webhooks.WithLabelValues("a", "ok")); got != 3 {
		t.Errorf("ok count = %v, want 3", got)
	}
	if got := testutil.ToFloat64(d.metrics.webhooks.WithLabelValues("a", "unregistered")); got != 1 {
		t.Errorf("unregistered count = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.webhook("x", "ok")
	m.control("x", "connect", nil)
}

// replyingHandler answers with a provider-specific body.
type replyingHandler struct {
	mockWebhookHandler
	contentType string
	reply       string
}

func (h *replyingHandler) RespondWebhook(ctx context.Context, source string, body []byte, headers http.Header) (string, []byte, error) {
	if err := h.HandleWebhook(ctx, source, body, headers); err != nil {
		return "", nil, err
	}
	return h.contentType, []byte(h.reply), nil
}

func TestWebhookDispatcher_Responder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		handler   *replyingHandler
		wantCode  int
		wantType  string
		wantReply string
	}{
		{
			name:      "custom reply",
			handler:   &replyingHandler{contentType: "text/xml", reply: "<Response></Response>"},
			wantCode:  http.StatusOK,
			wantType:  "text/xml",
			wantReply: "<Response></Response>",
		},
		{
			name:      "empty content type keeps the default",
			handler:   &replyingHandler{},
			wantCode:  http.StatusOK,
			wantType:  "application/json",
			wantReply: `{"ok":true}`,
		},
		{
			name:     "signature error",
			handler:  &replyingHandler{mockWebhookHandler: mockWebhookHandler{err: ErrInvalidSignature}, contentType: "text/xml"},
			wantCode: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := NewWebhookDispatcher(testLogger())
			d.Register("sms", tt.handler, "")
			r := chi.NewRouter()
			r.Post("/webhooks/{source}", d.ServeHTTP)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader("Body=hi")))
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if !tt.handler.called {
				t.Error("handler not called")
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if ct := rr.Header().Get("Content-Type"); ct != tt.wantType {
				t.Errorf("content type = %q, want %q", ct, tt.wantType)
			}
			if rr.Body.String() != tt.wantReply {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.wantReply)
			}
		})
	}
}

type largeBodyHandler struct {
	mockWebhookHandler
	limit int
}

func (h *largeBodyHandler) MaxWebhookBody() int { return h.limit }

func TestWebhookDispatcher_BodyByContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		limit       int
		want        int
	}{
		{name: "form body is not json checked", contentType: "application/x-www-form-urlencoded", body: `Body={"unbalanced`, want: http.StatusOK},
		{name: "multipart body is not json checked", contentType: "multipart/form-data; boundary=x", body: "--x\r\n{{{\r\n--x--", want: http.StatusOK},
		{name: "json body is checked", contentType: "application/json", body: `{"a":`, want: http.StatusBadRequest},
		{name: "untyped body is checked", body: `[[`, want: http.StatusBadRequest},
		{name: "handler raises the limit", contentType: "text/plain", body: strings.Repeat("x", 64), limit: 128, want: http.StatusOK},
		{name: "default limit applies", contentType: "text/plain", body: strings.Repeat("x", 64), want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := NewWebhookDispatcher(testLogger())
			d.maxBody = 32
			d.Register("mail", &largeBodyHandler{limit: tt.limit}, "")
			r := chi.NewRouter()
			r.Post("/webhooks/{source}", d.ServeHTTP)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/mail", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body)
			}
		})
	}
}
