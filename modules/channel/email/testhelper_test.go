package email

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	gomail "github.com/wneessen/go-mail"
)

const testKey = "signing-key"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMailer records sent mails instead of talking SMTP.
type fakeMailer struct {
	mu      sync.Mutex
	dials   int
	sent    []*gomail.Msg
	dialErr error
	sendErr error
}

func (f *fakeMailer) DialWithContext(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	return f.dialErr
}

func (f *fakeMailer) Close() error { return nil }

func (f *fakeMailer) DialAndSendWithContext(_ context.Context, msgs ...*gomail.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func (f *fakeMailer) mails() []*gomail.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *fakeMailer) factory() func(*Config) (mailer, error) {
	return func(*Config) (mailer, error) { return f, nil }
}

func testConfig() *Config {
	cfg := &Config{
		SMTPHost:    "smtp.example.com",
		Username:    "bot",
		Password:    "pw",
		FromAddress: "bot@example.com",
		FromName:    "Support",
		SigningKey:  testKey,
	}
	cfg.defaults()
	return cfg
}

// render writes m as RFC 5322 text.
func render(t *testing.T, m *gomail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("render mail: %v", err)
	}
	return buf.String()
}

// signFor returns the timestamp and signature fields for a post made at ts.
func signFor(ts time.Time, token string) (string, string) {
	s := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testKey))
	mac.Write([]byte(s + token))
	return s, hex.EncodeToString(mac.Sum(nil))
}
