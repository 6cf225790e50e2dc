package sms

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	testAccount = "AC00000000000000000000000000000001"
	testToken   = "auth-token"
	testHook    = "https://gw.example.com/webhooks/sms"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

// fakeTwilio records CreateMessage calls and answers with canned replies.
type fakeTwilio struct {
	mu         sync.Mutex
	sent       []*openapi.CreateMessageParams
	fetches    int
	accountErr error
	account    *openapi.ApiV2010Account
	sendErr    error
	reply      *openapi.ApiV2010Message
}

func newFakeTwilio() *fakeTwilio {
	return &fakeTwilio{
		account: &openapi.ApiV2010Account{FriendlyName: ptr("Test"), Status: ptr("active")},
		reply:   &openapi.ApiV2010Message{Sid: ptr("SM123"), Status: ptr("queued")},
	}
}

func (f *fakeTwilio) FetchAccount(string) (*openapi.ApiV2010Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.account, f.accountErr
}

func (f *fakeTwilio) CreateMessage(p *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.reply, nil
}

func (f *fakeTwilio) calls() []*openapi.CreateMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *fakeTwilio) factory() func(*Config) messagesAPI {
	return func(*Config) messagesAPI { return f }
}

func testConfig() *Config {
	cfg := &Config{
		AccountSID:     testAccount,
		AuthToken:      testToken,
		From:           "+15005550006",
		WebhookURL:     testHook,
		RequestTimeout: 5 * time.Second,
	}
	cfg.defaults()
	return cfg
}

// sign computes X-Twilio-Signature: the base64 HMAC-SHA1 of the URL
// followed by every parameter name and value in name order.
func sign(rawURL string, form url.Values, token string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	s := rawURL
	for _, k := range keys {
		s += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
