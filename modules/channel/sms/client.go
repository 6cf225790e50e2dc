package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// codeAuthenticate is Twilio's "authentication error" code.
const codeAuthenticate = 20003

// messagesAPI is the part of the Twilio REST API the channel calls.
// *openapi.ApiService satisfies it.
type messagesAPI interface {
	FetchAccount(sid string) (*openapi.ApiV2010Account, error)
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// credentials returns the basic-auth pair for API calls.
func (c *Config) credentials() (string, string) {
	if c.APIKeySID != "" {
		return c.APIKeySID, c.APIKeySecret
	}
	return c.AccountSID, c.AuthToken
}

func newRestAPI(cfg *Config) messagesAPI {
	user, pass := cfg.credentials()
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   user,
		Password:   pass,
		AccountSid: cfg.AccountSID,
	})
	rc.SetTimeout(cfg.RequestTimeout)
	return rc.Api
}

// call runs a blocking SDK call and returns early when ctx is done. The
// SDK call itself is bounded by the client timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}

// restError unwraps a Twilio API error.
func restError(err error) (*client.TwilioRestError, bool) {
	var re *client.TwilioRestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsAuthError reports whether Twilio rejected the credentials.
func IsAuthError(err error) bool {
	re, ok := restError(err)
	return ok && (re.Status == http.StatusUnauthorized || re.Code == codeAuthenticate)
}

// isRejected reports a request Twilio refused for its content, such as an
// unreachable number. Those are send failures, not transport errors.
func isRejected(err error) bool {
	re, ok := restError(err)
	return ok && re.Status >= 400 && re.Status < 500 && re.Status != http.StatusTooManyRequests && !IsAuthError(err)
}

// fetchMedia downloads an inbound media URL with the API credentials.
// Only URLs under cfg.MediaURL are fetched so the credentials never leave
// Twilio.
func fetchMedia(ctx context.Context, hc *http.Client, cfg *Config, rawURL string, limit int64) ([]byte, string, error) {
	if !strings.HasPrefix(rawURL, cfg.MediaURL+"/") {
		return nil, "", fmt.Errorf("sms: media url must start with %s", cfg.MediaURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("sms: build media request: %w", err)
	}
	req.SetBasicAuth(cfg.credentials())
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("sms: download media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("sms: download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("sms: read media: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("sms: media exceeds %d bytes", limit)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
