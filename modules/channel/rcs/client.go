package rcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
)

const (
	rbmScope       = "https://www.googleapis.com/auth/rcsbusinessmessaging"
	maxRetries     = 3
	initialBackoff = time.Second
	maxResponse    = 1 << 20
)

// APIError is the error object of a failed RBM call.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	State   string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rbm api: %s (%s, status %d)", e.Message, e.State, e.Status)
}

func (e *APIError) throttled() bool {
	return e.Status == http.StatusTooManyRequests || e.State == "RESOURCE_EXHAUSTED"
}

// IsAuthError reports whether err means the agent credentials were
// refused, either by the API or by the token endpoint.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.State == "UNAUTHENTICATED"
	}
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}

// isRejected reports whether RBM refused the request itself, for example
// a recipient without RCS. Sending it again will not help.
func isRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		apiErr.Status >= 400 && apiErr.Status < 500 &&
		!apiErr.throttled() && !IsAuthError(err)
}

// newTokenSource returns the agent's credentials. Service account tokens
// are fetched through hc and cached until they expire.
func newTokenSource(cfg *Config, hc *http.Client) (oauth2.TokenSource, error) {
	if cfg.AccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}), nil
	}
	key, err := os.ReadFile(cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("rcs: read service account: %w", err)
	}
	jc, err := google.JWTConfigFromJSON(key, rbmScope)
	if err != nil {
		return nil, fmt.Errorf("rcs: parse service account: %w", err)
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
	return jc.TokenSource(ctx), nil
}

// Client is a minimal RBM client for one agent. Every call waits on a
// shared token bucket before going out.
type Client struct {
	http    *http.Client
	base    string
	agent   string
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func() string
}

func newClient(cfg *Config, hc *http.Client, tokens oauth2.TokenSource) *Client {
	burst := max(1, int(cfg.RequestsPerSecond*2))
	return &Client{
		http:    hc,
		base:    cfg.APIURL,
		agent:   cfg.AgentID,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		sleep:   sleepCtx,
		newID:   uuid.NewString,
	}
}

// Authenticate fetches a token so bad credentials fail on connect.
func (c *Client) Authenticate() error {
	if _, err := c.tokens.Token(); err != nil {
		return fmt.Errorf("rbm api: token: %w", err)
	}
	return nil
}

// SendMessage posts an agent message. The message id is generated once so
// a retried request is not delivered twice.
func (c *Client) SendMessage(ctx context.Context, phone string, content contentMessage) (agentMessage, error) {
	q := url.Values{"messageId": {c.newID()}, "agentId": {c.agent}}
	body := struct {
		ContentMessage contentMessage `json:"contentMessage"`
	}{content}
	var out agentMessage
	err := c.call(ctx, http.MethodPost, "/v1/phones/"+url.PathEscape(phone)+"/agentMessages", q, body, &out)
	return out, err
}

// SendEvent posts an agent event such as IS_TYPING or READ.
func (c *Client) SendEvent(ctx context.Context, phone string, ev agentEvent) error {
	q := url.Values{"eventId": {c.newID()}, "agentId": {c.agent}}
	return c.call(ctx, http.MethodPost, "/v1/phones/"+url.PathEscape(phone)+"/agentEvents", q, ev, nil)
}

// UploadFile stores a file on the RBM server and returns its name, usable
// as an uploadedRbmFile.
func (c *Client) UploadFile(ctx context.Context, data []byte, mimeType string) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	err := c.retry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/upload/v1/files", url.Values{"agentId": {c.agent}},
			bytes.NewReader(data), mimeType, &out)
	})
	if err == nil && out.Name == "" {
		err = errors.New("rbm api: upload returned no file name")
	}
	return out.Name, err
}

// Fetch downloads a user file. File URIs are signed, so no token is sent.
// limit caps the body size.
func (c *Client) Fetch(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("rbm api: build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("rbm api: download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("rbm api: download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("rbm api: read download: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("rbm api: download exceeds %d bytes", limit)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rbm api: encode request: %w", err)
	}
	return c.retry(ctx, func() error {
		return c.do(ctx, method, path, q, bytes.NewReader(payload), "application/json", out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("rbm api: token: %w", err)
	}

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("rbm api: build request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rbm api: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return fmt.Errorf("rbm api: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			apiErr = envelope.Error
			apiErr.Status = resp.StatusCode
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("rbm api: decode response: %w", err)
	}
	return nil
}

// retry waits out throttled responses with a doubling backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	backoff := initialBackoff
	for attempt := range maxRetries {
		err := fn()
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.throttled() || attempt == maxRetries-1 {
			return err
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	return errors.New("rbm api: max retries exceeded")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
