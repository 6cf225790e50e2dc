package meta

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
	maxResponse    = 1 << 20
)

// Graph error codes that mean the caller is throttled.
var throttleCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

// codeInvalidToken is returned when the access token expired or was revoked.
const codeInvalidToken = 190

// APIError is the error object of a failed Graph call.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api: %s (code %d, subcode %d, status %d)", e.Message, e.Code, e.Subcode, e.Status)
}

func (e *APIError) throttled() bool {
	return e.Status == http.StatusTooManyRequests || throttleCodes[e.Code]
}

// IsInvalidToken reports whether err means the access token is no longer
// valid.
func IsInvalidToken(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeInvalidToken
}

// Client is a minimal Graph API client. Every call waits on a shared token
// bucket before going out.
type Client struct {
	http    *http.Client
	base    string
	token   string
	proof   string
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

func newClient(cfg *Config, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	burst := max(1, int(cfg.RequestsPerSecond*2))
	c := &Client{
		http:    hc,
		base:    cfg.APIURL + "/" + cfg.APIVersion,
		token:   cfg.AccessToken,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		sleep:   sleepCtx,
	}
	if cfg.AppSecret != "" {
		c.proof = appSecretProof(cfg.AccessToken, cfg.AppSecret)
	}
	return c
}

// appSecretProof is the hex HMAC-SHA256 of the token keyed by the app secret.
func appSecretProof(token, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Account fetches the node the token acts for.
func (c *Client) Account(ctx context.Context, id, fields string) (accountInfo, error) {
	var out accountInfo
	q := url.Values{"fields": {fields}}
	err := c.call(ctx, http.MethodGet, id, q, nil, &out)
	return out, err
}

// SendMessage posts a message or sender action.
func (c *Client) SendMessage(ctx context.Context, account string, req sendRequest) (sendResponse, error) {
	var out sendResponse
	err := c.call(ctx, http.MethodPost, account+"/messages", nil, req, &out)
	return out, err
}

// Subscribe subscribes the app to the page's messaging webhooks.
func (c *Client) Subscribe(ctx context.Context, account string, fields []string) error {
	q := url.Values{"subscribed_fields": {strings.Join(fields, ",")}}
	return c.call(ctx, http.MethodPost, account+"/subscribed_apps", q, nil, nil)
}

// UploadAttachment stores a reusable attachment and returns its id.
func (c *Client) UploadAttachment(ctx context.Context, account, kind, filename, mimeType string, data []byte) (string, error) {
	desc, err := json.Marshal(sendMessage{Attachment: &sendAttachment{
		Type:    kind,
		Payload: attachmentPayload{IsReusable: true},
	}})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("message", string(desc)); err != nil {
		return "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="filedata"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		AttachmentID string `json:"attachment_id"`
	}
	err = c.retry(ctx, func() error {
		return c.do(ctx, http.MethodPost, account+"/message_attachments", nil,
			bytes.NewReader(buf.Bytes()), mw.FormDataContentType(), &out)
	})
	return out.AttachmentID, err
}

// Fetch downloads a CDN URL from an inbound attachment. Those URLs are
// signed, so no token is sent. limit caps the body size.
func (c *Client) Fetch(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("graph api: build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("graph api: download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("graph api: download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("graph api: read download: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("graph api: download exceeds %d bytes", limit)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// call sends body as JSON and decodes the response into out, retrying
// throttled requests.
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("graph api: encode request: %w", err)
		}
	}
	return c.retry(ctx, func() error {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		return c.do(ctx, method, path, q, r, "application/json", out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if q == nil {
		q = url.Values{}
	}
	if c.proof != "" {
		q.Set("appsecret_proof", c.proof)
	}
	u := c.base + "/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("graph api: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph api: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return fmt.Errorf("graph api: read response: %w", err)
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
		return fmt.Errorf("graph api: decode response: %w", err)
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
	return errors.New("graph api: max retries exceeded")
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
