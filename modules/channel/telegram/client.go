package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
)

// Client wraps tgbotapi with rate-limit retries, token-free errors and
// cancellation bound to the connection lifetime.
type Client struct {
	bot    *tgbotapi.BotAPI
	cfg    *Config
	http   *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
	cancel context.CancelFunc
}

// lifetimeClient attaches a lifetime context to every request tgbotapi
// makes, since tgbotapi builds requests without one.
type lifetimeClient struct {
	ctx  context.Context
	http *http.Client
}

func (c lifetimeClient) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req.WithContext(c.ctx))
}

// dialClient validates the token with getMe and returns a ready client.
// Requests are cancelled when Close is called.
func dialClient(cfg *Config, hc *http.Client) (*Client, error) {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout + time.Duration(cfg.PollingTimeout)*time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.endpoint(), lifetimeClient{ctx: ctx, http: hc})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("telegram: getMe failed (check token): %w", redact(err, cfg.Token))
	}
	return &Client{bot: bot, cfg: cfg, http: hc, sleep: sleepCtx, cancel: cancel}, nil
}

// Self returns the bot account.
func (c *Client) Self() tgbotapi.User { return c.bot.Self }

// Close aborts in-flight requests.
func (c *Client) Close() { c.cancel() }

// Send sends c and returns the resulting message.
func (c *Client) Send(ctx context.Context, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	var out tgbotapi.Message
	err := c.retry(ctx, func() error {
		var err error
		out, err = c.bot.Send(msg)
		return err
	})
	return out, err
}

// Request performs a call whose result is not a message.
func (c *Client) Request(ctx context.Context, req tgbotapi.Chattable) error {
	return c.retry(ctx, func() error {
		_, err := c.bot.Request(req)
		return err
	})
}

// SetWebhook registers the webhook URL. It is sent as raw parameters since
// tgbotapi's WebhookConfig predates secret_token.
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secret string, allowed []string) error {
	params := tgbotapi.Params{"url": webhookURL}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", allowed); err != nil {
		return fmt.Errorf("telegram: encode allowed_updates: %w", err)
	}
	return c.retry(ctx, func() error {
		_, err := c.bot.MakeRequest("setWebhook", params)
		return err
	})
}

// DeleteWebhook removes the webhook so getUpdates works again.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.Request(ctx, tgbotapi.DeleteWebhookConfig{})
}

// GetUpdates long-polls for updates.
func (c *Client) GetUpdates(ctx context.Context, cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	updates, err := c.bot.GetUpdates(cfg)
	if err != nil {
		return nil, redact(err, c.cfg.Token)
	}
	return updates, nil
}

// Download fetches a file by file_id. limit caps the body size; 0 means
// unlimited.
func (c *Client) Download(ctx context.Context, fileID string, limit int64) ([]byte, string, error) {
	var file tgbotapi.File
	err := c.retry(ctx, func() error {
		var err error
		file, err = c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("telegram: getFile %s: %w", fileID, err)
	}
	if limit > 0 && int64(file.FileSize) > limit {
		return nil, "", fmt.Errorf("telegram: file %s is %d bytes, limit %d", fileID, file.FileSize, limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.fileURL(file.FilePath), nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download %s: %w", fileID, redact(err, c.cfg.Token))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram: download %s: status %d", fileID, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: read %s: %w", fileID, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, "", fmt.Errorf("telegram: file %s exceeds %d bytes", fileID, limit)
	}
	return data, path.Base(file.FilePath), nil
}

// retry runs fn, waiting out 429 responses up to maxRetries attempts. The
// wait honours retry_after when Telegram provides it and doubles otherwise.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	backoff := initialBackoff
	for attempt := range maxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests || attempt == maxRetries-1 {
			return redact(err, c.cfg.Token)
		}
		wait := backoff
		if apiErr.RetryAfter > 0 {
			wait = time.Duration(apiErr.RetryAfter) * time.Second
		}
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		backoff *= 2
	}
	return errors.New("telegram: max retries exceeded")
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

// redact strips the bot token from transport errors, whose messages embed
// the request URL.
func redact(err error, token string) error {
	var ue *url.Error
	if token == "" || !errors.As(err, &ue) || !strings.Contains(ue.URL, token) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: strings.ReplaceAll(ue.URL, token, "<redacted>"), Err: ue.Err}
}
