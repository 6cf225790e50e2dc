package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestDialClient_GetMe(t *testing.T) {
	t.Parallel()
	bot := newFakeBot(t)

	c, err := dialClient(bot.config(), nil)
	if err != nil {
		t.Fatalf("dialClient: %v", err)
	}
	defer c.Close()

	if c.Self().UserName != "test_bot" || c.Self().ID != 42 {
		t.Errorf("Self = %+v", c.Self())
	}
}

func TestDialClient_RejectedToken(t *testing.T) {
	t.Parallel()
	bot := newFakeBot(t)
	bot.handle("getMe", func(url.Values) apiReply {
		return apiReply{Code: http.StatusUnauthorized, Desc: "Unauthorized"}
	})

	_, err := dialClient(bot.config(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusUnauthorized {
		t.Errorf("err = %v, want wrapped 401", err)
	}
	if !strings.Contains(err.Error(), "check token") {
		t.Errorf("err = %q, want token hint", err)
	}
}

func TestClient_RetryHonoursRetryAfter(t *testing.T) {
	t.Parallel()
	bot := newFakeBot(t)
	var attempts atomic.Int32
	bot.handle("sendMessage", func(url.Values) apiReply {
		if attempts.Add(1) < 3 {
			return apiReply{Code: http.StatusTooManyRequests, Desc: "Too Many Requests", RetryAfter: 7}
		}
		return sentMessage(10, 1)
	})

	c, err := dialClient(bot.config(), nil)
	if err != nil {
		t.Fatalf("dialClient: %v", err)
	}
	defer c.Close()
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	msg, err := c.Send(context.Background(), tgbotapi.NewMessage(1, "hi"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.MessageID != 10 {
		t.Errorf("MessageID = %d, want 10", msg.MessageID)
	}
	if len(waits) != 2 || waits[0] != 7*time.Second || waits[1] != 7*time.Second {
		t.Errorf("waits = %v, want two 7s waits", waits)
	}
}

func TestClient_RetryGivesUp(t *testing.T) {
	t.Parallel()
	bot := newFakeBot(t)
	bot.handle("sendMessage", func(url.Values) apiReply {
		return apiReply{Code: http.StatusTooManyRequests, Desc: "Too Many Requests"}
	})

	c, err := dialClient(bot.config(), nil)
	if err != nil {
		t.Fatalf("dialClient: %v", err)
	}
	defer c.Close()
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err = c.Send(context.Background(), tgbotapi.NewMessage(1, "hi"))
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want 429", err)
	}
	if got := len(bot.callsTo("sendMessage")); got != maxRetries {
		t.Errorf("attempts = %d, want %d", got, maxRetries)
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("waits = %v, want exponential backoff", waits)
	}
}

func TestClient_NoRetryOnOtherErrors(t *testing.T) {
	t.Parallel()
	bot := newFakeBot(t)
	bot.handle("sendMessage", func(url.Values) apiReply {
		return apiReply{Code: http.StatusBadRequest, Desc: "Bad Request: chat not found"}
	})

	c, err := dialClient(bot.config(), nil)
	if err != nil {
		t.Fatalf("dialClient: %v", err)
	}
	defer c.Close()

	if _, err := c.Send(context.Background(), tgbotapi.NewMessage(1, "hi")); err == nil {
		t.Fatal("expected error")
	}
	if got := len(bot.callsTo("sendMessage")); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestClient_SetWebhook(t *testing.T) {
	t.Parallel()
	bot := newFakeBot(t)

	c, err := dialClient(bot.config(), nil)
	if err != nil {
		t.Fatalf("dialClient: %v", err)
	}
	defer c.Close()

	err = c.SetWebhook(context.Background(), "https://example.com/webhooks/tg", "s3cret", []string{"message"})
	if err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	calls := bot.callsTo("setWebhook")
	if len(calls) != 1 {
		t.Fatalf("setWebhook calls = %d", len(calls))
	}
	form := calls[0].form
	if form.Get("url") != "https://example.com/webhooks/tg" {
		t.Errorf("url = %q", form.Get("url"))
	}
	if form.Get("secret_token") != "s3cret" {
		t.Errorf("secret_token = %q", form.Get("secret_token"))
	}
	if form.Get("allowed_updates") != `["message"]` {
		t.Errorf("allowed_updates = %q", form.Get("allowed_updates"))
	}
}

func TestClient_Download(t *testing.T) {
	t.Parallel()
	bot := newFakeBot(t)
	bot.files["photos/file_1.jpg"] = []byte("jpeg-bytes")
	bot.handle("getFile", func(form url.Values) apiReply {
		return apiReply{Result: map[string]any{
			"file_id":   form.Get("file_id"),
			"file_size": 10,
			"file_path": "photos/file_1.jpg",
		}}
	})

	c, err := dialClient(bot.config(), nil)
	if err != nil {
		t.Fatalf("dialClient: %v", err)
	}
	defer c.Close()

	data, name, err := c.Download(context.Background(), "AgAD", 0)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "jpeg-bytes" || name != "file_1.jpg" {
		t.Errorf("Download = %q, %q", data, name)
	}

	if _, _, err := c.Download(context.Background(), "AgAD", 4); err == nil {
		t.Error("expected size limit error")
	}
}

func TestRedact(t *testing.T) {
	t.Parallel()

	err := redact(&url.Error{Op: "Post", URL: "https://api.telegram.org/bot" + testToken + "/getMe", Err: errors.New("boom")}, testToken)
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("token leaked: %v", err)
	}
	if !strings.Contains(err.Error(), "<redacted>") {
		t.Errorf("err = %v, want placeholder", err)
	}

	plain := errors.New("plain")
	if redact(plain, testToken) != plain {
		t.Error("non-url errors must pass through")
	}
}
