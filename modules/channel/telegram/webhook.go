package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flemzord/sbridge/internal/gateway"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

var errInvalidSecret = fmt.Errorf("telegram: invalid webhook secret token: %w", gateway.ErrInvalidSignature)

// webhookReceiver processes incoming Telegram webhook payloads. It
// implements gateway.WebhookHandler.
type webhookReceiver struct {
	secret string
	handle func(*tgbotapi.Update) error
}

// HandleWebhook validates the secret token header, parses the update and
// hands it to the driver.
func (w *webhookReceiver) HandleWebhook(_ context.Context, _ string, body []byte, headers http.Header) error {
	if w.secret != "" {
		token := headers.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(w.secret), []byte(token)) != 1 {
			return errInvalidSecret
		}
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return fmt.Errorf("telegram: invalid update JSON: %w", err)
	}
	return w.handle(&update)
}
