package sms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/twilio/twilio-go/client"

	"github.com/flemzord/sbridge/internal/gateway"
)

const (
	signatureHeader = "X-Twilio-Signature"
	emptyTwiML      = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

var errInvalidSignature = fmt.Errorf("sms: invalid %s: %w", signatureHeader, gateway.ErrInvalidSignature)

// webhookReceiver implements gateway.WebhookResponder for one channel.
type webhookReceiver struct {
	// url is the public webhook URL Twilio signs. Empty disables the check.
	url       string
	validator *client.RequestValidator
	handle    func(url.Values) error
}

func newWebhookReceiver(cfg *Config, handle func(url.Values) error) *webhookReceiver {
	w := &webhookReceiver{handle: handle}
	if cfg.signsWebhooks() {
		v := client.NewRequestValidator(cfg.AuthToken)
		w.url, w.validator = cfg.WebhookURL, &v
	}
	return w
}

// HandleWebhook implements gateway.WebhookHandler.
func (w *webhookReceiver) HandleWebhook(ctx context.Context, source string, body []byte, headers http.Header) error {
	_, _, err := w.RespondWebhook(ctx, source, body, headers)
	return err
}

// RespondWebhook checks the signature, hands the form to the driver and
// answers with empty TwiML.
func (w *webhookReceiver) RespondWebhook(_ context.Context, _ string, body []byte, headers http.Header) (string, []byte, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return "", nil, fmt.Errorf("sms: invalid webhook form: %w", err)
	}
	if w.validator != nil {
		params := make(map[string]string, len(form))
		for k := range form {
			params[k] = form.Get(k)
		}
		if !w.validator.Validate(w.url, params, headers.Get(signatureHeader)) {
			return "", nil, errInvalidSignature
		}
	}
	if err := w.handle(form); err != nil {
		return "", nil, err
	}
	return "text/xml", []byte(emptyTwiML), nil
}
