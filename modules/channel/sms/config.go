package sms

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
)

const (
	defaultChannelID = "sms"
	defaultMediaURL  = "https://api.twilio.com"
	// maxBody is the longest body Twilio accepts, split into segments by
	// the carrier.
	maxBody = 1600
)

var (
	channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	e164Pattern      = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	// Alphanumeric sender ids are at most 11 characters with one letter.
	senderIDPattern = regexp.MustCompile(`^[A-Za-z0-9 ]{1,11}$`)
	countryPattern  = regexp.MustCompile(`^\+?[1-9]\d{0,3}$`)
)

// Config holds the SMS channel configuration.
type Config struct {
	ChannelID  string `yaml:"channel_id"`
	AccountSID string `yaml:"account_sid"`
	// AuthToken authenticates API calls and signs webhooks. An API key
	// pair can replace it for API calls only.
	AuthToken    string `yaml:"auth_token"`
	APIKeySID    string `yaml:"api_key_sid"`
	APIKeySecret string `yaml:"api_key_secret"`

	// From is an E.164 number or an alphanumeric sender id. A messaging
	// service takes precedence when both are set.
	From                string `yaml:"from"`
	MessagingServiceSID string `yaml:"messaging_service_sid"`
	// DefaultCountryCode completes recipients written without one.
	DefaultCountryCode string `yaml:"default_country_code"`

	// WebhookURL is the public URL Twilio posts to. Signatures are
	// checked against it.
	WebhookURL string `yaml:"webhook_url"`
	// StatusCallback asks Twilio to post delivery updates to WebhookURL.
	StatusCallback bool `yaml:"status_callback"`
	// MediaURL is the only prefix inbound media is downloaded from.
	MediaURL string `yaml:"media_url"`

	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxMessageLength int           `yaml:"max_message_length"`
	AutoConnect      *bool         `yaml:"auto_connect"`

	AllowList channel.AllowListConfig `yaml:"allow_list"`
}

func (c *Config) defaults() {
	if c.ChannelID == "" {
		c.ChannelID = defaultChannelID
	}
	if c.MediaURL == "" {
		c.MediaURL = defaultMediaURL
	}
	c.MediaURL = strings.TrimRight(c.MediaURL, "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = maxBody
	}
	if c.AutoConnect == nil {
		t := true
		c.AutoConnect = &t
	}
}

func (c *Config) validate() error {
	var errs []error
	if !channelIDPattern.MatchString(c.ChannelID) {
		errs = append(errs, fmt.Errorf("sms: channel_id %q must match %s", c.ChannelID, channelIDPattern))
	}
	if !sidValid(c.AccountSID, "AC") {
		errs = append(errs, fmt.Errorf("sms: account_sid must be an AC... sid, got %q", c.AccountSID))
	}
	switch {
	case c.APIKeySID != "" || c.APIKeySecret != "":
		if !sidValid(c.APIKeySID, "SK") || c.APIKeySecret == "" {
			errs = append(errs, errors.New("sms: api_key_sid must be an SK... sid and needs api_key_secret"))
		}
	case c.AuthToken == "":
		errs = append(errs, errors.New("sms: auth_token or api_key_sid with api_key_secret is required"))
	}
	switch {
	case c.MessagingServiceSID != "":
		if !sidValid(c.MessagingServiceSID, "MG") {
			errs = append(errs, fmt.Errorf("sms: messaging_service_sid must be an MG... sid, got %q", c.MessagingServiceSID))
		}
	case c.From == "":
		errs = append(errs, errors.New("sms: from or messaging_service_sid is required"))
	case !validSender(c.From):
		errs = append(errs, fmt.Errorf("sms: from %q must be an E.164 number or an alphanumeric sender id", c.From))
	}
	if c.DefaultCountryCode != "" && !countryPattern.MatchString(c.DefaultCountryCode) {
		errs = append(errs, fmt.Errorf("sms: default_country_code %q is not a calling code", c.DefaultCountryCode))
	}
	if c.WebhookURL != "" && !httpURL(c.WebhookURL) {
		errs = append(errs, fmt.Errorf("sms: webhook_url must be a valid http/https URL, got %q", c.WebhookURL))
	}
	if c.StatusCallback && c.WebhookURL == "" {
		errs = append(errs, errors.New("sms: status_callback needs webhook_url"))
	}
	if !httpURL(c.MediaURL) {
		errs = append(errs, fmt.Errorf("sms: media_url must be a valid http/https URL, got %q", c.MediaURL))
	}
	if c.MaxMessageLength < 1 || c.MaxMessageLength > maxBody {
		errs = append(errs, fmt.Errorf("sms: max_message_length must be 1-%d, got %d", maxBody, c.MaxMessageLength))
	}
	return errors.Join(errs...)
}

// signsWebhooks reports whether inbound signatures can be checked. Twilio
// signs with the auth token, never with an API key.
func (c *Config) signsWebhooks() bool {
	return c.WebhookURL != "" && c.AuthToken != ""
}

func sidValid(sid, prefix string) bool {
	return len(sid) == 34 && strings.HasPrefix(sid, prefix)
}

func validSender(from string) bool {
	if e164Pattern.MatchString(from) {
		return true
	}
	return senderIDPattern.MatchString(from) && strings.ContainsAny(strings.ToLower(from), "abcdefghijklmnopqrstuvwxyz")
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// normalizeNumber turns a recipient into E.164. Separators are dropped, a
// 00 prefix becomes + and numbers without a country code get the default.
func normalizeNumber(raw, defaultCountry string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	n := b.String()
	if strings.HasPrefix(n, "00") {
		n = "+" + n[2:]
	}
	if !strings.HasPrefix(n, "+") && defaultCountry != "" {
		n = "+" + strings.TrimPrefix(defaultCountry, "+") + strings.TrimLeft(n, "0")
	}
	if !e164Pattern.MatchString(n) {
		return "", fmt.Errorf("sms: recipient %q is not a valid phone number", raw)
	}
	return n, nil
}
