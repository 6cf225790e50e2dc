package telegram

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flemzord/sbridge/internal/channel"
)

const (
	modePolling = "polling"
	modeWebhook = "webhook"

	// parseModeMarkdown converts standard markdown to MarkdownV2 before sending.
	parseModeMarkdown = "markdown"
	parseModeNone     = "none"

	maxTextLength = 4096
)

// tokenPattern matches the Telegram bot token format: <digits>:<alphanum+dash>.
var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Config holds the Telegram channel configuration.
type Config struct {
	ChannelID      string   `yaml:"channel_id"`
	Token          string   `yaml:"token"`
	Mode           string   `yaml:"mode"`
	PollingTimeout int      `yaml:"polling_timeout"`
	WebhookURL     string   `yaml:"webhook_url"`
	WebhookSecret  string   `yaml:"webhook_secret"`
	AllowedUpdates []string `yaml:"allowed_updates"`
	// ParseMode is "markdown" (default), "MarkdownV2", "HTML" or "none".
	ParseMode        string        `yaml:"parse_mode"`
	MaxMessageLength int           `yaml:"max_message_length"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	APIURL           string        `yaml:"api_url"`
	AutoConnect      *bool         `yaml:"auto_connect"`

	AllowList channel.AllowListConfig `yaml:"allow_list"`
}

// defaults applies default values to unset fields.
func (c *Config) defaults() {
	if c.ChannelID == "" {
		c.ChannelID = "telegram"
	}
	if c.Mode == "" {
		c.Mode = modePolling
	}
	if c.PollingTimeout == 0 {
		c.PollingTimeout = 30
	}
	if c.AllowedUpdates == nil {
		c.AllowedUpdates = []string{"message", "edited_message", "channel_post"}
	}
	if c.ParseMode == "" {
		c.ParseMode = parseModeMarkdown
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = maxTextLength
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.APIURL == "" {
		c.APIURL = "https://api.telegram.org"
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.AutoConnect == nil {
		t := true
		c.AutoConnect = &t
	}
}

// validate checks configuration field constraints. It is called from
// Telegram.Validate after defaults have been applied.
func (c *Config) validate() error {
	var errs []error
	if !channelIDPattern.MatchString(c.ChannelID) {
		errs = append(errs, fmt.Errorf("telegram: channel_id %q must match %s", c.ChannelID, channelIDPattern))
	}

	switch {
	case c.Token == "":
		errs = append(errs, errors.New("telegram: token is required"))
	case !tokenPattern.MatchString(c.Token):
		errs = append(errs, errors.New("telegram: token format invalid (expected <bot_id>:<hash>)"))
	}

	switch c.Mode {
	case modePolling:
	case modeWebhook:
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("telegram: webhook_url is required when mode is \"webhook\""))
		} else if u, err := url.Parse(c.WebhookURL); err != nil || u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("telegram: webhook_url must be an https URL, got %q", c.WebhookURL))
		}
	default:
		errs = append(errs, fmt.Errorf("telegram: invalid mode %q (must be \"polling\" or \"webhook\")", c.Mode))
	}

	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("telegram: api_url must be a valid http/https URL, got %q", c.APIURL))
	}

	switch c.ParseMode {
	case parseModeMarkdown, parseModeNone, tgbotapi.ModeMarkdownV2, tgbotapi.ModeHTML:
	default:
		errs = append(errs, fmt.Errorf("telegram: unknown parse_mode %q", c.ParseMode))
	}

	if c.PollingTimeout < 0 || c.PollingTimeout > 50 {
		errs = append(errs, fmt.Errorf("telegram: polling_timeout must be 0-50, got %d", c.PollingTimeout))
	}
	if c.MaxMessageLength < 1 || c.MaxMessageLength > maxTextLength {
		errs = append(errs, fmt.Errorf("telegram: max_message_length must be 1-%d, got %d", maxTextLength, c.MaxMessageLength))
	}
	return errors.Join(errs...)
}

// endpoint is the tgbotapi method URL template.
func (c *Config) endpoint() string {
	return c.APIURL + "/bot%s/%s"
}

// fileURL returns the download URL of a file path returned by getFile.
func (c *Config) fileURL(filePath string) string {
	return c.APIURL + "/file/bot" + c.Token + "/" + strings.TrimPrefix(filePath, "/")
}
