package meta

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
)

const defaultAPIVersion = "v22.0"

var (
	channelIDPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	apiVersionPattern = regexp.MustCompile(`^v\d+\.\d+$`)
)

// Config holds the Messenger or Instagram channel configuration.
type Config struct {
	ChannelID string `yaml:"channel_id"`
	// AccountID is the Facebook page id or the Instagram professional
	// account id. Empty means "me", the account owning the token.
	AccountID   string `yaml:"account_id"`
	AccessToken string `yaml:"access_token"`
	// AppSecret signs webhook payloads and the appsecret_proof parameter.
	AppSecret   string `yaml:"app_secret"`
	VerifyToken string `yaml:"verify_token"`

	APIURL     string `yaml:"api_url"`
	APIVersion string `yaml:"api_version"`
	// RequestsPerSecond paces Graph calls. Burst is twice the rate.
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxMessageLength  int           `yaml:"max_message_length"`
	// SubscribeWebhooks subscribes the app to the page on connect.
	SubscribeWebhooks bool  `yaml:"subscribe_webhooks"`
	AutoConnect       *bool `yaml:"auto_connect"`

	AllowList channel.AllowListConfig `yaml:"allow_list"`
}

func (c *Config) defaults(p *platform) {
	if c.ChannelID == "" {
		c.ChannelID = p.name
	}
	if c.APIURL == "" {
		c.APIURL = p.apiURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = p.maxText
	}
	if c.AutoConnect == nil {
		t := true
		c.AutoConnect = &t
	}
}

func (c *Config) validate(p *platform) error {
	var errs []error
	if !channelIDPattern.MatchString(c.ChannelID) {
		errs = append(errs, fmt.Errorf("%s: channel_id %q must match %s", p.name, c.ChannelID, channelIDPattern))
	}
	if c.AccessToken == "" {
		errs = append(errs, fmt.Errorf("%s: access_token is required", p.name))
	}
	if c.VerifyToken == "" {
		errs = append(errs, fmt.Errorf("%s: verify_token is required for the webhook handshake", p.name))
	}
	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("%s: api_url must be a valid http/https URL, got %q", p.name, c.APIURL))
	}
	if !apiVersionPattern.MatchString(c.APIVersion) {
		errs = append(errs, fmt.Errorf("%s: api_version %q must look like v22.0", p.name, c.APIVersion))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("%s: requests_per_second must be positive", p.name))
	}
	if c.MaxMessageLength < 1 || c.MaxMessageLength > p.maxText {
		errs = append(errs, fmt.Errorf("%s: max_message_length must be 1-%d, got %d", p.name, p.maxText, c.MaxMessageLength))
	}
	if c.SubscribeWebhooks && c.AccountID == "" {
		errs = append(errs, errors.New(p.name+": subscribe_webhooks needs account_id"))
	}
	return errors.Join(errs...)
}

// account is the Graph node messages are sent from.
func (c *Config) account() string {
	if c.AccountID == "" {
		return "me"
	}
	return c.AccountID
}
