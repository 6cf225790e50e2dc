package email

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/flemzord/sbridge/internal/channel"
)

const (
	defaultChannelID = "email"
	defaultSubject   = "New message"
	maxBody          = 1_000_000
	mb               = 1 << 20
)

var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// tlsModes maps the tls setting onto go-mail policies. "ssl" is implicit
// TLS, usually on port 465.
var tlsModes = map[string]gomail.TLSPolicy{
	"mandatory":     gomail.TLSMandatory,
	"opportunistic": gomail.TLSOpportunistic,
	"none":          gomail.NoTLS,
	"ssl":           gomail.TLSMandatory,
}

// Config holds the email channel configuration.
type Config struct {
	ChannelID string `yaml:"channel_id"`

	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TLS is mandatory, opportunistic, none or ssl.
	TLS string `yaml:"tls"`

	FromAddress    string `yaml:"from_address"`
	FromName       string `yaml:"from_name"`
	DefaultSubject string `yaml:"default_subject"`

	// SigningKey checks the signature of inbound webhooks.
	SigningKey string `yaml:"signing_key"`
	// MaxSkew rejects signed webhooks whose timestamp is further off.
	MaxSkew time.Duration `yaml:"max_skew"`
	// InboundMaxBytes bounds an inbound post, attachments included.
	InboundMaxBytes int `yaml:"inbound_max_bytes"`

	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxMessageLength int           `yaml:"max_message_length"`
	AutoConnect      *bool         `yaml:"auto_connect"`

	AllowList channel.AllowListConfig `yaml:"allow_list"`
}

func (c *Config) defaults() {
	if c.ChannelID == "" {
		c.ChannelID = defaultChannelID
	}
	if c.TLS == "" {
		c.TLS = "mandatory"
	}
	if c.SMTPPort == 0 {
		switch c.TLS {
		case "ssl":
			c.SMTPPort = 465
		case "none":
			c.SMTPPort = 25
		default:
			c.SMTPPort = 587
		}
	}
	if c.DefaultSubject == "" {
		c.DefaultSubject = defaultSubject
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = 15 * time.Minute
	}
	if c.InboundMaxBytes == 0 {
		c.InboundMaxBytes = 40 * mb
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = 100_000
	}
	if c.AutoConnect == nil {
		t := true
		c.AutoConnect = &t
	}
}

func (c *Config) validate() error {
	var errs []error
	if !channelIDPattern.MatchString(c.ChannelID) {
		errs = append(errs, fmt.Errorf("email: channel_id %q must match %s", c.ChannelID, channelIDPattern))
	}
	if c.SMTPHost == "" {
		errs = append(errs, errors.New("email: smtp_host is required"))
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("email: smtp_port must be 1-65535, got %d", c.SMTPPort))
	}
	if _, ok := tlsModes[c.TLS]; !ok {
		errs = append(errs, fmt.Errorf("email: tls must be mandatory, opportunistic, none or ssl, got %q", c.TLS))
	}
	if c.Username != "" && c.Password == "" {
		errs = append(errs, errors.New("email: username needs password"))
	}
	if c.Username != "" && c.TLS == "none" {
		errs = append(errs, errors.New("email: refusing to send credentials with tls: none"))
	}
	if _, err := mail.ParseAddress(c.FromAddress); err != nil {
		errs = append(errs, fmt.Errorf("email: from_address %q is not an address", c.FromAddress))
	}
	if c.InboundMaxBytes < mb {
		errs = append(errs, fmt.Errorf("email: inbound_max_bytes must be at least %d", mb))
	}
	if c.MaxMessageLength < 1 || c.MaxMessageLength > maxBody {
		errs = append(errs, fmt.Errorf("email: max_message_length must be 1-%d, got %d", maxBody, c.MaxMessageLength))
	}
	return errors.Join(errs...)
}
