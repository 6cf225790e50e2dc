package gateway

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config is the gateway.http module section.
type Config struct {
	// Bind is host:port. Loopback unless the operator opts out.
	Bind string `yaml:"bind"`
	Auth AuthConfig `yaml:"auth"`
	// Webhooks holds per-source settings keyed by channel ID.
	Webhooks map[string]WebhookSource `yaml:"webhooks"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MetricsPath serves Prometheus metrics. "-" disables the endpoint.
	MetricsPath string `yaml:"metrics_path"`
	// MaxWebhookBody caps webhook and send request bodies, in bytes.
	MaxWebhookBody int `yaml:"max_webhook_body"`
	// QRSize is the edge length in pixels of /api/channels/{id}/qr.png.
	QRSize int `yaml:"qr_size"`
}

// AuthConfig protects the admin API. Either a bearer token or a basic
// user/password pair enables it; without one the admin routes are not
// mounted at all.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured reports whether any credential is set.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// WebhookSource overrides settings for one webhook source.
type WebhookSource struct {
	// Secret is the HMAC-SHA256 key checked against X-Signature-256 when
	// the channel registers its handler without one.
	Secret string `yaml:"secret"`
}

func (c *Config) defaults() {
	setDefault(&c.Bind, "127.0.0.1:8080")
	setDefault(&c.MetricsPath, "/metrics")
	setDefault(&c.ReadTimeout, 10*time.Second)
	setDefault(&c.WriteTimeout, 30*time.Second)
	setDefault(&c.ShutdownTimeout, 5*time.Second)
	setDefault(&c.MaxWebhookBody, 1<<20)
	setDefault(&c.QRSize, 256)
}

func (c *Config) validate() error {
	var errs []error
	if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
		errs = append(errs, fmt.Errorf("invalid bind address %q: %w", c.Bind, err))
	}
	if p := c.MetricsPath; p != "-" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("metrics_path %q must start with / or be -", p))
	}
	if (c.Auth.BasicUser == "") != (c.Auth.BasicPass == "") {
		errs = append(errs, errors.New("auth: basic_user and basic_pass must be set together"))
	}
	for source, wh := range c.Webhooks {
		if strings.TrimSpace(source) == "" {
			errs = append(errs, errors.New("webhooks: empty source name"))
		} else if wh.Secret == "" {
			errs = append(errs, fmt.Errorf("webhooks.%s: secret is empty", source))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// setDefault replaces a zero or negative value. For strings only the
// empty string is replaced.
func setDefault[T int | time.Duration | string](v *T, def T) {
	var zero T
	if *v <= zero {
		*v = def
	}
}
