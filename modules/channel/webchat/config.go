package webchat

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
)

const (
	defaultChannelID        = "webchat"
	defaultMaxSessions      = 1000
	defaultMaxMessageLength = 4096
	defaultMaxFrameBytes    = 1 << 20
	defaultPingInterval     = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second

	maxMessageLength = 65536
	minFrameBytes    = 1 << 10
)

var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Config holds the web chat channel configuration.
type Config struct {
	ChannelID string `yaml:"channel_id"`
	// Token, when set, must be presented by the widget in the token query
	// parameter or as a bearer Authorization header.
	Token string `yaml:"token"`
	// AllowedOrigins are host patterns for cross-origin widgets, such as
	// "*.example.com". Empty allows same-origin pages only.
	AllowedOrigins []string `yaml:"allowed_origins"`
	WelcomeMessage string   `yaml:"welcome_message"`

	MaxSessions      int           `yaml:"max_sessions"`
	MaxMessageLength int           `yaml:"max_message_length"`
	MaxFrameBytes    int64         `yaml:"max_frame_bytes"`
	// PingInterval paces WebSocket pings. Negative disables them.
	PingInterval     time.Duration `yaml:"ping_interval"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	AutoConnect      *bool         `yaml:"auto_connect"`

	AllowList channel.AllowListConfig `yaml:"allow_list"`
}

func (c *Config) defaults() {
	if c.ChannelID == "" {
		c.ChannelID = defaultChannelID
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = defaultMaxSessions
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = defaultMaxMessageLength
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.AutoConnect == nil {
		t := true
		c.AutoConnect = &t
	}
}

func (c *Config) validate() error {
	var errs []error
	if !channelIDPattern.MatchString(c.ChannelID) {
		errs = append(errs, fmt.Errorf("webchat: channel_id %q must match %s", c.ChannelID, channelIDPattern))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, errors.New("webchat: max_sessions must be positive"))
	}
	if c.MaxMessageLength < 1 || c.MaxMessageLength > maxMessageLength {
		errs = append(errs, fmt.Errorf("webchat: max_message_length must be 1-%d, got %d", maxMessageLength, c.MaxMessageLength))
	}
	if c.MaxFrameBytes < minFrameBytes {
		errs = append(errs, fmt.Errorf("webchat: max_frame_bytes must be at least %d", minFrameBytes))
	}
	for _, p := range c.AllowedOrigins {
		if _, err := path.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("webchat: allowed_origins pattern %q: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
