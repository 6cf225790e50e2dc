package whatsapp

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/flemzord/sbridge/internal/channel"
)

const (
	defaultDeviceName       = "sbridge"
	defaultPlatform         = "chrome"
	defaultLogLevel         = "warn"
	defaultMaxMessageLength = 65536
	defaultMediaCacheSize   = 512
)

// channelIDPattern restricts channel ids to something safe in a file name.
var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Config holds the WhatsApp channel configuration.
type Config struct {
	ChannelID string `yaml:"channel_id"`

	// DatabasePath is the SQLite device store. Defaults to
	// {DataDir}/whatsapp/{channel_id}.db.
	DatabasePath string `yaml:"database_path"`
	DeviceName   string `yaml:"device_name"`
	Platform     string `yaml:"platform"`
	LogLevel     string `yaml:"log_level"`

	AutoReconnect     *bool `yaml:"auto_reconnect"`
	AutoTrustIdentity *bool `yaml:"auto_trust_identity"`
	// AutoConnect dials on Start when a stored session exists.
	AutoConnect *bool `yaml:"auto_connect"`

	// IncludeFromMe forwards messages sent from the linked phone.
	IncludeFromMe bool `yaml:"include_from_me"`

	MaxMessageLength int `yaml:"max_message_length"`
	// MediaCacheSize bounds how many inbound media references are kept for
	// DownloadMedia.
	MediaCacheSize int `yaml:"media_cache_size"`

	AllowList channel.AllowListConfig `yaml:"allow_list"`
}

func (c *Config) defaults(dataDir string) {
	if c.DatabasePath == "" && c.ChannelID != "" {
		c.DatabasePath = filepath.Join(dataDir, "whatsapp", c.ChannelID+".db")
	}
	if c.DeviceName == "" {
		c.DeviceName = defaultDeviceName
	}
	if c.Platform == "" {
		c.Platform = defaultPlatform
	}
	c.Platform = strings.ToLower(c.Platform)
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.AutoReconnect == nil {
		c.AutoReconnect = boolPtr(true)
	}
	if c.AutoTrustIdentity == nil {
		c.AutoTrustIdentity = boolPtr(true)
	}
	if c.AutoConnect == nil {
		c.AutoConnect = boolPtr(true)
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = defaultMaxMessageLength
	}
	if c.MediaCacheSize == 0 {
		c.MediaCacheSize = defaultMediaCacheSize
	}
}

func (c *Config) validate() error {
	var errs []error
	switch {
	case c.ChannelID == "":
		errs = append(errs, errors.New("whatsapp: channel_id is required"))
	case !channelIDPattern.MatchString(c.ChannelID):
		errs = append(errs, fmt.Errorf("whatsapp: channel_id %q must match %s", c.ChannelID, channelIDPattern))
	}
	if _, ok := platforms[c.Platform]; !ok {
		errs = append(errs, fmt.Errorf("whatsapp: unknown platform %q", c.Platform))
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("whatsapp: unknown log_level %q", c.LogLevel))
	}
	if c.MaxMessageLength < 1 || c.MaxMessageLength > defaultMaxMessageLength {
		errs = append(errs, fmt.Errorf("whatsapp: max_message_length must be 1-%d, got %d", defaultMaxMessageLength, c.MaxMessageLength))
	}
	if c.MediaCacheSize < 0 {
		errs = append(errs, fmt.Errorf("whatsapp: media_cache_size must be non-negative, got %d", c.MediaCacheSize))
	}
	return errors.Join(errs...)
}

func boolPtr(b bool) *bool { return &b }
