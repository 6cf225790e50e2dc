package rcs

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
	defaultChannelID = "rcs"
	defaultAPIURL    = "https://rcsbusinessmessaging.googleapis.com"
	// maxText is the longest text RBM accepts in one message.
	maxText = 3072
)

var (
	channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	agentIDPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	e164Pattern      = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
)

// Config holds the RCS channel configuration.
type Config struct {
	ChannelID string `yaml:"channel_id"`
	AgentID   string `yaml:"agent_id"`
	// ServiceAccountFile is the JSON key of a service account allowed to
	// act for the agent. AccessToken replaces it with a fixed token.
	ServiceAccountFile string `yaml:"service_account_file"`
	AccessToken        string `yaml:"access_token"`
	// ClientToken signs webhook pushes and authenticates the handshake.
	ClientToken string `yaml:"client_token"`

	APIURL            string        `yaml:"api_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxMessageLength  int           `yaml:"max_message_length"`
	AutoConnect       *bool         `yaml:"auto_connect"`

	AllowList channel.AllowListConfig `yaml:"allow_list"`
}

func (c *Config) defaults() {
	if c.ChannelID == "" {
		c.ChannelID = defaultChannelID
	}
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = maxText
	}
	if c.AutoConnect == nil {
		t := true
		c.AutoConnect = &t
	}
}

func (c *Config) validate() error {
	var errs []error
	if !channelIDPattern.MatchString(c.ChannelID) {
		errs = append(errs, fmt.Errorf("rcs: channel_id %q must match %s", c.ChannelID, channelIDPattern))
	}
	if !agentIDPattern.MatchString(c.AgentID) {
		errs = append(errs, fmt.Errorf("rcs: agent_id %q is not an RBM agent id", c.AgentID))
	}
	switch {
	case c.ServiceAccountFile != "" && c.AccessToken != "":
		errs = append(errs, errors.New("rcs: set service_account_file or access_token, not both"))
	case c.ServiceAccountFile == "" && c.AccessToken == "":
		errs = append(errs, errors.New("rcs: service_account_file or access_token is required"))
	}
	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("rcs: api_url must be a valid http/https URL, got %q", c.APIURL))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("rcs: requests_per_second must be positive"))
	}
	if c.MaxMessageLength < 1 || c.MaxMessageLength > maxText {
		errs = append(errs, fmt.Errorf("rcs: max_message_length must be 1-%d, got %d", maxText, c.MaxMessageLength))
	}
	return errors.Join(errs...)
}
