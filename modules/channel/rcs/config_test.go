package rcs

import (
	"strings"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Config{APIURL: "https://rbm.example.com/"}
	cfg.defaults()
	if cfg.ChannelID != "rcs" || cfg.MaxMessageLength != maxText || cfg.RequestTimeout != 30*time.Second || cfg.RequestsPerSecond != 10 || !*cfg.AutoConnect {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.APIURL != "https://rbm.example.com" {
		t.Errorf("APIURL = %q, want trailing slash trimmed", cfg.APIURL)
	}

	var empty Config
	empty.defaults()
	if empty.APIURL != defaultAPIURL {
		t.Errorf("APIURL = %q, want %q", empty.APIURL, defaultAPIURL)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "service account", mutate: func(c *Config) {
			c.AccessToken = ""
			c.ServiceAccountFile = "/etc/sbridge/rbm.json"
		}},
		{name: "no agent", mutate: func(c *Config) { c.AgentID = "" }, wantErr: "agent_id"},
		{name: "bad agent", mutate: func(c *Config) { c.AgentID = "Acme Agent" }, wantErr: "agent_id"},
		{name: "no credentials", mutate: func(c *Config) { c.AccessToken = "" }, wantErr: "service_account_file or access_token"},
		{name: "both credentials", mutate: func(c *Config) { c.ServiceAccountFile = "/etc/rbm.json" }, wantErr: "not both"},
		{name: "bad api url", mutate: func(c *Config) { c.APIURL = "rbm.example.com" }, wantErr: "api_url"},
		{name: "negative rate", mutate: func(c *Config) { c.RequestsPerSecond = -1 }, wantErr: "requests_per_second"},
		{name: "too long", mutate: func(c *Config) { c.MaxMessageLength = maxText + 1 }, wantErr: "max_message_length"},
		{name: "bad channel id", mutate: func(c *Config) { c.ChannelID = "-rcs" }, wantErr: "channel_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{AgentID: testAgent, AccessToken: testToken}
			cfg.defaults()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
