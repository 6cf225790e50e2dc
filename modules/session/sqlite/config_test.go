package sqlite

import (
	"strings"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.defaults()
	if !cfg.walEnabled() || cfg.BusyTimeout != defaultBusyTimeout || cfg.LeaseTTL != 2*time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.RenewSchedule != "@every 30s" || cfg.PurgeSchedule != "*/10 * * * *" || cfg.Node == "" {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "negative busy timeout", mutate: func(c *Config) { c.BusyTimeout = -1 }, wantErr: "busy_timeout"},
		{name: "short ttl", mutate: func(c *Config) { c.LeaseTTL = time.Second }, wantErr: "lease_ttl"},
		{name: "bad renew", mutate: func(c *Config) { c.RenewSchedule = "often" }, wantErr: "renew_schedule"},
		{name: "bad purge", mutate: func(c *Config) { c.PurgeSchedule = "61 * * * *" }, wantErr: "purge_schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			cfg.defaults()
			tt.mutate(&cfg)
			err := cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), "session.sqlite:") {
				t.Errorf("err = %q, want module prefix", err)
			}
		})
	}
}
