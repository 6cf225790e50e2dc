package sqlite

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/flemzord/sbridge/internal/cron"
)

const (
	defaultBusyTimeout   = 5000
	defaultDBFile        = "sessions.db"
	defaultLeaseTTL      = 2 * time.Minute
	defaultRenewSchedule = "@every 30s"
	defaultPurgeSchedule = "*/10 * * * *"
	minLeaseTTL          = 10 * time.Second
)

// Config holds the session lease store configuration.
type Config struct {
	// Path is the database file. Defaults to {DataDir}/sessions.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// LeaseTTL is how long a lease survives without renewal.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// RenewSchedule and PurgeSchedule are cron expressions or descriptors.
	RenewSchedule string `yaml:"renew_schedule"`
	PurgeSchedule string `yaml:"purge_schedule"`

	// Node names this process in the lease table. Defaults to the hostname.
	Node string `yaml:"node"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.RenewSchedule == "" {
		c.RenewSchedule = defaultRenewSchedule
	}
	if c.PurgeSchedule == "" {
		c.PurgeSchedule = defaultPurgeSchedule
	}
	if c.Node == "" {
		if host, err := os.Hostname(); err == nil {
			c.Node = host
		} else {
			c.Node = "local"
		}
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	var errs []error
	if c.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("busy_timeout must be non-negative, got %d", c.BusyTimeout))
	}
	if c.LeaseTTL < minLeaseTTL {
		errs = append(errs, fmt.Errorf("lease_ttl must be at least %s, got %s", minLeaseTTL, c.LeaseTTL))
	}
	if err := cron.ValidateSchedule(c.RenewSchedule); err != nil {
		errs = append(errs, fmt.Errorf("renew_schedule: %w", err))
	}
	if err := cron.ValidateSchedule(c.PurgeSchedule); err != nil {
		errs = append(errs, fmt.Errorf("purge_schedule: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session.sqlite: %w", err)
	}
	return nil
}
