// Package cron runs periodic maintenance jobs, such as renewing and
// purging channel session leases.
package cron

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Job is a periodic task.
type Job interface {
	// Name identifies the job in logs. It must be unique per scheduler.
	Name() string

	// Schedule returns a 5-field cron expression ("*/10 * * * *") or a
	// descriptor such as "@every 30s" or "@hourly".
	Schedule() string

	// Run executes one tick. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a schedule the Scheduler accepts.
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return nil
}
