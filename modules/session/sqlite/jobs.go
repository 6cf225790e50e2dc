package sqlite

import (
	"context"
	"log/slog"

	"github.com/flemzord/sbridge/internal/cron"
)

var (
	_ cron.Job = (*renewJob)(nil)
	_ cron.Job = (*purgeJob)(nil)
)

// renewJob keeps this process's leases alive.
type renewJob struct {
	locker   *Locker
	schedule string
	lost     func(n int)
}

func (j *renewJob) Name() string     { return "session_lease_renew" }
func (j *renewJob) Schedule() string { return j.schedule }

func (j *renewJob) Run(ctx context.Context) error {
	lost, err := j.locker.Renew(ctx)
	if len(lost) > 0 && j.lost != nil {
		j.lost(len(lost))
	}
	return err
}

// purgeJob deletes leases nobody renewed.
type purgeJob struct {
	locker   *Locker
	schedule string
	logger   *slog.Logger
}

func (j *purgeJob) Name() string     { return "session_lease_purge" }
func (j *purgeJob) Schedule() string { return j.schedule }

func (j *purgeJob) Run(ctx context.Context) error {
	n, err := j.locker.Purge(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Info("expired session leases purged", "count", n)
	}
	return nil
}
