// Package sqlite implements the session.sqlite module: a lease table in a
// SQLite database that guarantees each channel session is driven by one
// adapter at a time, across restarts and across processes sharing the
// data directory. It uses modernc.org/sqlite (pure Go, no CGO).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/cron"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module provides the channel session locker.
type Module struct {
	config    Config
	db        *sql.DB
	logger    *slog.Logger
	locker    *Locker
	scheduler *cron.Scheduler
	lost      prometheus.Counter
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "session.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("session.sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. It opens the database and
// registers the locker so channel modules provisioned afterwards pick it
// up.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	db, err := open(context.TODO(), &m.config)
	if err != nil {
		return err
	}
	m.db = db
	m.locker = NewLocker(db, m.config.Node, m.config.LeaseTTL, m.logger)

	m.lost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sbridge_session_leases_lost_total",
		Help: "Session leases taken over by another owner before renewal.",
	})
	if reg, ok := core.Lookup[prometheus.Registerer](ctx, channel.ServicePrometheus); ok {
		m.registerMetrics(reg)
	}

	m.scheduler = cron.NewScheduler(m.logger)
	jobs := []cron.Job{
		&renewJob{locker: m.locker, schedule: m.config.RenewSchedule, lost: func(n int) { m.lost.Add(float64(n)) }},
		&purgeJob{locker: m.locker, schedule: m.config.PurgeSchedule, logger: m.logger},
	}
	for _, j := range jobs {
		if err := m.scheduler.RegisterJob(j); err != nil {
			return err
		}
	}

	ctx.RegisterService(channel.ServiceLocker, m.locker)

	m.logger.Info("session lease store provisioned",
		"path", m.config.Path,
		"node", m.config.Node,
		"lease_ttl", m.config.LeaseTTL,
	)
	return nil
}

func (m *Module) registerMetrics(reg prometheus.Registerer) {
	held := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sbridge_session_leases_held",
		Help: "Session leases held by this process.",
	}, func() float64 { return float64(m.locker.Held()) })

	for _, c := range []prometheus.Collector{held, m.lost} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				m.logger.Warn("session lease metrics not registered", "error", err)
			}
		}
	}
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("session.sqlite: ping failed: %w", err)
	}
	return nil
}

// Start implements core.Starter. Leases left behind by a crash are
// purged before renewal begins.
func (m *Module) Start() error {
	if n, err := m.locker.Purge(context.TODO()); err != nil {
		m.logger.Warn("initial lease purge failed", "error", err)
	} else if n > 0 {
		m.logger.Info("expired session leases purged", "count", n)
	}
	return m.scheduler.Start()
}

// Stop implements core.Stopper. Channels stop before this module, so
// any lease still held here belongs to an adapter that failed to
// release it.
func (m *Module) Stop(ctx context.Context) error {
	m.logger.Info("session lease store stopping")
	var errs []error
	if m.scheduler != nil {
		errs = append(errs, m.scheduler.Stop(ctx))
	}
	if m.locker != nil {
		errs = append(errs, m.locker.ReleaseAll(ctx))
	}
	if m.db != nil {
		errs = append(errs, m.db.Close())
	}
	return errors.Join(errs...)
}

// Locker returns the lease store.
func (m *Module) Locker() *Locker {
	return m.locker
}
