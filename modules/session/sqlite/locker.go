package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
)

var _ channel.SessionLocker = (*Locker)(nil)

// Lease is one row of the lease table.
type Lease struct {
	ChannelID  string
	Owner      string
	Node       string
	AcquiredAt time.Time
	RenewedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease has lapsed at t.
func (l Lease) Expired(t time.Time) bool {
	return !t.Before(l.ExpiresAt)
}

// Locker is a channel.SessionLocker backed by the lease table. A lease
// expires unless its owner renews it, so a crashed process frees its
// channels after the TTL.
type Locker struct {
	db     *sql.DB
	node   string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	held map[string]string // channel id -> owner
}

// NewLocker creates a Locker over a migrated database.
func NewLocker(db *sql.DB, node string, ttl time.Duration, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		db:     db,
		node:   node,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		held:   make(map[string]string),
	}
}

// Acquire takes the lease for channelID, or refreshes it when owner
// already holds it. An expired lease held by someone else is taken over.
func (l *Locker) Acquire(ctx context.Context, channelID, owner string) error {
	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO leases (channel_id, owner, node, acquired_at, renewed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			acquired_at = CASE WHEN leases.owner = excluded.owner THEN leases.acquired_at ELSE excluded.acquired_at END,
			owner       = excluded.owner,
			node        = excluded.node,
			renewed_at  = excluded.renewed_at,
			expires_at  = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at <= ?`,
		channelID, owner, l.node, now.UnixMilli(), now.UnixMilli(), now.Add(l.ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("session.sqlite: acquire %s: %w", channelID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session.sqlite: acquire %s: %w", channelID, err)
	}
	if n == 0 {
		lease, ok, err := l.Holder(ctx, channelID)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: %s held by %s on %s until %s",
				channel.ErrSessionLocked, channelID, lease.Owner, lease.Node, lease.ExpiresAt.Format(time.RFC3339))
		}
		return fmt.Errorf("%w: %s", channel.ErrSessionLocked, channelID)
	}

	l.mu.Lock()
	l.held[channelID] = owner
	l.mu.Unlock()
	return nil
}

// Release drops the lease if owner holds it.
func (l *Locker) Release(ctx context.Context, channelID, owner string) error {
	l.mu.Lock()
	if l.held[channelID] == owner {
		delete(l.held, channelID)
	}
	l.mu.Unlock()

	if _, err := l.db.ExecContext(ctx,
		"DELETE FROM leases WHERE channel_id = ? AND owner = ?", channelID, owner); err != nil {
		return fmt.Errorf("session.sqlite: release %s: %w", channelID, err)
	}
	return nil
}

// Renew extends every lease this process holds and returns the channel
// ids whose lease was lost to another owner.
func (l *Locker) Renew(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	held := maps.Clone(l.held)
	l.mu.Unlock()

	now := l.now()
	var lost []string
	var errs []error
	for _, id := range slices.Sorted(maps.Keys(held)) {
		res, err := l.db.ExecContext(ctx,
			"UPDATE leases SET renewed_at = ?, expires_at = ? WHERE channel_id = ? AND owner = ?",
			now.UnixMilli(), now.Add(l.ttl).UnixMilli(), id, held[id])
		if err != nil {
			errs = append(errs, fmt.Errorf("renew %s: %w", id, err))
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			lost = append(lost, id)
		}
	}

	if len(lost) > 0 {
		l.mu.Lock()
		for _, id := range lost {
			if l.held[id] == held[id] {
				delete(l.held, id)
			}
		}
		l.mu.Unlock()
		l.logger.Warn("session leases lost", "channels", lost)
	}
	if err := errors.Join(errs...); err != nil {
		return lost, fmt.Errorf("session.sqlite: %w", err)
	}
	return lost, nil
}

// Purge deletes expired leases and returns how many were removed.
func (l *Locker) Purge(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM leases WHERE expires_at <= ?", l.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("session.sqlite: purge: %w", err)
	}
	return res.RowsAffected()
}

// Holder returns the current lease on channelID, expired or not.
func (l *Locker) Holder(ctx context.Context, channelID string) (Lease, bool, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT channel_id, owner, node, acquired_at, renewed_at, expires_at FROM leases WHERE channel_id = ?",
		channelID)
	lease, err := scanLease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("session.sqlite: read lease %s: %w", channelID, err)
	}
	return lease, true, nil
}

// Leases lists every lease ordered by channel id.
func (l *Locker) Leases(ctx context.Context) ([]Lease, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT channel_id, owner, node, acquired_at, renewed_at, expires_at FROM leases ORDER BY channel_id")
	if err != nil {
		return nil, fmt.Errorf("session.sqlite: list leases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("session.sqlite: list leases: %w", err)
		}
		out = append(out, lease)
	}
	return out, rows.Err()
}

// Held returns the number of leases this process holds.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// ReleaseAll drops every lease this process holds.
func (l *Locker) ReleaseAll(ctx context.Context) error {
	l.mu.Lock()
	held := l.held
	l.held = make(map[string]string)
	l.mu.Unlock()

	var errs []error
	for id, owner := range held {
		if _, err := l.db.ExecContext(ctx,
			"DELETE FROM leases WHERE channel_id = ? AND owner = ?", id, owner); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session.sqlite: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLease(s scanner) (Lease, error) {
	var (
		lease                        Lease
		acquired, renewed, expiresAt int64
	)
	if err := s.Scan(&lease.ChannelID, &lease.Owner, &lease.Node, &acquired, &renewed, &expiresAt); err != nil {
		return Lease{}, err
	}
	lease.AcquiredAt = time.UnixMilli(acquired)
	lease.RenewedAt = time.UnixMilli(renewed)
	lease.ExpiresAt = time.UnixMilli(expiresAt)
	return lease, nil
}
