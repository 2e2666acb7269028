package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Janitor removes completed tasks past the retention window and, when dead
// retention is set, failed tasks as well. Only one janitor per table runs at
// a time; instances race for a Postgres advisory lock each tick and losers
// skip the tick.
type Janitor struct {
	pool       *pgxpool.Pool
	table      pgx.Identifier
	opts       JanitorOptions
	tableLabel string
	lockKey    int64

	m *metrics
}

func NewJanitor(pool *pgxpool.Pool, table pgx.Identifier, opts JanitorOptions) (*Janitor, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	opts.setDefaults()
	if opts.Logger == nil {
		opts.Logger = logrusNop()
	}
	return &Janitor{
		pool:       pool,
		table:      table,
		opts:       opts,
		tableLabel: TableLabel(table),
		lockKey:    advisoryLockKey("queue:janitor:" + TableLabel(table)),
		m:          getMetrics(),
	}, nil
}

func (j *Janitor) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}
	if !j.opts.Enabled {
		return nil
	}

	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := j.tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			j.opts.Logger.WithError(err).WithField("table", j.tableLabel).Warn("queue: janitor tick failed")
		}
	}
}

func (j *Janitor) tick(ctx context.Context) error {
	conn, err := j.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var leader bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, j.lockKey).Scan(&leader); err != nil {
		return err
	}
	if !leader {
		j.m.janitorLeader.WithLabelValues(j.tableLabel).Set(0)
		return nil
	}
	j.m.janitorLeader.WithLabelValues(j.tableLabel).Set(1)
	defer func() {
		var unlocked bool
		_ = conn.QueryRow(context.Background(), `SELECT pg_advisory_unlock($1::bigint)`, j.lockKey).Scan(&unlocked)
	}()

	return j.cleanOnce(ctx, conn)
}

func (j *Janitor) cleanOnce(ctx context.Context, conn *pgxpool.Conn) error {
	cutoff := time.Now().Add(-j.opts.Retention)

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tableName := j.table.Sanitize()

	q := fmt.Sprintf(`DELETE FROM %s WHERE completed_at IS NOT NULL AND completed_at < $1`, tableName)
	if _, err := tx.Exec(ctx, q, cutoff); err != nil {
		return fmt.Errorf("queue janitor delete completed: %w", err)
	}

	if j.opts.DeadRetention > 0 {
		deadCutoff := time.Now().Add(-j.opts.DeadRetention)
		deadQ := fmt.Sprintf(`DELETE FROM %s WHERE failed_at IS NOT NULL AND failed_at < $1`, tableName)
		if _, err := tx.Exec(ctx, deadQ, deadCutoff); err != nil {
			return fmt.Errorf("queue janitor delete failed: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
