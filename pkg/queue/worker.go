package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Worker claims tasks from a set of queues and routes them to the handler.
// Multiple worker processes may poll the same table concurrently; claims use
// FOR UPDATE SKIP LOCKED so a task is only ever held by one worker at a time.
type Worker struct {
	pool    *pgxpool.Pool
	table   pgx.Identifier
	handler Handler
	opts    WorkerOptions

	m          *metrics
	tableLabel string
}

func NewWorker(pool *pgxpool.Pool, table pgx.Identifier, handler Handler, opts WorkerOptions) (*Worker, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if handler == nil {
		return nil, invalidConfig("handler is required")
	}
	if len(opts.Queues) == 0 {
		return nil, invalidConfig("at least one queue is required")
	}

	opts.setDefaults()

	w := &Worker{
		pool:       pool,
		table:      table,
		handler:    handler,
		opts:       opts,
		m:          getMetrics(),
		tableLabel: TableLabel(table),
	}
	if w.opts.Logger == nil {
		w.opts.Logger = logrusNop()
	}
	return w, nil
}

func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(nextDepthAt) {
			if err := w.observeQueueDepth(ctx); err != nil {
				w.opts.Logger.WithError(err).Debug("queue: observe queue depth failed")
			}
			nextDepthAt = time.Now().Add(w.opts.ObserveQueueDepthEvery)
		}

		if err := w.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.opts.Logger.WithError(err).Warn("queue: process tick failed")
		}
	}
}

type claimed struct {
	ID          uuid.UUID
	Queue       string
	Kind        string
	Payload     []byte
	Sequence    int64
	Attempts    int
	MaxAttempts int
}

func (w *Worker) processOnce(ctx context.Context) error {
	now := time.Now()
	cutoff := now.Add(-w.opts.LockTTL)

	tasks, err := w.claim(ctx, now, cutoff)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for _, c := range tasks {
		g.Go(func() error {
			w.dispatch(ctx, c)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) dispatch(ctx context.Context, c claimed) {
	task := DispatchedTask{
		Meta: Meta{
			Table:       w.table,
			Queue:       c.Queue,
			Kind:        c.Kind,
			TaskID:      c.ID,
			Sequence:    c.Sequence,
			Attempts:    c.Attempts,
			MaxAttempts: c.MaxAttempts,
		},
		Payload: c.Payload,
	}

	dispatchCtx := ctx
	var cancel func()
	if w.opts.DispatchTimeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(ctx, w.opts.DispatchTimeout)
	}

	start := time.Now()
	err := w.safeHandle(dispatchCtx, task)
	if cancel != nil {
		cancel()
	}

	latency := time.Since(start)
	if err == nil {
		w.recordDispatch(c.Queue, c.Kind, "success", latency)
		if ackErr := w.ack(ctx, c.ID); ackErr != nil {
			w.opts.Logger.WithError(ackErr).WithFields(logFields(c, w.tableLabel)).Warn("queue: ack failed")
		}
		return
	}

	w.recordDispatch(c.Queue, c.Kind, "failure", latency)
	lastErr := truncateError(err, w.opts.LastErrorMaxLen)

	if c.Attempts >= c.MaxAttempts {
		won, deadErr := w.dead(ctx, c.ID, lastErr)
		if deadErr != nil {
			w.opts.Logger.WithError(deadErr).WithFields(logFields(c, w.tableLabel)).Warn("queue: dead update failed")
			return
		}
		if won {
			w.m.deadTotal.WithLabelValues(w.tableLabel, c.Queue, c.Kind).Inc()
			if w.opts.OnDead != nil {
				w.opts.OnDead(ctx, task, err)
			}
		}
		return
	}

	next := time.Now().Add(backoff(c.Attempts, w.opts.MaxBackoff) + jitter(w.opts.Rand, w.opts.JitterMax))
	if nackErr := w.nack(ctx, c.ID, lastErr, next); nackErr != nil {
		w.opts.Logger.WithError(nackErr).WithFields(logFields(c, w.tableLabel)).Warn("queue: nack failed")
	}
}

// safeHandle converts handler panics into errors so a broken handler burns
// its attempt budget instead of killing the worker.
func (w *Worker) safeHandle(ctx context.Context, task DispatchedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler for %s panicked: %v", task.Meta.Kind, r)
		}
	}()
	return w.handler.Handle(ctx, task)
}

func (w *Worker) claim(ctx context.Context, now, lockCutoff time.Time) ([]claimed, error) {
	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tableName := w.table.Sanitize()
	q := fmt.Sprintf(
		`SELECT id, queue, kind, payload, sequence, attempts, max_attempts
		   FROM %s
		  WHERE queue = ANY($1)
		    AND completed_at IS NULL
		    AND failed_at IS NULL
		    AND available_at <= $2
		    AND attempts < max_attempts
		    AND (locked_at IS NULL OR locked_at < $3)
		  ORDER BY available_at, sequence
		  LIMIT $4
		  FOR UPDATE SKIP LOCKED`,
		tableName,
	)
	rows, err := tx.Query(ctx, q, w.opts.Queues, now, lockCutoff, w.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("queue claim select: %w", err)
	}
	defer rows.Close()

	var items []claimed
	var ids []uuid.UUID
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.ID, &c.Queue, &c.Kind, &c.Payload, &c.Sequence, &c.Attempts, &c.MaxAttempts); err != nil {
			return nil, fmt.Errorf("queue claim scan: %w", err)
		}
		c.Attempts++
		items = append(items, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue claim rows: %w", err)
	}
	if len(ids) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	update := fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, tableName)
	if _, err := tx.Exec(ctx, update, now, pgtype.FlatArray[uuid.UUID](ids)); err != nil {
		return nil, fmt.Errorf("queue claim update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return items, nil
}

func (w *Worker) ack(ctx context.Context, id uuid.UUID) error {
	tableName := w.table.Sanitize()
	q := fmt.Sprintf(
		`UPDATE %s
		    SET completed_at = now(),
		        locked_at = NULL,
		        last_error = NULL
		  WHERE id = $1 AND completed_at IS NULL AND failed_at IS NULL`,
		tableName,
	)
	if _, err := w.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("queue ack: %w", err)
	}
	return nil
}

func (w *Worker) nack(ctx context.Context, id uuid.UUID, lastError string, nextAvailable time.Time) error {
	tableName := w.table.Sanitize()
	q := fmt.Sprintf(
		`UPDATE %s
		    SET locked_at = NULL,
		        last_error = $2,
		        available_at = $3
		  WHERE id = $1 AND completed_at IS NULL AND failed_at IS NULL`,
		tableName,
	)
	if _, err := w.pool.Exec(ctx, q, id, lastError, nextAvailable); err != nil {
		return fmt.Errorf("queue nack: %w", err)
	}
	return nil
}

// dead marks a task terminally failed. The boolean reports whether this
// worker won the transition, so the OnDead hook fires exactly once even when
// a lock-expired duplicate finishes later.
func (w *Worker) dead(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	tableName := w.table.Sanitize()
	q := fmt.Sprintf(
		`UPDATE %s
		    SET failed_at = now(),
		        locked_at = NULL,
		        last_error = $2
		  WHERE id = $1 AND completed_at IS NULL AND failed_at IS NULL`,
		tableName,
	)
	tag, err := w.pool.Exec(ctx, q, id, lastError)
	if err != nil {
		return false, fmt.Errorf("queue dead: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (w *Worker) observeQueueDepth(ctx context.Context) error {
	tableName := w.table.Sanitize()
	q := fmt.Sprintf(
		`SELECT queue,
		        count(*),
		        count(*) FILTER (WHERE locked_at IS NOT NULL)
		   FROM %s
		  WHERE completed_at IS NULL AND failed_at IS NULL AND queue = ANY($1)
		  GROUP BY queue`,
		tableName,
	)
	rows, err := w.pool.Query(ctx, q, w.opts.Queues)
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}
	defer rows.Close()

	pending := make(map[string]int64, len(w.opts.Queues))
	locked := make(map[string]int64, len(w.opts.Queues))
	for rows.Next() {
		var queueName string
		var p, l int64
		if err := rows.Scan(&queueName, &p, &l); err != nil {
			return fmt.Errorf("queue depth scan: %w", err)
		}
		pending[queueName] = p
		locked[queueName] = l
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("queue depth rows: %w", err)
	}

	for _, queueName := range w.opts.Queues {
		w.m.pending.WithLabelValues(w.tableLabel, queueName).Set(float64(pending[queueName]))
		w.m.locked.WithLabelValues(w.tableLabel, queueName).Set(float64(locked[queueName]))
	}
	return nil
}

func (w *Worker) recordDispatch(queueName, kind, result string, latency time.Duration) {
	w.m.dispatchTotal.WithLabelValues(w.tableLabel, queueName, kind, result).Inc()
	w.m.dispatchLatency.WithLabelValues(w.tableLabel, queueName, result).Observe(latency.Seconds())
}

func logFields(c claimed, table string) map[string]any {
	return map[string]any{
		"table":        table,
		"queue":        c.Queue,
		"kind":         c.Kind,
		"task_id":      c.ID.String(),
		"sequence":     c.Sequence,
		"attempts":     c.Attempts,
		"max_attempts": c.MaxAttempts,
	}
}
