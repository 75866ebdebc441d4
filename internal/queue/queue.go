// Package queue implements the durable work queue connecting the intake API
// to the scan worker. It rides the same Postgres instance as the job store:
// items are claimed with FOR UPDATE SKIP LOCKED so any number of worker
// processes can consume concurrently without double delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
)

// DBPool is the subset of pgxpool.Pool the queue needs; pgxmock satisfies it.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queue is a Postgres-backed schemas.WorkQueue.
type Queue struct {
	pool         DBPool
	log          *zap.Logger
	pollInterval time.Duration
}

// New creates a queue handle. pollInterval governs how often an idle
// consumer re-checks for pending work.
func New(pool DBPool, logger *zap.Logger, pollInterval time.Duration) *Queue {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Queue{pool: pool, log: logger.Named("queue"), pollInterval: pollInterval}
}

// Enqueue appends a work item for asynchronous execution.
func (q *Queue) Enqueue(ctx context.Context, item schemas.WorkItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}
	if _, err := q.pool.Exec(ctx, `INSERT INTO work_items (payload) VALUES ($1)`, payload); err != nil {
		return fmt.Errorf("failed to enqueue work item: %w", err)
	}
	q.log.Info("Work item enqueued", zap.String("job_id", item.JobID))
	return nil
}

// A claim older than this belongs to a worker that died without
// acknowledging; the item becomes claimable again.
const claimSQL = `
	UPDATE work_items SET status = 'claimed', claimed_at = now()
	WHERE id = (
		SELECT id FROM work_items
		WHERE status = 'pending'
		   OR (status = 'claimed' AND claimed_at < now() - interval '30 minutes')
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, payload`

// Dequeue blocks until a work item is claimed or ctx ends. The returned
// item's Ack must be called exactly once when processing finishes.
func (q *Queue) Dequeue(ctx context.Context) (*schemas.ClaimedItem, error) {
	for {
		claimed, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *Queue) tryClaim(ctx context.Context) (*schemas.ClaimedItem, error) {
	var id int64
	var payload []byte
	err := q.pool.QueryRow(ctx, claimSQL).Scan(&id, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim work item: %w", err)
	}

	var item schemas.WorkItem
	if err := json.Unmarshal(payload, &item); err != nil {
		// A poisoned payload must not wedge the queue: mark it failed and
		// move on to the next item.
		q.log.Error("Dropping malformed work item", zap.Int64("id", id), zap.Error(err))
		if _, markErr := q.pool.Exec(ctx,
			`UPDATE work_items SET status = 'failed', failure = $2, finished_at = now() WHERE id = $1`,
			id, "malformed payload: "+err.Error()); markErr != nil {
			return nil, markErr
		}
		return nil, nil
	}

	q.log.Info("Work item claimed", zap.Int64("id", id), zap.String("job_id", item.JobID))
	return &schemas.ClaimedItem{
		ID:   id,
		Item: item,
		Ack: func(ackCtx context.Context, failure string) error {
			return q.ack(ackCtx, id, failure)
		},
		Requeue: func(rqCtx context.Context) error {
			return q.requeue(rqCtx, id)
		},
	}, nil
}

// requeue returns a claimed item to pending so another consumer picks it up.
// Used when a worker shuts down mid-job.
func (q *Queue) requeue(ctx context.Context, id int64) error {
	if _, err := q.pool.Exec(ctx,
		`UPDATE work_items SET status = 'pending', claimed_at = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to requeue work item %d: %w", id, err)
	}
	q.log.Info("Work item requeued", zap.Int64("id", id))
	return nil
}

func (q *Queue) ack(ctx context.Context, id int64, failure string) error {
	var err error
	if failure == "" {
		_, err = q.pool.Exec(ctx,
			`UPDATE work_items SET status = 'done', finished_at = now() WHERE id = $1`, id)
	} else {
		_, err = q.pool.Exec(ctx,
			`UPDATE work_items SET status = 'failed', failure = $2, finished_at = now() WHERE id = $1`, id, failure)
	}
	if err != nil {
		return fmt.Errorf("failed to ack work item %d: %w", id, err)
	}
	return nil
}
