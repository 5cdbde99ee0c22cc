package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/notifyd/notifyd/internal/domain/queue"
)

var _ queue.Repository = (*QueueRepoImpl)(nil)

type QueueRepoImpl struct {
	db *DB
}

func NewQueueRepo(db *DB) *QueueRepoImpl { return &QueueRepoImpl{db: db} }

const (
	qJobCols = `id, kind, notification_id, webhook_id, event_type, category, payload,
priority, status, attempt, not_before, lease_token, lease_until, created_at, updated_at`

	qJobEnqueue = `
INSERT INTO dispatch_queue
  (id, kind, notification_id, webhook_id, event_type, category, payload, priority, status, not_before)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', COALESCE($9, now()))
ON CONFLICT (id) DO NOTHING;
`

	// Due pending jobs plus claimed jobs whose lease ran out. Row
	// locks with SKIP LOCKED keep concurrent workers from claiming
	// the same candidate set.
	qJobClaim = `
WITH cand AS (
   SELECT id
   FROM dispatch_queue
   WHERE (status = 'pending' AND not_before <= now())
      OR (status = 'in_progress' AND lease_until < now())
   ORDER BY not_before, priority DESC, created_at, id
   LIMIT $1
   FOR UPDATE SKIP LOCKED
)
UPDATE dispatch_queue q
SET status = 'in_progress',
    lease_token = gen_random_uuid()::text,
    lease_until = now() + $2::interval,
    updated_at = now()
FROM cand
WHERE q.id = cand.id
RETURNING ` + qJobColsQ + `;
`

	qJobAck = `
UPDATE dispatch_queue
SET status = 'done', lease_token = NULL, lease_until = NULL, updated_at = now()
WHERE id = $1 AND lease_token = $2 AND status = 'in_progress';
`

	qJobReschedule = `
UPDATE dispatch_queue
SET status = 'pending', attempt = $3, not_before = $4,
    lease_token = NULL, lease_until = NULL, updated_at = now()
WHERE id = $1 AND lease_token = $2 AND status = 'in_progress';
`

	qJobMarkDead = `
UPDATE dispatch_queue
SET status = 'dead', lease_token = NULL, lease_until = NULL, updated_at = now()
WHERE id = $1 AND lease_token = $2 AND status = 'in_progress';
`

	qJobCancel = `
UPDATE dispatch_queue
SET status = 'canceled', updated_at = now()
WHERE id = $1 AND status = 'pending';
`

	qJobGet = `SELECT ` + qJobCols + ` FROM dispatch_queue WHERE id = $1;`

	qJobStatus = `SELECT status FROM dispatch_queue WHERE id = $1;`
)

// qJobColsQ prefixes the column list for queries aliasing the table.
const qJobColsQ = `q.id, q.kind, q.notification_id, q.webhook_id, q.event_type, q.category,
q.payload, q.priority, q.status, q.attempt, q.not_before, q.lease_token, q.lease_until,
q.created_at, q.updated_at`

func scanJob(row pgx.Row, j *queue.Job) error {
	var (
		kind, status        string
		notifID, hookID     *int64
		eventType, category *string
		leaseToken          *string
		leaseUntil          *time.Time
	)
	if err := row.Scan(
		&j.ID, &kind, &notifID, &hookID, &eventType, &category, &j.Payload,
		&j.Priority, &status, &j.Attempt, &j.NotBefore, &leaseToken, &leaseUntil,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan job: %w", err)
	}
	j.Kind = queue.Kind(kind)
	j.Status = queue.JobStatus(status)
	if notifID != nil {
		j.NotificationID = *notifID
	}
	if hookID != nil {
		j.WebhookID = *hookID
	}
	if eventType != nil {
		j.EventType = *eventType
	}
	if category != nil {
		j.Category = *category
	}
	if leaseToken != nil {
		j.LeaseToken = *leaseToken
	}
	if leaseUntil != nil {
		j.LeaseUntil = *leaseUntil
	}
	return nil
}

func (r *QueueRepoImpl) Enqueue(ctx context.Context, j *queue.Job) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	_, err := eq.Exec(ctx, qJobEnqueue,
		j.ID,
		string(j.Kind),
		nullInt64(j.NotificationID),
		nullInt64(j.WebhookID),
		nullStr(j.EventType),
		nullStr(j.Category),
		j.Payload,
		j.Priority,
		nullTime(j.NotBefore),
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (r *QueueRepoImpl) ClaimBatch(ctx context.Context, n int, lease time.Duration) ([]*queue.Job, error) {
	if n <= 0 {
		n = 50
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	ttl := fmt.Sprintf("%f seconds", lease.Seconds())
	rows, err := r.db.Pool.Query(ctx, qJobClaim, n, ttl)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []*queue.Job
	for rows.Next() {
		var j queue.Job
		if err := scanJob(rows, &j); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *QueueRepoImpl) Ack(ctx context.Context, id, leaseToken string) error {
	return r.leaseExec(ctx, qJobAck, id, leaseToken)
}

func (r *QueueRepoImpl) Reschedule(ctx context.Context, id, leaseToken string, notBefore time.Time, attempt int) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qJobReschedule, id, leaseToken, attempt, notBefore)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrLeaseMismatch
	}
	return nil
}

func (r *QueueRepoImpl) MarkDead(ctx context.Context, id, leaseToken string) error {
	return r.leaseExec(ctx, qJobMarkDead, id, leaseToken)
}

func (r *QueueRepoImpl) leaseExec(ctx context.Context, sql, id, leaseToken string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	cmd, err := eq.Exec(ctx, sql, id, leaseToken)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrLeaseMismatch
	}
	return nil
}

func (r *QueueRepoImpl) Cancel(ctx context.Context, id string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qJobCancel, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}

	var status string
	if err := r.db.Pool.QueryRow(ctx, qJobStatus, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("cancel job: %w", err)
	}
	// Already claimed or finished; the claim protocol wins.
	return ErrConflict
}

func (r *QueueRepoImpl) GetByID(ctx context.Context, id string) (*queue.Job, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var j queue.Job
	if err := scanJob(r.db.Pool.QueryRow(ctx, qJobGet, id), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func nullInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
