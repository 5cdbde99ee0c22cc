package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/notifyd/notifyd/internal/domain/webhook"
)

var _ webhook.Repo = (*WebhookRepoImpl)(nil)

type WebhookRepoImpl struct{ db *DB }

func NewWebhookRepo(db *DB) *WebhookRepoImpl { return &WebhookRepoImpl{db: db} }

const (
	qHookCols = `id, name, url, event_types, secret, active, max_attempts, timeout_seconds,
created_at, updated_at`

	qHookInsert = `
INSERT INTO webhook_configurations
  (name, url, event_types, secret, active, max_attempts, timeout_seconds)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at;
`

	qHookByID = `SELECT ` + qHookCols + ` FROM webhook_configurations WHERE id = $1;`

	qHookActiveByEvent = `
SELECT ` + qHookCols + `
FROM webhook_configurations
WHERE active = TRUE AND $1 = ANY(event_types)
ORDER BY id;
`

	qHookList = `SELECT ` + qHookCols + ` FROM webhook_configurations ORDER BY id LIMIT $1;`

	qHookUpdate = `
UPDATE webhook_configurations
SET name = $2, url = $3, event_types = $4, secret = $5, active = $6,
    max_attempts = $7, timeout_seconds = $8, updated_at = now()
WHERE id = $1;
`
)

func scanWebhook(row pgx.Row, c *webhook.Config) error {
	var (
		events     []string
		timeoutSec int
	)
	if err := row.Scan(
		&c.ID, &c.Name, &c.URL, &events, &c.Secret, &c.Active,
		&c.MaxAttempts, &timeoutSec, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan webhook: %w", err)
	}
	c.EventTypes = make([]webhook.EventType, 0, len(events))
	for _, e := range events {
		c.EventTypes = append(c.EventTypes, webhook.EventType(e))
	}
	c.Timeout = time.Duration(timeoutSec) * time.Second
	return nil
}

func eventStrings(types []webhook.EventType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func (r *WebhookRepoImpl) Create(ctx context.Context, c *webhook.Config) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.Pool.QueryRow(ctx, qHookInsert,
		c.Name, c.URL, eventStrings(c.EventTypes), c.Secret, c.Active,
		c.MaxAttempts, int(c.Timeout/time.Second),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepoImpl) GetByID(ctx context.Context, id int64) (*webhook.Config, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c webhook.Config
	if err := scanWebhook(r.db.Pool.QueryRow(ctx, qHookByID, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *WebhookRepoImpl) ListActiveByEvent(ctx context.Context, ev webhook.EventType) ([]*webhook.Config, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qHookActiveByEvent, string(ev))
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

func (r *WebhookRepoImpl) List(ctx context.Context, limit int) ([]*webhook.Config, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qHookList, limit)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

func collectWebhooks(rows pgx.Rows) ([]*webhook.Config, error) {
	var out []*webhook.Config
	for rows.Next() {
		var c webhook.Config
		if err := scanWebhook(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *WebhookRepoImpl) Update(ctx context.Context, c *webhook.Config) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qHookUpdate,
		c.ID, c.Name, c.URL, eventStrings(c.EventTypes), c.Secret, c.Active,
		c.MaxAttempts, int(c.Timeout/time.Second))
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
