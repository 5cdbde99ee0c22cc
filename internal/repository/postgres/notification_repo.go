package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/notifyd/notifyd/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const (
	qNotifCols = `id, user_id, channel, recipient, subject, content, priority, status,
attempts, created_at, sent_at, last_error`

	qNotifInsert = `
INSERT INTO notifications (user_id, channel, recipient, subject, content, priority, status)
VALUES ($1, $2, $3, $4, $5, $6, 'pending')
RETURNING id, created_at;
`

	qNotifByID = `SELECT ` + qNotifCols + ` FROM notifications WHERE id = $1;`

	qNotifByUser = `
SELECT ` + qNotifCols + `
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;
`

	// Content is immutable after insert; only lifecycle fields move,
	// and only forward.
	qNotifUpdateStatus = `
UPDATE notifications
SET status = $2, attempts = $3, last_error = $4, sent_at = COALESCE($5, sent_at)
WHERE id = $1
  AND (
    (status = 'pending' AND $2 = 'queued')
    OR (status = 'queued' AND $2 IN ('sent', 'failed', 'dead'))
    OR (status = 'failed' AND $2 IN ('queued', 'dead'))
  );
`
)

func scanNotification(row pgx.Row, n *notification.Notification) error {
	var (
		channel, priority, status string
		sentAt                    *time.Time
		lastErr                   *string
	)
	if err := row.Scan(
		&n.ID, &n.UserID, &channel, &n.Recipient, &n.Subject, &n.Content,
		&priority, &status, &n.Attempts, &n.CreatedAt, &sentAt, &lastErr,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan notification: %w", err)
	}
	n.Channel = notification.Channel(channel)
	n.Priority = notification.Priority(priority)
	n.Status = notification.Status(status)
	if sentAt != nil {
		n.SentAt = *sentAt
	}
	if lastErr != nil {
		n.LastError = *lastErr
	}
	return nil
}

func (r *NotificationRepoImpl) Create(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qNotifInsert,
		n.UserID, string(n.Channel), n.Recipient, n.Subject, n.Content, string(n.Priority),
	).Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.Status = notification.StatusPending
	return nil
}

func (r *NotificationRepoImpl) GetByID(ctx context.Context, id int64) (*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n notification.Notification
	if err := scanNotification(r.db.Pool.QueryRow(ctx, qNotifByID, id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepoImpl) ListByUser(ctx context.Context, userID int64, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qNotifByUser, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.Notification, 0, limit)
	for rows.Next() {
		var n notification.Notification
		if err := scanNotification(rows, &n); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *NotificationRepoImpl) UpdateStatus(ctx context.Context, id int64, to notification.Status, attempts int, lastErr string, sentAt time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	cmd, err := eq.Exec(ctx, qNotifUpdateStatus,
		id, string(to), attempts, nullStr(lastErr), nullTime(sentAt))
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrBadTransition
	}
	return nil
}
