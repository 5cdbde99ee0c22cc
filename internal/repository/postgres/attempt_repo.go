package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/notifyd/notifyd/internal/domain/delivery"
)

var _ delivery.Recorder = (*AttemptRepoImpl)(nil)

// AttemptRepoImpl owns delivery_attempts rows. Insert-only; there is
// deliberately no update path.
type AttemptRepoImpl struct{ db *DB }

func NewAttemptRepo(db *DB) *AttemptRepoImpl { return &AttemptRepoImpl{db: db} }

const qAttemptInsert = `
INSERT INTO delivery_attempts
  (job_id, notification_id, webhook_id, user_id, attempt, outcome, response_code,
   error_text, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id;
`

func (r *AttemptRepoImpl) Record(ctx context.Context, a *delivery.Attempt) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qAttemptInsert,
		a.JobID,
		nullInt64(a.NotificationID),
		nullInt64(a.WebhookID),
		nullInt64(a.UserID),
		a.Attempt,
		string(a.Outcome),
		nullInt(a.ResponseCode),
		nullStr(a.Error),
		a.StartedAt,
		a.CompletedAt,
	).Scan(&a.ID); err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepoImpl) Query(ctx context.Context, f delivery.Filter) ([]*delivery.Attempt, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+"$"+strconv.Itoa(len(args)))
	}
	if f.NotificationID != 0 {
		add("notification_id = ", f.NotificationID)
	}
	if f.WebhookID != 0 {
		add("webhook_id = ", f.WebhookID)
	}
	if f.UserID != 0 {
		add("user_id = ", f.UserID)
	}
	if !f.Since.IsZero() {
		add("started_at >= ", f.Since)
	}
	if !f.Until.IsZero() {
		add("started_at < ", f.Until)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	q := `
SELECT id, job_id, notification_id, webhook_id, user_id, attempt, outcome,
       response_code, error_text, started_at, completed_at
FROM delivery_attempts`
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += "\nORDER BY started_at DESC, id DESC\nLIMIT $" + strconv.Itoa(len(args)) + ";"

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []*delivery.Attempt
	for rows.Next() {
		var (
			a                       delivery.Attempt
			notifID, hookID, userID *int64
			code                    *int
			errText                 *string
			outcome                 string
		)
		if err := rows.Scan(
			&a.ID, &a.JobID, &notifID, &hookID, &userID, &a.Attempt, &outcome,
			&code, &errText, &a.StartedAt, &a.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Outcome = delivery.Outcome(outcome)
		if notifID != nil {
			a.NotificationID = *notifID
		}
		if hookID != nil {
			a.WebhookID = *hookID
		}
		if userID != nil {
			a.UserID = *userID
		}
		if code != nil {
			a.ResponseCode = *code
		}
		if errText != nil {
			a.Error = *errText
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
