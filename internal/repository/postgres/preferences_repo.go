package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/notifyd/notifyd/internal/domain/preferences"
)

var _ preferences.Repo = (*PreferencesRepoImpl)(nil)

type PreferencesRepoImpl struct{ db *DB }

func NewPreferencesRepo(db *DB) *PreferencesRepoImpl { return &PreferencesRepoImpl{db: db} }

const (
	qPrefsGet = `
SELECT id, user_id, email_enabled, sms_enabled, push_enabled,
       order_confirmation, order_shipped, order_delivered, promotional,
       created_at, updated_at
FROM notification_preferences
WHERE user_id = $1;
`

	qPrefsUpsert = `
INSERT INTO notification_preferences
  (user_id, email_enabled, sms_enabled, push_enabled,
   order_confirmation, order_shipped, order_delivered, promotional)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id) DO UPDATE
SET email_enabled = EXCLUDED.email_enabled,
    sms_enabled = EXCLUDED.sms_enabled,
    push_enabled = EXCLUDED.push_enabled,
    order_confirmation = EXCLUDED.order_confirmation,
    order_shipped = EXCLUDED.order_shipped,
    order_delivered = EXCLUDED.order_delivered,
    promotional = EXCLUDED.promotional,
    updated_at = now()
RETURNING id, created_at, updated_at;
`
)

func (r *PreferencesRepoImpl) Get(ctx context.Context, userID int64) (*preferences.Preferences, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var p preferences.Preferences
	err := r.db.Pool.QueryRow(ctx, qPrefsGet, userID).Scan(
		&p.ID, &p.UserID, &p.EmailEnabled, &p.SMSEnabled, &p.PushEnabled,
		&p.OrderConfirmation, &p.OrderShipped, &p.OrderDelivered, &p.Promotional,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Missing row is not an error: callers apply defaults.
			return nil, nil
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &p, nil
}

func (r *PreferencesRepoImpl) Upsert(ctx context.Context, p *preferences.Preferences) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.Pool.QueryRow(ctx, qPrefsUpsert,
		p.UserID, p.EmailEnabled, p.SMSEnabled, p.PushEnabled,
		p.OrderConfirmation, p.OrderShipped, p.OrderDelivered, p.Promotional,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
