package prefs

import (
	"context"
	"errors"
	"testing"

	"github.com/notifyd/notifyd/internal/domain/notification"
	"github.com/notifyd/notifyd/internal/domain/preferences"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	rows      map[int64]*preferences.Preferences
	err       error
	upsertErr error
	upserts   int
}

func (r *fakeRepo) Get(_ context.Context, userID int64) (*preferences.Preferences, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.rows[userID], nil
}

func (r *fakeRepo) Upsert(_ context.Context, p *preferences.Preferences) error {
	r.upserts++
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.rows[p.UserID] = p
	return nil
}

func TestIsAllowed_MissingRowUsesDefaults(t *testing.T) {
	f := NewFilter(&fakeRepo{rows: map[int64]*preferences.Preferences{}}, zap.NewNop())
	ctx := context.Background()

	// Transactional categories default on.
	require.True(t, f.IsAllowed(ctx, 7, notification.ChannelEmail, preferences.CategoryOrderConfirmation))
	require.True(t, f.IsAllowed(ctx, 7, notification.ChannelSMS, preferences.CategoryOrderShipped))
	require.True(t, f.IsAllowed(ctx, 7, notification.ChannelPush, preferences.CategoryOrderDelivered))
	// Promotional defaults off.
	require.False(t, f.IsAllowed(ctx, 7, notification.ChannelEmail, preferences.CategoryPromotional))
}

func TestIsAllowed_FirstContactPersistsDefaults(t *testing.T) {
	repo := &fakeRepo{rows: map[int64]*preferences.Preferences{}}
	f := NewFilter(repo, zap.NewNop())
	ctx := context.Background()

	require.True(t, f.IsAllowed(ctx, 11, notification.ChannelEmail, preferences.CategoryOrderConfirmation))

	row := repo.rows[11]
	require.NotNil(t, row, "default row created on first use")
	require.True(t, row.EmailEnabled)
	require.False(t, row.Promotional)

	// second lookup hits the stored row, no second insert
	require.True(t, f.IsAllowed(ctx, 11, notification.ChannelEmail, preferences.CategoryOrderConfirmation))
	require.Equal(t, 1, repo.upserts)
}

func TestIsAllowed_PersistFailureStillFilters(t *testing.T) {
	repo := &fakeRepo{rows: map[int64]*preferences.Preferences{}, upsertErr: errors.New("db down")}
	f := NewFilter(repo, zap.NewNop())
	ctx := context.Background()

	require.True(t, f.IsAllowed(ctx, 12, notification.ChannelEmail, preferences.CategoryOrderConfirmation))
	require.False(t, f.IsAllowed(ctx, 12, notification.ChannelEmail, preferences.CategoryPromotional))
}

func TestIsAllowed_RespectsStoredOptOut(t *testing.T) {
	row := preferences.Defaults(9)
	row.EmailEnabled = false
	row.Promotional = true
	f := NewFilter(&fakeRepo{rows: map[int64]*preferences.Preferences{9: row}}, zap.NewNop())
	ctx := context.Background()

	require.False(t, f.IsAllowed(ctx, 9, notification.ChannelEmail, preferences.CategoryOrderConfirmation))
	require.True(t, f.IsAllowed(ctx, 9, notification.ChannelSMS, preferences.CategoryOrderConfirmation))
	require.True(t, f.IsAllowed(ctx, 9, notification.ChannelPush, preferences.CategoryPromotional))
}

func TestIsAllowed_FailsOpenOnStorageError(t *testing.T) {
	f := NewFilter(&fakeRepo{err: errors.New("db down")}, zap.NewNop())
	require.True(t, f.IsAllowed(context.Background(), 1, notification.ChannelEmail, preferences.CategoryOrderShipped))
}

func TestGetOrDefaults(t *testing.T) {
	repo := &fakeRepo{rows: map[int64]*preferences.Preferences{}}
	f := NewFilter(repo, zap.NewNop())

	p, err := f.GetOrDefaults(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, p.OrderConfirmation)
	require.False(t, p.Promotional)

	stored := preferences.Defaults(5)
	stored.SMSEnabled = false
	require.NoError(t, repo.Upsert(context.Background(), stored))

	p, err = f.GetOrDefaults(context.Background(), 5)
	require.NoError(t, err)
	require.False(t, p.SMSEnabled)
}
