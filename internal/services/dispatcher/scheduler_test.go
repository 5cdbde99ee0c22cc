package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_DelayCappedAtMax(t *testing.T) {
	q := &fakeQueue{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(RetryConfig{MaxAttempts: 20, BaseDelay: time.Minute, MaxDelay: 10 * time.Minute}, q, zap.NewNop())
	s.now = func() time.Time { return now }

	// attempt 8 would be 128m uncapped
	dead, err := s.HandleFailure(context.Background(), notifJob(7), 0, 8, delivery.Transient(0, errors.New("x")))
	require.NoError(t, err)
	require.False(t, dead)
	require.Equal(t, now.Add(10*time.Minute), q.notBefore)
	require.Equal(t, 8, q.attempt)
}

func TestScheduler_OverrideBeatsGlobalCeiling(t *testing.T) {
	q := &fakeQueue{}
	s := NewScheduler(RetryConfig{MaxAttempts: 2, BaseDelay: time.Second}, q, zap.NewNop())

	// override of 5 keeps attempt 3 alive even though the global max is 2
	dead, err := s.HandleFailure(context.Background(), notifJob(2), 5, 3, delivery.Transient(0, errors.New("x")))
	require.NoError(t, err)
	require.False(t, dead)
	require.Len(t, q.rescheduled, 1)
}

func TestScheduler_PermanentIgnoresRemainingBudget(t *testing.T) {
	q := &fakeQueue{}
	s := NewScheduler(RetryConfig{MaxAttempts: 10, BaseDelay: time.Second}, q, zap.NewNop())

	dead, err := s.HandleFailure(context.Background(), notifJob(0), 0, 1, delivery.Permanent("gone", nil))
	require.NoError(t, err)
	require.True(t, dead)
	require.Empty(t, q.rescheduled)
	require.Len(t, q.dead, 1)
}
