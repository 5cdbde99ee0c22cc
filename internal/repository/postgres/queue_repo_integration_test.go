//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain/queue"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is empty")
	}
	db, err := NewDB(context.Background(), Config{
		DSN:          dsn,
		MaxConns:     120,
		MinConns:     2,
		QueryTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestClaimBatch_NoJobClaimedTwice(t *testing.T) {
	db := testDB(t)
	repo := NewQueueRepo(db)
	ctx := context.Background()

	const jobs = 500
	ids := make(map[string]bool, jobs)
	for i := 0; i < jobs; i++ {
		j := &queue.Job{
			ID:             uuid.NewString(),
			Kind:           queue.KindNotification,
			NotificationID: int64(i + 1),
			Priority:       i % 4,
		}
		require.NoError(t, repo.Enqueue(ctx, j))
		ids[j.ID] = true
	}

	const workers = 100
	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := repo.ClaimBatch(ctx, 10, time.Minute)
				if err != nil {
					errCh <- err
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, j := range batch {
					if ids[j.ID] {
						claimed[j.ID]++
					}
				}
				mu.Unlock()
				for _, j := range batch {
					if !ids[j.ID] {
						continue
					}
					if err := repo.Ack(ctx, j.ID, j.LeaseToken); err != nil {
						errCh <- err
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Len(t, claimed, jobs)
	for id, n := range claimed {
		require.Equal(t, 1, n, fmt.Sprintf("job %s claimed %d times", id, n))
	}
}

func TestClaimBatch_ExpiredLeaseIsReclaimable(t *testing.T) {
	db := testDB(t)
	repo := NewQueueRepo(db)
	ctx := context.Background()

	j := &queue.Job{ID: uuid.NewString(), Kind: queue.KindWebhook, WebhookID: 1}
	require.NoError(t, repo.Enqueue(ctx, j))

	first, err := repo.ClaimBatch(ctx, 100, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	time.Sleep(300 * time.Millisecond)

	second, err := repo.ClaimBatch(ctx, 100, time.Minute)
	require.NoError(t, err)

	var reclaimed *queue.Job
	for _, c := range second {
		if c.ID == j.ID {
			reclaimed = c
		}
	}
	require.NotNil(t, reclaimed, "expired lease must return the job to the pool")

	var stale *queue.Job
	for _, c := range first {
		if c.ID == j.ID {
			stale = c
		}
	}
	require.NotNil(t, stale)

	// the old lease token no longer acks
	require.ErrorIs(t, repo.Ack(ctx, j.ID, stale.LeaseToken), ErrLeaseMismatch)
	require.NoError(t, repo.Ack(ctx, j.ID, reclaimed.LeaseToken))
}
