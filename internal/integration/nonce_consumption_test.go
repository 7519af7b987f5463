//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/futura-app/coauth-service/internal/models"
	"github.com/futura-app/coauth-service/internal/repositories"
)

func insertNonce(t *testing.T, ctx context.Context, repo repositories.NonceRepository, hash string, ttl time.Duration, ip string) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	rec := &models.NonceRecord{
		ID:        uuid.New(),
		NonceHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Context:   models.NonceContext{IPAddress: ip, TTLSeconds: int(ttl.Seconds())},
	}
	require.NoError(t, repo.Create(ctx, rec))
	t.Cleanup(func() {
		_, _ = db.Exec(context.Background(), `DELETE FROM nonce_records WHERE id = $1`, rec.ID)
	})
	return rec.ID
}

// TestConcurrentConsumeExactlyOne drives N concurrent consumption
// attempts against the same nonce through a real database and asserts
// the single-statement conditional update admits exactly one winner.
func TestConcurrentConsumeExactlyOne(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewNonceRepository(db)

	id := insertNonce(t, ctx, repo, "concurrency-test-hash", 3*time.Minute, "")

	const attempts = 25
	results := make([]bool, attempts)

	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(slot int) {
			defer wg.Done()
			ok, err := repo.ConsumeIfValid(ctx, id, "concurrency-test-hash")
			require.NoError(t, err)
			results[slot] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	require.Equal(t, 1, winners)

	rec, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.UsedAt)
}

func TestConsumeRespectsExpiry(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewNonceRepository(db)

	// Already expired at insert time.
	expired := insertNonce(t, ctx, repo, "expired-hash", -1*time.Second, "")
	ok, err := repo.ConsumeIfValid(ctx, expired, "expired-hash")
	require.NoError(t, err)
	require.False(t, ok)

	// Fresh record consumes fine, and never twice.
	fresh := insertNonce(t, ctx, repo, "fresh-hash", 3*time.Minute, "")
	ok, err = repo.ConsumeIfValid(ctx, fresh, "fresh-hash")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ConsumeIfValid(ctx, fresh, "fresh-hash")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConsumeRejectsWrongHash(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewNonceRepository(db)

	id := insertNonce(t, ctx, repo, "right-hash", 3*time.Minute, "")

	ok, err := repo.ConsumeIfValid(ctx, id, "wrong-hash")
	require.NoError(t, err)
	require.False(t, ok)

	// The miss must not have burned the record.
	ok, err = repo.ConsumeIfValid(ctx, id, "right-hash")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCountCreatedByIPSince(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewNonceRepository(db)

	ip := "198.51.100.200"
	for i := 0; i < 3; i++ {
		insertNonce(t, ctx, repo, "count-hash", 3*time.Minute, ip)
	}

	count, err := repo.CountCreatedByIPSince(ctx, ip, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// Outside the window nothing counts.
	count, err = repo.CountCreatedByIPSince(ctx, ip, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCleanupExpiredIsRedundantSafe(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewNonceRepository(db)

	expired := insertNonce(t, ctx, repo, "cleanup-hash", -1*time.Second, "")
	live := insertNonce(t, ctx, repo, "cleanup-live-hash", 3*time.Minute, "")

	require.NoError(t, repo.CleanupExpired(ctx))
	require.NoError(t, repo.CleanupExpired(ctx))

	gone, err := repo.GetByID(ctx, expired)
	require.NoError(t, err)
	require.Nil(t, gone)

	kept, err := repo.GetByID(ctx, live)
	require.NoError(t, err)
	require.NotNil(t, kept)
}
