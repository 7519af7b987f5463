// internal/repositories/nonce_repository.go
package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/futura-app/coauth-service/internal/models"
)

// NonceRepository manages the lifecycle of single-use co-auth nonces.
//
// The consumption contract is the load-bearing part: ConsumeIfValid is a
// single conditional UPDATE, so given N concurrent attempts against the
// same id+hash exactly one succeeds and the rest see zero rows affected.
// Read-committed isolation is enough; no explicit locking.
type NonceRepository interface {
	// Create stores a new nonce record (hash only, never the raw value).
	Create(ctx context.Context, rec *models.NonceRecord) error

	// ConsumeIfValid atomically marks the record used iff the id and hash
	// match, it has not been used, and it has not expired. Returns true
	// iff this call performed the consumption.
	ConsumeIfValid(ctx context.Context, id uuid.UUID, nonceHash string) (bool, error)

	// GetByID fetches a record for failure classification after a
	// ConsumeIfValid miss. Diagnostics only — authorization decisions
	// must rely solely on ConsumeIfValid's row count.
	// Returns nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.NonceRecord, error)

	// CountCreatedByIPSince counts records issued to the given origin IP
	// after `since`. Feeds the issuance rate limiter.
	CountCreatedByIPSince(ctx context.Context, ip string, since time.Time) (int, error)

	// CleanupExpired removes expired-and-unused records, and used records
	// older than the retention window. Safe to run redundantly and
	// concurrently with issuance/consumption.
	CleanupExpired(ctx context.Context) error
}

type nonceRepository struct {
	db DB
}

func NewNonceRepository(db DB) NonceRepository {
	return &nonceRepository{db: db}
}

func (r *nonceRepository) Create(ctx context.Context, rec *models.NonceRecord) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return err
	}

	q := `
        INSERT INTO nonce_records (id, nonce_hash, created_at, expires_at, used_at, context)
        VALUES ($1, $2, $3, $4, NULL, $5)
    `
	_, err = r.db.Exec(ctx, q, rec.ID, rec.NonceHash, rec.CreatedAt, rec.ExpiresAt, contextJSON)
	return err
}

func (r *nonceRepository) ConsumeIfValid(ctx context.Context, id uuid.UUID, nonceHash string) (bool, error) {
	q := `
        UPDATE nonce_records
        SET used_at = NOW()
        WHERE id = $1
          AND nonce_hash = $2
          AND used_at IS NULL
          AND expires_at > NOW()
    `
	tag, err := r.db.Exec(ctx, q, id, nonceHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *nonceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.NonceRecord, error) {
	q := `
        SELECT id, nonce_hash, created_at, expires_at, used_at, context
        FROM nonce_records
        WHERE id = $1
    `
	row := r.db.QueryRow(ctx, q, id)

	var rec models.NonceRecord
	var contextJSON []byte
	err := row.Scan(
		&rec.ID,
		&rec.NonceHash,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.UsedAt,
		&contextJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *nonceRepository) CountCreatedByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	q := `
        SELECT COUNT(*)
        FROM nonce_records
        WHERE context->>'ip_address' = $1
          AND created_at > $2
    `
	var count int
	err := r.db.QueryRow(ctx, q, ip, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *nonceRepository) CleanupExpired(ctx context.Context) error {
	q := `
        DELETE FROM nonce_records
        WHERE
          (used_at IS NULL AND expires_at < NOW())
          OR
          (used_at IS NOT NULL AND used_at + INTERVAL '24 hours' < NOW())
    `
	_, err := r.db.Exec(ctx, q)
	return err
}
