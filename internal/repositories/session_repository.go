// internal/repositories/session_repository.go
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/futura-app/coauth-service/internal/models"
)

// SessionRepository reads and stamps the co-authentication fields on
// session rows. Session issuance itself belongs to the primary provider.
type SessionRepository interface {
	// GetByID fetches an unexpired session. Returns nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)

	// SetCoAuthAssertion stamps the session with the verified principal
	// and assertion timestamp. Each activation overwrites the previous
	// one; no history is kept.
	SetCoAuthAssertion(ctx context.Context, id uuid.UUID, principal string, assertedAt time.Time) error

	// ClearCoAuthAssertion removes the active principal and assertion
	// timestamp from the session.
	ClearCoAuthAssertion(ctx context.Context, id uuid.UUID) error
}

type sessionRepository struct {
	db DB
}

func NewSessionRepository(db DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	q := `
        SELECT id, user_id, active_ic_principal, coauth_asserted_at, created_at, expires_at
        FROM user_sessions
        WHERE id = $1 AND expires_at > NOW()
    `
	row := r.db.QueryRow(ctx, q, id)

	var s models.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ActiveIcPrincipal,
		&s.CoAuthAssertedAt,
		&s.CreatedAt,
		&s.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) SetCoAuthAssertion(ctx context.Context, id uuid.UUID, principal string, assertedAt time.Time) error {
	q := `
        UPDATE user_sessions
        SET active_ic_principal = $2,
            coauth_asserted_at = $3
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, q, id, principal, assertedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *sessionRepository) ClearCoAuthAssertion(ctx context.Context, id uuid.UUID) error {
	q := `
        UPDATE user_sessions
        SET active_ic_principal = NULL,
            coauth_asserted_at = NULL
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, q, id)
	return err
}
