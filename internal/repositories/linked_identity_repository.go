// internal/repositories/linked_identity_repository.go
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/futura-app/coauth-service/internal/models"
)

// LinkedIdentityRepository tracks which Internet Identity principal a
// user has linked, independent of any session's current activation.
// This is what lets callers distinguish "never linked" from "linked but
// session expired".
type LinkedIdentityRepository interface {
	// GetByUserID returns nil if the user has never linked a principal.
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.LinkedIdentity, error)

	// Upsert links the principal to the user, replacing any previous link.
	Upsert(ctx context.Context, userID uuid.UUID, principal string, linkedAt time.Time) error

	// Delete removes the user's link.
	Delete(ctx context.Context, userID uuid.UUID) error
}

type linkedIdentityRepository struct {
	db DB
}

func NewLinkedIdentityRepository(db DB) LinkedIdentityRepository {
	return &linkedIdentityRepository{db: db}
}

func (r *linkedIdentityRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.LinkedIdentity, error) {
	q := `
        SELECT user_id, ic_principal, linked_at
        FROM user_linked_identities
        WHERE user_id = $1
    `
	row := r.db.QueryRow(ctx, q, userID)

	var li models.LinkedIdentity
	err := row.Scan(&li.UserID, &li.IcPrincipal, &li.LinkedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &li, nil
}

func (r *linkedIdentityRepository) Upsert(ctx context.Context, userID uuid.UUID, principal string, linkedAt time.Time) error {
	q := `
        INSERT INTO user_linked_identities (user_id, ic_principal, linked_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id) DO UPDATE
        SET ic_principal = EXCLUDED.ic_principal,
            linked_at = EXCLUDED.linked_at
    `
	_, err := r.db.Exec(ctx, q, userID, principal, linkedAt)
	return err
}

func (r *linkedIdentityRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	q := `DELETE FROM user_linked_identities WHERE user_id = $1`
	_, err := r.db.Exec(ctx, q, userID)
	return err
}
