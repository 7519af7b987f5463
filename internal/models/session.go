// internal/models/session.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the minimal session row this service reads and stamps.
// The primary provider (OAuth/password) owns session issuance; we only
// carry the co-authentication fields on top of it.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	ActiveIcPrincipal *string    `json:"active_ic_principal,omitempty"`
	CoAuthAssertedAt  *time.Time `json:"coauth_asserted_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
}

// LinkedIdentity records that a user has ever linked an Internet
// Identity principal, independent of whether a session currently has an
// active co-auth assertion for it.
type LinkedIdentity struct {
	UserID      uuid.UUID `json:"user_id"`
	IcPrincipal string    `json:"ic_principal"`
	LinkedAt    time.Time `json:"linked_at"`
}
