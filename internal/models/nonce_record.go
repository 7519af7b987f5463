// internal/models/nonce_record.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// NonceRecord is one issued co-authentication challenge. Only the keyed
// hash of the nonce is ever stored; the raw value goes to the client and
// is never persisted.
type NonceRecord struct {
	ID        uuid.UUID    `json:"id"`
	NonceHash string       `json:"nonce_hash"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	UsedAt    *time.Time   `json:"used_at,omitempty"`
	Context   NonceContext `json:"context"`
}

// NonceContext is opaque associated data kept for auditing and rate
// limiting. It never feeds an authorization decision.
type NonceContext struct {
	CallbackURL string `json:"callback_url,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

// IsConsumed returns true once the record has been redeemed. A consumed
// record is terminal; it is never un-consumed or reused.
func (n *NonceRecord) IsConsumed() bool {
	return n.UsedAt != nil
}

// IsExpiredAt reports whether the record has passed its expiry at the
// given moment.
func (n *NonceRecord) IsExpiredAt(now time.Time) bool {
	return now.After(n.ExpiresAt)
}
