package dtos

import "time"

// ----------------------
// Challenge issuance
// ----------------------

type IssueChallengeRequest struct {
	CallbackURL string `json:"callback_url,omitempty" validate:"omitempty,url"`
	TTLSeconds  int    `json:"ttl_seconds,omitempty" validate:"omitempty,min=1"`
}

type IssueChallengeResponse struct {
	NonceID    string `json:"nonce_id"`
	Nonce      string `json:"nonce"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// ----------------------
// Activation (nonce redemption)
// ----------------------

type ActivateRequest struct {
	NonceID   string `json:"nonce_id" validate:"required,uuid4"`
	Nonce     string `json:"nonce" validate:"required"`
	Principal string `json:"principal" validate:"required,max=128"`
}

type ActivateResponse struct {
	Status     string    `json:"status"`
	Principal  string    `json:"principal"`
	AssertedAt time.Time `json:"asserted_at"`
}

// ----------------------
// Status
// ----------------------

type CoAuthStatusResponse struct {
	Status            string     `json:"status"`
	IsValid           bool       `json:"is_valid"`
	Message           string     `json:"message"`
	Principal         *string    `json:"principal,omitempty"`
	AssertedAt        *time.Time `json:"asserted_at,omitempty"`
	RemainingMs       int64      `json:"remaining_ms"`
	RemainingMinutes  int64      `json:"remaining_minutes"`
	RequiresReAuth    bool       `json:"requires_re_auth"`
	HasLinkedIdentity bool       `json:"has_linked_identity"`
	LinkedPrincipal   *string    `json:"linked_principal,omitempty"`
}

type DeactivateResponse struct {
	Message string `json:"message"`
}

type UnlinkResponse struct {
	Message string `json:"message"`
}

// ----------------------
// Health
// ----------------------

type HealthCheckResponse struct {
	Status string `json:"status"`
}
