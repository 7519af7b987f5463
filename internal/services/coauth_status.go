// internal/services/coauth_status.go
package services

import (
	"time"
)

// CoAuthState classifies how far a session is into its co-auth window.
type CoAuthState string

const (
	// CoAuthInactive: no assertion timestamp on the session.
	CoAuthInactive CoAuthState = "inactive"
	// CoAuthActive: within the TTL.
	CoAuthActive CoAuthState = "active"
	// CoAuthWarning: within the TTL but close to expiry. Informational
	// only; authorization treats it exactly like active.
	CoAuthWarning CoAuthState = "warning"
	// CoAuthGrace: past the TTL but within the grace period. Still
	// authorized, flagged as expired-pending-renewal.
	CoAuthGrace CoAuthState = "grace"
	// CoAuthExpired: past TTL + grace. A brand-new assertion (new nonce
	// round-trip) is required, not a refresh.
	CoAuthExpired CoAuthState = "expired"
)

// CoAuthPolicy holds the lifecycle durations. Injected rather than read
// from globals so tests can pin them alongside a fixed clock.
type CoAuthPolicy struct {
	TTL              time.Duration
	GracePeriod      time.Duration
	WarningThreshold time.Duration
}

// CoAuthStatus is the full state machine output for one evaluation.
type CoAuthStatus struct {
	State            CoAuthState
	RemainingMs      int64
	RemainingMinutes int64
}

// EvaluateCoAuthStatus classifies the elapsed time since assertedAt into
// exactly one state. Pure and total: the state is never stored, always
// recomputed from the timestamp, so stored and derived status cannot
// drift.
//
// Remaining time counts down to the end of the authorized window
// (TTL + grace) and is floored at zero.
func EvaluateCoAuthStatus(assertedAt *time.Time, now time.Time, policy CoAuthPolicy) CoAuthStatus {
	if assertedAt == nil {
		return CoAuthStatus{State: CoAuthInactive}
	}

	elapsed := now.Sub(*assertedAt)
	remaining := policy.TTL + policy.GracePeriod - elapsed
	if remaining < 0 {
		remaining = 0
	}

	status := CoAuthStatus{
		RemainingMs:      remaining.Milliseconds(),
		RemainingMinutes: int64(remaining.Minutes()),
	}

	switch {
	case elapsed > policy.TTL+policy.GracePeriod:
		status.State = CoAuthExpired
	case elapsed > policy.TTL:
		status.State = CoAuthGrace
	case policy.TTL-elapsed <= policy.WarningThreshold:
		status.State = CoAuthWarning
	default:
		status.State = CoAuthActive
	}
	return status
}

// IsValid is the single authorization predicate over states. Warning is
// a sub-state of active and grace is still authorized.
func (s CoAuthState) IsValid() bool {
	return s == CoAuthActive || s == CoAuthWarning || s == CoAuthGrace
}

// RequiresReAuth reports whether recovering authorization needs a new
// nonce round-trip rather than a silent refresh.
func (s CoAuthState) RequiresReAuth() bool {
	return s == CoAuthExpired
}
