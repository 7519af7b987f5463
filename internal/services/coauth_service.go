// internal/services/coauth_service.go
package services

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/futura-app/coauth-service/internal/config"
	"github.com/futura-app/coauth-service/internal/repositories"
	"github.com/futura-app/coauth-service/internal/utils"
)

// VerifyResult is the guard's view of a session's co-auth standing.
type VerifyResult struct {
	IsValid          bool
	Status           CoAuthState
	Message          string
	Principal        *string
	AssertedAt       *time.Time
	RemainingMs      int64
	RemainingMinutes int64
	RequiresReAuth   bool
}

// LinkedStatus distinguishes "has ever linked a principal" from "is
// currently activated", so callers can tell apart never-linked,
// linked-but-expired, and linked-and-active.
type LinkedStatus struct {
	HasLinkedIdentity bool
	LinkedPrincipal   *string
	LinkedAt          *time.Time
}

// CoAuthRequiredDetails is attached to guard denials.
type CoAuthRequiredDetails struct {
	RequiresReAuth bool `json:"requires_re_auth"`
}

// CoAuthService composes the session lookup with the TTL state machine
// to gate sensitive operations, and applies consumed nonces to sessions.
type CoAuthService interface {
	// Activate redeems a nonce for the session and, on success, stamps
	// the session with the principal and assertion timestamp and upserts
	// the user's linked identity. The returned ConsumeResult reports the
	// nonce outcome; any failure is terminal for that nonce.
	Activate(ctx context.Context, sessionID, nonceID uuid.UUID, rawNonce, principal string) (ConsumeResult, error)

	// Verify evaluates the session's co-auth state. Never errors on a
	// missing assertion — that is the inactive state.
	Verify(ctx context.Context, sessionID uuid.UUID) (*VerifyResult, error)

	// Guard is the single enforcement point for sensitive operations.
	// Returns a typed 403 AppError when Verify is not valid; sensitive
	// handlers must call it (directly or via middleware) and must not
	// re-implement their own TTL checks.
	Guard(ctx context.Context, sessionID uuid.UUID) error

	// Deactivate clears the session's active principal and assertion.
	// The user's linked identity is untouched.
	Deactivate(ctx context.Context, sessionID uuid.UUID) error

	// Unlink removes the user's linked identity and clears any active
	// assertion on the session. Sensitive: callers must Guard first.
	Unlink(ctx context.Context, sessionID uuid.UUID) error

	// LinkedStatus reports whether the session's user has ever linked a
	// principal, independent of current activation.
	LinkedStatus(ctx context.Context, sessionID uuid.UUID) (*LinkedStatus, error)
}

type coAuthService struct {
	sessionRepo repositories.SessionRepository
	linkedRepo  repositories.LinkedIdentityRepository
	nonces      NonceService
	cfg         *config.Config
	clock       utils.Clock
}

func NewCoAuthService(
	sessionRepo repositories.SessionRepository,
	linkedRepo repositories.LinkedIdentityRepository,
	nonces NonceService,
	cfg *config.Config,
	clock utils.Clock,
) CoAuthService {
	return &coAuthService{
		sessionRepo: sessionRepo,
		linkedRepo:  linkedRepo,
		nonces:      nonces,
		cfg:         cfg,
		clock:       clock,
	}
}

func (s *coAuthService) policy() CoAuthPolicy {
	return CoAuthPolicy{
		TTL:              s.cfg.CoAuthTTL,
		GracePeriod:      s.cfg.CoAuthGracePeriod,
		WarningThreshold: s.cfg.CoAuthWarningThreshold,
	}
}

func (s *coAuthService) Activate(ctx context.Context, sessionID, nonceID uuid.UUID, rawNonce, principal string) (ConsumeResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return ConsumeResult{}, err
	}
	if session == nil {
		return ConsumeResult{}, utils.ErrSessionNotFound
	}

	result, err := s.nonces.ConsumeIfValid(ctx, nonceID, rawNonce)
	if err != nil || !result.OK {
		return result, err
	}

	now := s.clock.Now()
	if err := s.sessionRepo.SetCoAuthAssertion(ctx, sessionID, principal, now); err != nil {
		return ConsumeResult{}, err
	}
	if err := s.linkedRepo.Upsert(ctx, session.UserID, principal, now); err != nil {
		return ConsumeResult{}, err
	}

	utils.Logger.Infof("Co-auth activated for session %s", sessionID)
	return result, nil
}

func (s *coAuthService) Verify(ctx context.Context, sessionID uuid.UUID) (*VerifyResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, utils.ErrSessionNotFound
	}

	status := EvaluateCoAuthStatus(session.CoAuthAssertedAt, s.clock.Now(), s.policy())

	return &VerifyResult{
		IsValid:          status.State.IsValid(),
		Status:           status.State,
		Message:          statusMessage(status.State),
		Principal:        session.ActiveIcPrincipal,
		AssertedAt:       session.CoAuthAssertedAt,
		RemainingMs:      status.RemainingMs,
		RemainingMinutes: status.RemainingMinutes,
		RequiresReAuth:   status.State.RequiresReAuth(),
	}, nil
}

func (s *coAuthService) Guard(ctx context.Context, sessionID uuid.UUID) error {
	result, err := s.Verify(ctx, sessionID)
	if err != nil {
		return err
	}
	if result.IsValid {
		return nil
	}
	return &utils.AppError{
		StatusCode: http.StatusForbidden,
		Code:       utils.ErrCodeCoAuthRequired,
		Message:    "Internet Identity co-authentication required",
		Details:    CoAuthRequiredDetails{RequiresReAuth: result.RequiresReAuth},
	}
}

func (s *coAuthService) Deactivate(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessionRepo.ClearCoAuthAssertion(ctx, sessionID)
}

func (s *coAuthService) Unlink(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return utils.ErrSessionNotFound
	}

	if err := s.linkedRepo.Delete(ctx, session.UserID); err != nil {
		return err
	}
	if err := s.sessionRepo.ClearCoAuthAssertion(ctx, sessionID); err != nil {
		return err
	}

	utils.Logger.Infof("Linked identity removed for user %s", session.UserID)
	return nil
}

func (s *coAuthService) LinkedStatus(ctx context.Context, sessionID uuid.UUID) (*LinkedStatus, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, utils.ErrSessionNotFound
	}

	linked, err := s.linkedRepo.GetByUserID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if linked == nil {
		return &LinkedStatus{}, nil
	}
	return &LinkedStatus{
		HasLinkedIdentity: true,
		LinkedPrincipal:   &linked.IcPrincipal,
		LinkedAt:          &linked.LinkedAt,
	}, nil
}

func statusMessage(state CoAuthState) string {
	switch state {
	case CoAuthActive:
		return "Co-authentication is active"
	case CoAuthWarning:
		return "Co-authentication expires soon"
	case CoAuthGrace:
		return "Co-authentication expired; renew to keep access"
	case CoAuthExpired:
		return "Co-authentication has expired"
	default:
		return "Co-authentication is not active"
	}
}
