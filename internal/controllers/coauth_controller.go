// internal/controllers/coauth_controller.go
package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/futura-app/coauth-service/internal/config"
	"github.com/futura-app/coauth-service/internal/dtos"
	"github.com/futura-app/coauth-service/internal/middleware"
	"github.com/futura-app/coauth-service/internal/models"
	"github.com/futura-app/coauth-service/internal/services"
	"github.com/futura-app/coauth-service/internal/utils"
)

type CoAuthController struct {
	nonceService  services.NonceService
	coAuthService services.CoAuthService
	cfg           *config.Config
}

func NewCoAuthController(
	nonceService services.NonceService,
	coAuthService services.CoAuthService,
	cfg *config.Config,
) *CoAuthController {
	return &CoAuthController{
		nonceService:  nonceService,
		coAuthService: coAuthService,
		cfg:           cfg,
	}
}

var coAuthValidate = validator.New()

// requireSessionID pulls the authenticated session id set by the
// session middleware; responds 401 and returns nil if absent.
func requireSessionID(w http.ResponseWriter, r *http.Request) *uuid.UUID {
	sessionID := middleware.SessionIDFromContext(r)
	if sessionID == nil {
		utils.RespondErrorWithCode(
			w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session required", nil,
		)
	}
	return sessionID
}

// ---------------------------------------------------------------------
// IssueChallenge
// ---------------------------------------------------------------------
func (c *CoAuthController) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	sessionID := requireSessionID(w, r)
	if sessionID == nil {
		return
	}

	// Empty body is fine: all fields are optional.
	var req dtos.IssueChallengeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondErrorWithCode(
				w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
			)
			return
		}
	}
	if err := coAuthValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid challenge request", nil, err,
		)
		return
	}

	utils.Logger.Debug("Issuing co-auth challenge")

	nonceCtx := models.NonceContext{
		CallbackURL: req.CallbackURL,
		UserAgent:   r.UserAgent(),
		IPAddress:   utils.ClientIP(r),
		SessionID:   sessionID.String(),
	}

	created, err := c.nonceService.CreateNonce(r.Context(), nonceCtx, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, utils.ErrRateLimitExceeded) {
			utils.RespondErrorWithCode(
				w, http.StatusTooManyRequests, utils.ErrCodeRateLimitExceeded, "Too many requests. Please try again later.", nil,
			)
			return
		}
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to issue challenge", nil, err,
		)
		return
	}

	resp := dtos.IssueChallengeResponse{
		NonceID:    created.ID.String(),
		Nonce:      created.RawNonce,
		TTLSeconds: int(created.TTL.Seconds()),
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------
// Activate (nonce redemption)
// ---------------------------------------------------------------------
func (c *CoAuthController) Activate(w http.ResponseWriter, r *http.Request) {
	sessionID := requireSessionID(w, r)
	if sessionID == nil {
		return
	}

	var req dtos.ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
		)
		return
	}
	if err := coAuthValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid activation request", nil, err,
		)
		return
	}

	nonceID, err := uuid.Parse(req.NonceID)
	if err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid nonce id", nil, err,
		)
		return
	}

	result, err := c.coAuthService.Activate(r.Context(), *sessionID, nonceID, req.Nonce, req.Principal)
	if err != nil {
		if errors.Is(err, utils.ErrSessionNotFound) {
			utils.RespondErrorWithCode(
				w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session not found", nil,
			)
			return
		}
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to activate co-authentication", nil, err,
		)
		return
	}
	if !result.OK {
		// Same external message for every internal reason so an attacker
		// cannot probe which failure mode a guessed nonce id hit. The
		// classified reason is already in the logs.
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidCoAuthCode, "Invalid or expired code", nil,
		)
		return
	}

	verify, err := c.coAuthService.Verify(r.Context(), *sessionID)
	if err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to load co-auth status", nil, err,
		)
		return
	}

	resp := dtos.ActivateResponse{
		Status:    string(verify.Status),
		Principal: req.Principal,
	}
	if verify.AssertedAt != nil {
		resp.AssertedAt = *verify.AssertedAt
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------
func (c *CoAuthController) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := requireSessionID(w, r)
	if sessionID == nil {
		return
	}

	verify, err := c.coAuthService.Verify(r.Context(), *sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrSessionNotFound) {
			utils.RespondErrorWithCode(
				w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session not found", nil,
			)
			return
		}
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to load co-auth status", nil, err,
		)
		return
	}

	linked, err := c.coAuthService.LinkedStatus(r.Context(), *sessionID)
	if err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to load linked identity", nil, err,
		)
		return
	}

	resp := dtos.CoAuthStatusResponse{
		Status:            string(verify.Status),
		IsValid:           verify.IsValid,
		Message:           verify.Message,
		Principal:         verify.Principal,
		AssertedAt:        verify.AssertedAt,
		RemainingMs:       verify.RemainingMs,
		RemainingMinutes:  verify.RemainingMinutes,
		RequiresReAuth:    verify.RequiresReAuth,
		HasLinkedIdentity: linked.HasLinkedIdentity,
		LinkedPrincipal:   linked.LinkedPrincipal,
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------
// Deactivate
// ---------------------------------------------------------------------
func (c *CoAuthController) Deactivate(w http.ResponseWriter, r *http.Request) {
	sessionID := requireSessionID(w, r)
	if sessionID == nil {
		return
	}

	if err := c.coAuthService.Deactivate(r.Context(), *sessionID); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to deactivate co-authentication", nil, err,
		)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.DeactivateResponse{Message: "Co-authentication deactivated"})
}

// ---------------------------------------------------------------------
// Unlink — sensitive; routed behind CoAuthGuardMiddleware.
// ---------------------------------------------------------------------
func (c *CoAuthController) Unlink(w http.ResponseWriter, r *http.Request) {
	sessionID := requireSessionID(w, r)
	if sessionID == nil {
		return
	}

	if err := c.coAuthService.Unlink(r.Context(), *sessionID); err != nil {
		if errors.Is(err, utils.ErrSessionNotFound) {
			utils.RespondErrorWithCode(
				w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session not found", nil,
			)
			return
		}
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to unlink identity", nil, err,
		)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.UnlinkResponse{Message: "Internet Identity unlinked"})
}
