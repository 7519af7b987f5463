// internal/services/nonce_service.go
package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/futura-app/coauth-service/internal/config"
	"github.com/futura-app/coauth-service/internal/models"
	"github.com/futura-app/coauth-service/internal/repositories"
	"github.com/futura-app/coauth-service/internal/utils"
)

// rawNonceBytes is the entropy of a challenge (256 bits).
const rawNonceBytes = 32

// opportunisticCleanupPercent: roughly this share of CreateNonce calls
// kicks off an expired-record sweep, so the table stays bounded even
// without the nightly cron.
const opportunisticCleanupPercent = 1

// ConsumeFailureReason classifies why a consumption attempt failed.
// Diagnostics only — the authorization outcome is decided solely by the
// atomic update's row count, and callers must surface the same external
// message for every reason.
type ConsumeFailureReason string

const (
	ConsumeFailureNotFound    ConsumeFailureReason = "not_found"
	ConsumeFailureAlreadyUsed ConsumeFailureReason = "already_used"
	ConsumeFailureExpired     ConsumeFailureReason = "expired"
	ConsumeFailureInvalidHash ConsumeFailureReason = "invalid_hash"
)

// ConsumeResult is the typed outcome of ConsumeIfValid. Any failure is
// terminal for that nonce; the caller must request a new challenge.
type ConsumeResult struct {
	OK     bool
	Reason ConsumeFailureReason
}

// CreatedNonce is what a successful issuance hands back to the client:
// an opaque correlation id, the raw nonce (never persisted), and the
// TTL actually granted after clamping.
type CreatedNonce struct {
	ID       uuid.UUID
	RawNonce string
	TTL      time.Duration
}

// NonceService issues unforgeable, single-use, time-bounded challenges
// and verifies/consumes them exactly once.
type NonceService interface {
	CreateNonce(ctx context.Context, nonceCtx models.NonceContext, requestedTTL time.Duration) (*CreatedNonce, error)
	ConsumeIfValid(ctx context.Context, id uuid.UUID, rawNonce string) (ConsumeResult, error)

	// HashNonce and VerifyHash are exported for the consume path's
	// failure classification and for tests.
	HashNonce(rawNonce string) string
	VerifyHash(rawNonce, storedHash string) bool
}

type nonceService struct {
	repo        repositories.NonceRepository
	rateLimiter RateLimiterService
	cfg         *config.Config
	clock       utils.Clock
}

func NewNonceService(
	repo repositories.NonceRepository,
	rateLimiter RateLimiterService,
	cfg *config.Config,
	clock utils.Clock,
) NonceService {
	return &nonceService{
		repo:        repo,
		rateLimiter: rateLimiter,
		cfg:         cfg,
		clock:       clock,
	}
}

// generateNonce returns a URL-safe encoding of 256 bits from crypto/rand.
func generateNonce() (string, error) {
	raw := make([]byte, rawNonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashNonce computes a keyed hash (HMAC-SHA256) of the raw nonce. A
// keyed rather than plain hash means an attacker who reads the database
// cannot brute-force valid nonces offline.
func (s *nonceService) HashNonce(rawNonce string) string {
	mac := hmac.New(sha256.New, s.cfg.NonceHMACSecret)
	mac.Write([]byte(rawNonce))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHash recomputes the keyed hash and compares in constant time.
// Both sides are fixed-size digests, so there is no length side-channel
// to handle separately.
func (s *nonceService) VerifyHash(rawNonce, storedHash string) bool {
	return hmac.Equal([]byte(s.HashNonce(rawNonce)), []byte(storedHash))
}

// clampTTL bounds the requested TTL to [NonceMinTTL, NonceMaxTTL]; a
// zero request gets the default.
func (s *nonceService) clampTTL(requested time.Duration) time.Duration {
	if requested == 0 {
		return s.cfg.NonceDefaultTTL
	}
	if requested < s.cfg.NonceMinTTL {
		return s.cfg.NonceMinTTL
	}
	if requested > s.cfg.NonceMaxTTL {
		return s.cfg.NonceMaxTTL
	}
	return requested
}

func (s *nonceService) CreateNonce(ctx context.Context, nonceCtx models.NonceContext, requestedTTL time.Duration) (*CreatedNonce, error) {
	if err := s.rateLimiter.CheckNonceIssuance(ctx, nonceCtx.IPAddress); err != nil {
		return nil, err
	}

	rawNonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	ttl := s.clampTTL(requestedTTL)
	now := s.clock.Now()
	nonceCtx.TTLSeconds = int(ttl.Seconds())

	rec := &models.NonceRecord{
		ID:        uuid.New(),
		NonceHash: s.HashNonce(rawNonce),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Context:   nonceCtx,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store nonce record: %w", err)
	}

	// Opportunistic cleanup on a small fraction of issuances. Best
	// effort: a failure must never fail the issuance that triggered it.
	if mrand.Intn(100) < opportunisticCleanupPercent {
		go func() {
			if cleanupErr := s.repo.CleanupExpired(context.Background()); cleanupErr != nil {
				utils.Logger.WithError(cleanupErr).Warn("Opportunistic nonce cleanup failed")
			}
		}()
	}

	return &CreatedNonce{
		ID:       rec.ID,
		RawNonce: rawNonce,
		TTL:      ttl,
	}, nil
}

// ConsumeIfValid validates and marks the nonce used in a single atomic
// conditional update. There is no window between "check validity" and
// "mark used": of N concurrent attempts against the same id+nonce,
// exactly one sees a row affected.
//
// On a miss, a follow-up read classifies the failure for logs and the
// typed result. That read never influences authorization.
func (s *nonceService) ConsumeIfValid(ctx context.Context, id uuid.UUID, rawNonce string) (ConsumeResult, error) {
	nonceHash := s.HashNonce(rawNonce)

	consumed, err := s.repo.ConsumeIfValid(ctx, id, nonceHash)
	if err != nil {
		return ConsumeResult{}, err
	}
	if consumed {
		return ConsumeResult{OK: true}, nil
	}

	reason, err := s.classifyConsumeFailure(ctx, id, rawNonce)
	if err != nil {
		return ConsumeResult{}, err
	}
	utils.Logger.WithField("nonce_id", id).Warnf("Nonce consumption rejected: %s", reason)
	return ConsumeResult{OK: false, Reason: reason}, nil
}

func (s *nonceService) classifyConsumeFailure(ctx context.Context, id uuid.UUID, rawNonce string) (ConsumeFailureReason, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	switch {
	case rec == nil:
		return ConsumeFailureNotFound, nil
	case !s.VerifyHash(rawNonce, rec.NonceHash):
		return ConsumeFailureInvalidHash, nil
	case rec.IsConsumed():
		return ConsumeFailureAlreadyUsed, nil
	default:
		return ConsumeFailureExpired, nil
	}
}
