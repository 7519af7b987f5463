// internal/services/rate_limiter_service.go
package services

import (
	"context"

	"github.com/futura-app/coauth-service/internal/config"
	"github.com/futura-app/coauth-service/internal/repositories"
	"github.com/futura-app/coauth-service/internal/utils"
)

// RateLimiterService bounds nonce issuance per originating address
// within a sliding window. Counting happens against the shared durable
// store, not in-process memory, so the limit holds across any number of
// stateless instances.
type RateLimiterService interface {
	// CheckNonceIssuance returns utils.ErrRateLimitExceeded once the
	// origin has hit the per-window cap.
	CheckNonceIssuance(ctx context.Context, ip string) error
}

type rateLimiterService struct {
	repo  repositories.NonceRepository
	cfg   *config.Config
	clock utils.Clock
}

func NewRateLimiterService(repo repositories.NonceRepository, cfg *config.Config, clock utils.Clock) RateLimiterService {
	return &rateLimiterService{repo: repo, cfg: cfg, clock: clock}
}

func (s *rateLimiterService) CheckNonceIssuance(ctx context.Context, ip string) error {
	// No origin signal: fail open. Availability over blocking legitimate
	// traffic when the address is simply missing.
	if ip == "" {
		utils.Logger.Debug("Nonce issuance without origin IP; rate limit check skipped")
		return nil
	}

	since := s.clock.Now().Add(-s.cfg.RateLimitWindow)
	count, err := s.repo.CountCreatedByIPSince(ctx, ip, since)
	if err != nil {
		return err
	}
	if count >= s.cfg.RateLimitMaxRequests {
		utils.Logger.Warnf("Nonce issuance rate limit exceeded (ip: %s, count: %d)", ip, count)
		return utils.ErrRateLimitExceeded
	}
	return nil
}
