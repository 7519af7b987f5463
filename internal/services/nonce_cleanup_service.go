// internal/services/nonce_cleanup_service.go
package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgconn"

	"github.com/futura-app/coauth-service/internal/repositories"
	"github.com/futura-app/coauth-service/internal/utils"
)

const cleanupRetryDelay = 3 * time.Second

// NonceCleanupService runs the nightly sweep of expired and long-used
// nonce records. The opportunistic per-issuance sweep covers the common
// case; this job is the backstop.
type NonceCleanupService interface {
	CleanupDaily(ctx context.Context) error
}

type nonceCleanupService struct {
	nonceRepo repositories.NonceRepository
}

func NewNonceCleanupService(nonceRepo repositories.NonceRepository) NonceCleanupService {
	return &nonceCleanupService{nonceRepo: nonceRepo}
}

// runWithRetry executes op(ctx) and, on a transient network error (EOF,
// pgconn safe-to-retry, closed connection), waits a moment then retries
// once.
func (s *nonceCleanupService) runWithRetry(
	ctx context.Context,
	op func(context.Context) error,
) error {
	if err := op(ctx); err != nil {
		if errors.Is(err, io.EOF) || pgconn.SafeToRetry(err) ||
			strings.Contains(err.Error(), "connection was closed") {
			utils.Logger.WithError(err).Warn("nonce cleanup hit transient DB error; retrying once")
			time.Sleep(cleanupRetryDelay)
			return op(ctx)
		}
		return err
	}
	return nil
}

func (s *nonceCleanupService) CleanupDaily(ctx context.Context) error {
	if err := s.runWithRetry(ctx, s.nonceRepo.CleanupExpired); err != nil {
		utils.Logger.WithError(err).Error("Failed to cleanup expired nonce_records")
		return err
	}
	utils.Logger.Info("Daily nonce cleanup completed successfully.")
	return nil
}
