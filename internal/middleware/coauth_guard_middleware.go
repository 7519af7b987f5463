// internal/middleware/coauth_guard_middleware.go
package middleware

import (
	"errors"
	"net/http"

	"github.com/futura-app/coauth-service/internal/services"
	"github.com/futura-app/coauth-service/internal/utils"
)

// CoAuthGuardMiddleware gates sensitive routes on a valid co-auth
// assertion. It is the single enforcement point: handlers behind it
// must not re-implement their own TTL checks.
//
// Must run after SessionAuthMiddleware.
func CoAuthGuardMiddleware(coAuth services.CoAuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := SessionIDFromContext(r)
			if sessionID == nil {
				utils.RespondErrorWithCode(
					w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session required", nil,
				)
				return
			}

			if err := coAuth.Guard(r.Context(), *sessionID); err != nil {
				if errors.Is(err, utils.ErrSessionNotFound) {
					utils.RespondErrorWithCode(
						w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Session not found", nil,
					)
					return
				}
				utils.HandleAppError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
