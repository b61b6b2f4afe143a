package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/httputil"
	"assessgate/pkg/requestcontext"
)

// GrantClaims is what a validated report-access grant asserts.
type GrantClaims struct {
	Email       string
	DiagnosisID string
	ExpiresAt   time.Time
}

// GrantValidator validates report-access grant tokens.
type GrantValidator interface {
	ValidateGrant(ctx context.Context, token string) (*GrantClaims, error)
}

type contextKeyGrant struct{}

// ContextKeyGrant is exported for handler tests that bypass the middleware.
var ContextKeyGrant = contextKeyGrant{}

// GetGrant retrieves the validated grant from the context.
func GetGrant(ctx context.Context) (*GrantClaims, bool) {
	claims, ok := ctx.Value(ContextKeyGrant).(*GrantClaims)
	return claims, ok && claims != nil
}

// RequireGrant rejects requests without a valid "Authorization: Bearer <grant>".
func RequireGrant(validator GrantValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing grant",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateGrant(ctx, strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid grant",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired grant"))
				return
			}

			ctx = context.WithValue(ctx, ContextKeyGrant, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
