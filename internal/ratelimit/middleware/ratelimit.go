package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"assessgate/internal/ratelimit/models"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/httputil"
	"assessgate/pkg/requestcontext"
)

// Limiter records a request against key and reports whether it fits the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Recorder counts rejected requests per class.
type Recorder interface {
	IncrementRateLimited(class string)
}

type Middleware struct {
	limiter  Limiter
	policies map[models.Class]models.Policy
	logger   *slog.Logger
	metrics  Recorder
}

type Option func(*Middleware)

func WithPolicy(class models.Class, policy models.Policy) Option {
	return func(m *Middleware) {
		m.policies[class] = policy
	}
}

func WithMetrics(metrics Recorder) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter:  limiter,
		policies: make(map[models.Class]models.Policy),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// PerIP limits requests for class by client IP. A class without an enabled
// policy passes through. Limiter errors fail open.
func (m *Middleware) PerIP(class models.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		policy, ok := m.policies[class]
		if !ok || !policy.Enabled() || m.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.limiter.Allow(ctx, models.Key(class, ip), policy.Limit, policy.Window)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"request_id", requestcontext.RequestID(ctx),
					"class", string(class),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"class", string(class),
					"remote_ip", ip,
				)
				if m.metrics != nil {
					m.metrics.IncrementRateLimited(string(class))
				}
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, dErrors.New(dErrors.CodeTooManyRequests, "too many requests, try again later"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
