// Package httptransport assembles the public HTTP surface: the shared
// middleware chain, operational endpoints and every module's routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"assessgate/internal/platform/middleware"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/audit"
	"assessgate/pkg/platform/httputil"
	"assessgate/pkg/platform/middleware/admin"
	"assessgate/pkg/platform/middleware/metadata"
	"assessgate/pkg/platform/middleware/requesttime"
)

// Module is implemented by every domain handler.
type Module interface {
	Register(r chi.Router)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type RouterConfig struct {
	Logger  *slog.Logger
	Modules []Module
	// Health is optional; nil means there is nothing to check.
	Health HealthChecker
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// AuditLog exposes recent audit events at /internal/audit when set.
	AuditLog audit.Store
	// AdminToken, when set, is required in X-Admin-Token for /internal routes.
	AdminToken string
	// ClientIP decides which forwarding headers to believe. Nil trusts none.
	ClientIP *metadata.ClientIPResolver
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata(cfg.ClientIP))
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	})

	r.Get("/healthz", healthz(cfg.Health))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	if cfg.AuditLog != nil {
		r.Route("/internal", func(r chi.Router) {
			if cfg.AdminToken != "" {
				r.Use(admin.RequireAdminToken(cfg.AdminToken, cfg.Logger))
			}
			r.Get("/audit", recentAudit(cfg.AuditLog, cfg.Logger))
		})
	}

	for _, m := range cfg.Modules {
		m.Register(r)
	}
	return r
}

func healthz(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.Health(ctx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"error":  err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type auditEventResponse struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Category  string `json:"category"`
	Subject   string `json:"subject,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Severity  string `json:"severity,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func recentAudit(store audit.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 500 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be between 1 and 500"))
				return
			}
			limit = n
		}

		events, err := store.ListRecent(ctx, limit)
		if err != nil {
			logger.ErrorContext(ctx, "failed to list audit events", "error", err)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
			return
		}

		out := make([]auditEventResponse, 0, len(events))
		for _, e := range events {
			out = append(out, auditEventResponse{
				ID:        e.ID,
				Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
				Action:    string(e.Action),
				Category:  string(e.Category()),
				Subject:   e.Subject,
				Resource:  e.Resource,
				Reason:    e.Reason,
				Severity:  string(e.Severity),
				RequestID: e.RequestID,
			})
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
	}
}
