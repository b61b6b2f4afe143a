package handler

//go:generate mockgen -source=handler.go -destination=mocks/access-mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"assessgate/internal/access/models"
	"assessgate/internal/platform/middleware"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/httputil"
	"assessgate/pkg/requestcontext"
)

// Service defines the report access operations the handler depends on.
type Service interface {
	Request(ctx context.Context, recipient, diagnosisID string) (*models.RequestResult, error)
	Verify(ctx context.Context, recipient, diagnosisID, code string) (*models.VerifyResult, error)
}

// Handler serves the /api/report-access endpoints.
type Handler struct {
	service         Service
	grants          middleware.GrantValidator
	logger          *slog.Logger
	requestThrottle func(http.Handler) http.Handler
	verifyThrottle  func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithRequestThrottle wraps POST /request, typically with a per-IP limit.
func WithRequestThrottle(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		if mw != nil {
			h.requestThrottle = mw
		}
	}
}

// WithVerifyThrottle wraps POST /verify.
func WithVerifyThrottle(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		if mw != nil {
			h.verifyThrottle = mw
		}
	}
}

func New(service Service, grants middleware.GrantValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:         service,
		grants:          grants,
		logger:          logger,
		requestThrottle: passthrough,
		verifyThrottle:  passthrough,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func passthrough(next http.Handler) http.Handler { return next }

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/report-access", func(r chi.Router) {
		r.With(h.requestThrottle).Post("/request", h.HandleRequest)
		r.With(h.verifyThrottle).Post("/verify", h.HandleVerify)
		r.With(middleware.RequireGrant(h.grants, h.logger)).Get("/grant", h.HandleGrant)
	})
}

// HandleRequest issues a code. The response never reveals whether the
// diagnosis exists; it only says whether delivery was attempted successfully.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RequestCodeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Request(ctx, req.Email, req.DiagnosisID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue access code",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &models.RequestCodeResponse{Sent: res.Sent})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.VerifyCodeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Verify(ctx, req.Email, req.DiagnosisID, req.Code)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to verify access code",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status, body := verifyResponse(res)
	httputil.WriteJSON(w, status, body)
}

// HandleGrant echoes the claims of a valid grant so clients can confirm access
// before loading a report.
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := middleware.GetGrant(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "grant missing from context despite middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "grant context error"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &models.GrantResponse{
		Email:       claims.Email,
		DiagnosisID: claims.DiagnosisID,
		ExpiresAt:   claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func verifyResponse(res *models.VerifyResult) (int, *models.VerifyCodeResponse) {
	if res.Granted() && res.Grant != nil {
		return http.StatusOK, &models.VerifyCodeResponse{
			Granted:   true,
			Token:     res.Grant.Token,
			ExpiresAt: res.Grant.ExpiresAt.UTC().Format(time.RFC3339),
		}
	}

	body := &models.VerifyCodeResponse{Granted: false, Reason: string(res.Status)}
	switch res.Status {
	case models.StatusMismatch:
		remaining := res.RemainingAttempts
		body.RemainingAttempts = &remaining
		return http.StatusUnauthorized, body
	case models.StatusExpired:
		return http.StatusGone, body
	case models.StatusAttemptsExceeded:
		return http.StatusTooManyRequests, body
	default:
		body.Reason = string(models.StatusNotFound)
		return http.StatusNotFound, body
	}
}
