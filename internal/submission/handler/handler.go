package handler

//go:generate mockgen -source=handler.go -destination=mocks/submission-mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"assessgate/internal/backend"
	"assessgate/internal/submission/models"
	"assessgate/pkg/platform/httputil"
	"assessgate/pkg/requestcontext"
)

type Service interface {
	Submit(ctx context.Context, payload map[string]any) (*models.Outcome, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/diagnoses", h.HandleSubmit)
}

// HandleSubmit runs the submission detached from the client connection: once
// started it finishes against the backend even if the client goes away.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	outcome, err := h.service.Submit(context.WithoutCancel(ctx), *req)
	if err != nil {
		h.logger.WarnContext(ctx, "submission rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := &models.SubmitResponse{
		Success:     outcome.Success,
		DiagnosisID: outcome.DiagnosisID,
		Data:        outcome.Data,
	}
	if outcome.Success {
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}

	resp.Error = outcome.Message
	status := http.StatusBadGateway
	if outcome.Category == backend.CategoryConfiguration {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
