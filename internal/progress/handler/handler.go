package handler

//go:generate mockgen -source=handler.go -destination=mocks/progress-mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"assessgate/internal/progress/models"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/httputil"
	"assessgate/pkg/platform/middleware/metadata"
	"assessgate/pkg/requestcontext"
)

// HeaderOwnerKey carries the credential returned when a share is created.
const HeaderOwnerKey = "X-Share-Owner-Key"

type Service interface {
	Create(ctx context.Context, progress models.Progress) (*models.Share, error)
	Read(ctx context.Context, code string, automated bool) (*models.ShareRecord, error)
	Update(ctx context.Context, code, ownerKey string, progress models.Progress) (*models.ShareRecord, error)
}

type Handler struct {
	service    Service
	publicBase string
	logger     *slog.Logger
}

// New builds the share handler. publicBase is the externally visible origin
// used to build share links.
func New(service Service, publicBase string, logger *slog.Logger) *Handler {
	return &Handler{service: service, publicBase: publicBase, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/shares", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{code}", h.HandleRead)
		r.Put("/{code}", h.HandleUpdate)
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.ProgressRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	share, err := h.service.Create(ctx, req.ToProgress())
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create share",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, &models.CreateShareResponse{
		ShareCode: share.Code,
		ShareURL:  h.shareURL(share.Code),
		OwnerKey:  share.OwnerKey,
		ExpiresAt: share.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) HandleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")
	automated := metadata.IsAutomated(r.UserAgent())

	record, err := h.service.Read(ctx, code, automated)
	if err != nil {
		h.logFailure(ctx, "failed to read share", err)
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, models.NewSnapshotResponse(record))
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ownerKey := r.Header.Get(HeaderOwnerKey)
	if ownerKey == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, HeaderOwnerKey+" header is required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.ProgressRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.Update(ctx, chi.URLParam(r, "code"), ownerKey, req.ToProgress())
	if err != nil {
		h.logFailure(ctx, "failed to update share", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.NewSnapshotResponse(record))
}

func (h *Handler) shareURL(code string) string {
	return h.publicBase + "/share/" + url.PathEscape(code)
}

// logFailure keeps expected client errors out of the error log.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	attrs := []any{"request_id", requestcontext.RequestID(ctx), "error", err}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.InfoContext(ctx, msg, attrs...)
}
