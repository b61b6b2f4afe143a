package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"assessgate/internal/identifier"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/httputil"
	"assessgate/pkg/requestcontext"
)

type Service interface {
	Normalize(raw string, target identifier.PrefixKind) identifier.DiagnosisID
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/identifiers/normalize", h.HandleNormalize)
}

type normalizeResponse struct {
	DiagnosisID string `json:"diagnosisId"`
	Canonical   bool   `json:"alreadyCanonical"`
}

// HandleNormalize maps ?id= onto the canonical scheme selected by ?prefix=
// (primary when absent).
func (h *Handler) HandleNormalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := strings.TrimSpace(r.URL.Query().Get("id"))

	kind, err := identifier.ParsePrefixKind(r.URL.Query().Get("prefix"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "prefix must be primary or legacy"))
		return
	}
	if len(raw) > identifier.MaxLength {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "id is too long"))
		return
	}
	if !identifier.Valid(raw) {
		h.logger.InfoContext(ctx, "rejected identifier",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "id must be a non-empty URL-safe string"))
		return
	}

	normalized := h.service.Normalize(raw, kind)
	httputil.WriteJSON(w, http.StatusOK, &normalizeResponse{
		DiagnosisID: string(normalized),
		Canonical:   string(normalized) == raw,
	})
}
