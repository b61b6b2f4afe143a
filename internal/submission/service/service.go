// Package service orchestrates a diagnosis submission: it settles the
// diagnosis identifier, hands the payload to the backend connector and folds
// the connector's trail into a single outcome.
package service

import (
	"context"
	"log/slog"
	"maps"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"assessgate/internal/backend"
	"assessgate/internal/identifier"
	"assessgate/internal/platform/metrics"
	"assessgate/internal/submission/models"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/requestcontext"
)

const tracerName = "assessgate/internal/submission"

type Connector interface {
	Submit(ctx context.Context, payload map[string]any) backend.Result
}

type Service struct {
	connector Connector
	ids       *identifier.Service
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(connector Connector, ids *identifier.Service, opts ...Option) *Service {
	s := &Service{
		connector: connector,
		ids:       ids,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit delivers payload to the backend. Only invalid input is returned as an
// error; delivery failures are reported through Outcome.
//
// A caller-supplied diagnosisId is normalized to the primary prefix; without
// one a fresh identifier is generated. A valid identifier echoed back by the
// backend wins over ours.
func (s *Service) Submit(ctx context.Context, payload map[string]any) (*models.Outcome, error) {
	if _, ok := payload[models.KeyAction]; ok {
		return nil, dErrors.New(dErrors.CodeValidation, "action is a reserved field")
	}
	id, err := s.resolveID(payload[models.KeyDiagnosisID])
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "submission.Submit",
		trace.WithAttributes(attribute.String("diagnosis.id", string(id))))
	defer span.End()

	body := maps.Clone(payload)
	if body == nil {
		body = map[string]any{}
	}
	body[models.KeyDiagnosisID] = string(id)

	res := s.connector.Submit(ctx, body)

	outcome := &models.Outcome{
		Success:     res.Success,
		DiagnosisID: string(id),
		Data:        res.Data,
		Attempts:    res.Attempts,
	}
	if res.Success {
		if returned := strings.TrimSpace(res.DiagnosisID); returned != "" && identifier.Valid(returned) {
			outcome.DiagnosisID = string(s.ids.Normalize(returned, identifier.PrefixPrimary))
		}
		endpoint := ""
		if res.ResolvedEndpoint != nil {
			endpoint = res.ResolvedEndpoint.Label()
		}
		s.metrics.IncrementSubmissions("success")
		s.logger.InfoContext(ctx, "diagnosis submitted",
			"request_id", requestcontext.RequestID(ctx),
			"diagnosis_id", outcome.DiagnosisID,
			"endpoint", endpoint,
		)
		return outcome, nil
	}

	outcome.Message = res.Message()
	if res.Err != nil {
		outcome.Category = res.Err.Category
	}
	s.metrics.IncrementSubmissions(string(outcome.Category))
	span.SetAttributes(attribute.String("submission.failure", string(outcome.Category)))
	return outcome, nil
}

func (s *Service) resolveID(raw any) (identifier.DiagnosisID, error) {
	switch v := raw.(type) {
	case nil:
		return s.ids.Generate(identifier.PrefixPrimary), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return s.ids.Generate(identifier.PrefixPrimary), nil
		}
		if !identifier.Valid(v) {
			return "", dErrors.New(dErrors.CodeValidation, "diagnosisId is invalid")
		}
		return s.ids.Normalize(v, identifier.PrefixPrimary), nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "diagnosisId must be a string")
	}
}
