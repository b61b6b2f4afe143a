// Package backend delivers payloads to the external scoring backend. Endpoints
// are tried strictly in priority order, one at a time, until one answers with a
// truthy success flag. Every attempt is recorded so callers and operators can
// see exactly which endpoints were tried and why each one failed.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"assessgate/internal/platform/metrics"
	"assessgate/pkg/requestcontext"
)

const (
	DefaultAttemptTimeout = 120 * time.Second
	maxResponseBytes      = 10 << 20
	tracerName            = "assessgate/internal/backend"
)

// AttemptState is the per-endpoint state machine:
// not_tried -> trying -> succeeded | failed.
type AttemptState string

const (
	StateNotTried  AttemptState = "not_tried"
	StateTrying    AttemptState = "trying"
	StateSucceeded AttemptState = "succeeded"
	StateFailed    AttemptState = "failed"
)

// Attempt is one entry of the diagnostic trail.
type Attempt struct {
	Endpoint   Endpoint
	State      AttemptState
	Category   Category
	Message    string
	StatusCode int
	Duration   time.Duration
}

// Result is the outcome of Submit. Expected failures are reported here, never
// as a Go error.
type Result struct {
	Success          bool
	Data             json.RawMessage
	DiagnosisID      string
	ResolvedEndpoint *Endpoint
	Attempts         []Attempt
	// Err is the last attempt's failure when Success is false.
	Err *Error
}

// AttemptedEndpoints lists, in order, the endpoints that were actually contacted.
func (r Result) AttemptedEndpoints() []Endpoint {
	var out []Endpoint
	for _, a := range r.Attempts {
		if a.State != StateNotTried {
			out = append(out, a.Endpoint)
		}
	}
	return out
}

// Message is a single human-readable explanation of a failed submission,
// suitable for end users. The per-endpoint trail stays in logs and telemetry.
func (r Result) Message() string {
	if r.Success {
		return ""
	}
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		if a := r.Attempts[i]; a.Category == CategoryRejected && a.Message != "" {
			return "The scoring service rejected the submission: " + a.Message
		}
	}
	if r.Err == nil {
		return "The submission could not be delivered."
	}
	switch r.Err.Category {
	case CategoryUnexpectedShape:
		return "The scoring service is misconfigured and returned a web page instead of data. Please try again later."
	case CategoryUnparseable:
		return "The scoring service returned an unreadable response. Please try again later."
	case CategoryRejected:
		return "The scoring service rejected the submission."
	case CategoryConfiguration:
		return "The scoring service is not configured."
	default:
		return "The scoring service is currently unreachable. Please try again later."
	}
}

// Connector is safe for concurrent use.
type Connector struct {
	endpoints      []Endpoint
	client         *http.Client
	attemptTimeout time.Duration
	totalBudget    time.Duration
	clock          func() time.Time
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Connector)

// WithHTTPClient replaces the HTTP client. Its Timeout should be zero or larger
// than the attempt timeout; the attempt timeout is enforced via context.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) { c.client = client }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithTotalBudget caps one Submit across all endpoints. Endpoints not reached
// before the budget runs out are left not_tried.
func WithTotalBudget(d time.Duration) Option {
	return func(c *Connector) { c.totalBudget = d }
}

func WithClock(clock func() time.Time) Option {
	return func(c *Connector) { c.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Connector) { c.metrics = m }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Connector) { c.tracer = tracer }
}

// New orders and deduplicates endpoints. It fails with a configuration error
// when an endpoint URL is malformed or no usable endpoint remains.
func New(endpoints []Endpoint, opts ...Option) (*Connector, error) {
	c := &Connector{
		endpoints:      orderEndpoints(endpoints),
		client:         &http.Client{},
		attemptTimeout: DefaultAttemptTimeout,
		clock:          time.Now,
		logger:         slog.New(slog.DiscardHandler),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.endpoints) == 0 {
		return nil, newError(CategoryConfiguration, "", "no backend endpoints configured", ErrNoEndpoints)
	}
	for _, e := range c.endpoints {
		if err := validateEndpointURL(e.URL); err != nil {
			return nil, newError(CategoryConfiguration, e.Label(), "invalid endpoint URL", err)
		}
	}
	return c, nil
}

// validateEndpointURL accepts absolute http(s) URLs with a host.
func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidEndpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidEndpoint)
	}
	return nil
}

// Endpoints returns the effective ordered endpoint list.
func (c *Connector) Endpoints() []Endpoint {
	return append([]Endpoint(nil), c.endpoints...)
}

// MaxDuration is the longest a Submit can take.
func (c *Connector) MaxDuration() time.Duration {
	worst := c.attemptTimeout * time.Duration(len(c.endpoints))
	if c.totalBudget > 0 && c.totalBudget < worst {
		return c.totalBudget
	}
	return worst
}

// Submit posts payload plus a fresh "timestamp" to each endpoint in order and
// returns on the first success. payload is not modified.
func (c *Connector) Submit(ctx context.Context, payload map[string]any) Result {
	ctx, span := c.tracer.Start(ctx, "backend.Submit",
		trace.WithAttributes(attribute.Int("backend.endpoints", len(c.endpoints))))
	defer span.End()

	if c.totalBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.totalBudget)
		defer cancel()
	}

	requestID := requestcontext.RequestID(ctx)
	result := Result{Attempts: make([]Attempt, len(c.endpoints))}
	for i, e := range c.endpoints {
		result.Attempts[i] = Attempt{Endpoint: e, State: StateNotTried}
	}

	for i := range result.Attempts {
		attempt := &result.Attempts[i]
		if ctx.Err() != nil {
			c.logger.WarnContext(ctx, "backend submission budget exhausted",
				"request_id", requestID,
				"remaining_endpoints", len(result.Attempts)-i,
			)
			break
		}

		env, err := c.attempt(ctx, attempt, payload)
		if err == nil {
			ep := attempt.Endpoint
			result.Success = true
			result.ResolvedEndpoint = &ep
			result.Data = env.Data
			result.DiagnosisID = strings.TrimSpace(env.DiagnosisID)
			result.Err = nil
			c.logger.InfoContext(ctx, "backend submission succeeded",
				"request_id", requestID,
				"endpoint", ep.Label(),
				"attempt", i+1,
				"duration_ms", attempt.Duration.Milliseconds(),
			)
			span.SetAttributes(attribute.String("backend.resolved_endpoint", ep.Label()))
			return result
		}

		result.Err = err
		c.logger.WarnContext(ctx, "backend attempt failed",
			"request_id", requestID,
			"endpoint", attempt.Endpoint.Label(),
			"category", string(err.Category),
			"status_code", err.StatusCode,
			"duration_ms", attempt.Duration.Milliseconds(),
			"error", err.Error(),
		)
		if !err.Category.Retryable() {
			break
		}
	}

	if result.Err == nil {
		result.Err = newError(CategoryNetworkFailure, "", "submission budget exhausted before any endpoint was tried", ctx.Err())
	}
	c.logger.ErrorContext(ctx, "backend submission failed on all endpoints",
		"request_id", requestID,
		"last_category", string(result.Err.Category),
		"attempts", trail(result.Attempts),
	)
	span.SetStatus(codes.Error, string(result.Err.Category))
	return result
}

// attempt runs one endpoint through trying -> succeeded|failed.
func (c *Connector) attempt(ctx context.Context, attempt *Attempt, payload map[string]any) (*Envelope, *Error) {
	label := attempt.Endpoint.Label()
	ctx, span := c.tracer.Start(ctx, "backend.attempt",
		trace.WithAttributes(attribute.String("backend.endpoint", label)))
	defer span.End()

	attempt.State = StateTrying
	start := c.clock()
	env, statusCode, err := c.post(ctx, attempt.Endpoint, payload)
	attempt.Duration = c.clock().Sub(start)
	attempt.StatusCode = statusCode

	if err != nil {
		err.StatusCode = statusCode
		attempt.State = StateFailed
		attempt.Category = err.Category
		attempt.Message = err.Message
		c.metrics.ObserveBackendAttempt(label, string(err.Category), attempt.Duration)
		span.SetAttributes(attribute.String("backend.category", string(err.Category)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Category))
		return nil, err
	}

	attempt.State = StateSucceeded
	c.metrics.ObserveBackendAttempt(label, string(StateSucceeded), attempt.Duration)
	return env, nil
}

func (c *Connector) post(ctx context.Context, endpoint Endpoint, payload map[string]any) (*Envelope, int, *Error) {
	label := endpoint.Label()
	body := make(map[string]any, len(payload)+1)
	maps.Copy(body, payload)
	body["timestamp"] = c.clock().UTC().Format(time.RFC3339)

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, 0, newError(CategoryConfiguration, label, "payload is not JSON encodable", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint.URL, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, newError(CategoryConfiguration, label, "invalid endpoint URL", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, c.networkError(ctx, attemptCtx, label, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, c.networkError(ctx, attemptCtx, label, err)
	}

	classified := Classify(raw)
	switch classified.Kind {
	case BodyHTML:
		return nil, resp.StatusCode, newError(CategoryUnexpectedShape, label,
			fmt.Sprintf("expected JSON but received an HTML document (HTTP %d); check that the endpoint URL points at the deployed API", resp.StatusCode), nil)
	case BodyUnparseable:
		return nil, resp.StatusCode, newError(CategoryUnparseable, label,
			fmt.Sprintf("response is not valid JSON (HTTP %d): %q", resp.StatusCode, classified.Snippet), nil)
	}

	if classified.Envelope == nil {
		return nil, resp.StatusCode, newError(CategoryUnexpectedShape, label,
			fmt.Sprintf("expected a JSON object with a success flag (HTTP %d)", resp.StatusCode), nil)
	}
	if !classified.Envelope.Succeeded() {
		reason := classified.Envelope.Reason()
		if reason == "" {
			reason = fmt.Sprintf("backend reported failure without a reason (HTTP %d)", resp.StatusCode)
		}
		return nil, resp.StatusCode, newError(CategoryRejected, label, reason, nil)
	}
	return classified.Envelope, resp.StatusCode, nil
}

func (c *Connector) networkError(ctx, attemptCtx context.Context, label string, err error) *Error {
	var netErr net.Error
	switch {
	case c.totalBudget > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(CategoryNetworkFailure, label, fmt.Sprintf("submission budget exhausted after %s", c.totalBudget), err)
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return newError(CategoryNetworkFailure, label, fmt.Sprintf("timed out after %s", c.attemptTimeout), err)
	case errors.Is(err, context.Canceled):
		return newError(CategoryNetworkFailure, label, "request cancelled", err)
	default:
		return newError(CategoryNetworkFailure, label, "request failed", err)
	}
}

// trail renders attempts as log-friendly maps.
func trail(attempts []Attempt) []map[string]any {
	out := make([]map[string]any, 0, len(attempts))
	for _, a := range attempts {
		entry := map[string]any{
			"endpoint": a.Endpoint.Label(),
			"state":    string(a.State),
		}
		if a.Category != "" {
			entry["category"] = string(a.Category)
			entry["message"] = a.Message
			entry["duration_ms"] = a.Duration.Milliseconds()
		}
		if a.StatusCode != 0 {
			entry["status_code"] = a.StatusCode
		}
		out = append(out, entry)
	}
	return out
}
