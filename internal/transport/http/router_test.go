package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assessgate/internal/identifier"
	idhandler "assessgate/internal/identifier/handler"
	"assessgate/internal/platform/metrics"
	"assessgate/internal/platform/middleware"
	"assessgate/pkg/platform/audit"
	auditmemory "assessgate/pkg/platform/audit/store/memory"
	"assessgate/pkg/platform/middleware/admin"
	"assessgate/pkg/testutil"
)

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter(t *testing.T) {
	testutil.Given(t, "the assembled router", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.NewWithRegistry(reg)
		m.IncrementSubmissions("success")

		router := NewRouter(RouterConfig{
			Logger:  discard(),
			Modules: []Module{idhandler.New(identifier.New(), discard())},
			Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		})

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodGet, "/healthz", ""))

			testutil.Then(t, "it reports ok with a request id", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusOK)
				testutil.AssertJSONContains(t, rr, "status", "ok")
				assert.NotEmpty(t, rr.Header().Get(middleware.HeaderRequestID))
			})
		})

		testutil.When(t, "calling a module route", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodGet, "/api/identifiers/normalize?id=dx_9", ""))

			testutil.Then(t, "the module answers", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusOK)
				testutil.AssertJSONContains(t, rr, "diagnosisId", "diag_9")
			})
		})

		testutil.When(t, "calling GET /metrics", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodGet, "/metrics", ""))

			testutil.Then(t, "prometheus metrics are exposed", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusOK)
				assert.Contains(t, rr.Body.String(), "assessgate_submissions_total")
			})
		})

		testutil.When(t, "calling an unknown route", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodGet, "/nope", ""))

			testutil.Then(t, "it responds with a not_found envelope", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
			})
		})

		testutil.When(t, "an inbound request id is supplied", func(t *testing.T) {
			req := testutil.NewRequestWithBody(t, http.MethodGet, "/healthz", "")
			req.Header.Set(middleware.HeaderRequestID, "edge-42")
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "it is echoed back", func(t *testing.T) {
				assert.Equal(t, "edge-42", rr.Header().Get(middleware.HeaderRequestID))
			})
		})
	})
}

func TestHealthzDegraded(t *testing.T) {
	router := NewRouter(RouterConfig{
		Logger: discard(),
		Health: healthFunc(func(context.Context) error { return errors.New("redis: connection refused") }),
	})

	rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodGet, "/healthz", ""))

	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(t, rr, "status", "degraded")
}

func TestRecentAudit(t *testing.T) {
	store := auditmemory.NewInMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, audit.Event{ID: "1", Action: audit.EventAccessCodeIssued, Subject: "a***@x.com"}))
	require.NoError(t, store.Append(ctx, audit.Event{ID: "2", Action: audit.EventShareCreated, Subject: "HJKM2345"}))

	router := NewRouter(RouterConfig{Logger: discard(), AuditLog: store})

	t.Run("lists newest first", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodGet, "/internal/audit?limit=5", ""))
		testutil.AssertStatus(t, rr, http.StatusOK)

		resp := testutil.UnmarshalResponse[struct {
			Events []auditEventResponse `json:"events"`
		}](t, rr)
		require.Len(t, resp.Events, 2)
		assert.Equal(t, "2", resp.Events[0].ID)
		assert.Equal(t, "operations", resp.Events[0].Category)
		assert.Equal(t, "security", resp.Events[1].Category)
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodGet, "/internal/audit?limit=0", ""))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})
}

func TestRecentAudit_AdminToken(t *testing.T) {
	router := NewRouter(RouterConfig{
		Logger:     discard(),
		AuditLog:   auditmemory.NewInMemoryStore(10),
		AdminToken: "op-secret",
	})

	rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodGet, "/internal/audit", ""))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	req := testutil.NewRequestWithBody(t, http.MethodGet, "/internal/audit", "")
	req.Header.Set(admin.HeaderAdminToken, "op-secret")
	testutil.AssertStatus(t, testutil.DoRequest(router, req), http.StatusOK)
}
