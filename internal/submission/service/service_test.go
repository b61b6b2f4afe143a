package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assessgate/internal/backend"
	"assessgate/internal/identifier"
	dErrors "assessgate/pkg/domain-errors"
)

type fakeConnector struct {
	payload map[string]any
	result  backend.Result
}

func (f *fakeConnector) Submit(_ context.Context, payload map[string]any) backend.Result {
	f.payload = payload
	return f.result
}

func fixedIDs() *identifier.Service {
	return identifier.New(identifier.WithClock(func() time.Time {
		return time.UnixMilli(1767225600000)
	}))
}

func TestSubmitIdentifier(t *testing.T) {
	t.Run("generates an id when none is supplied", func(t *testing.T) {
		conn := &fakeConnector{result: backend.Result{Success: true}}
		out, err := New(conn, fixedIDs()).Submit(context.Background(), map[string]any{"answers": []int{1, 2}})
		require.NoError(t, err)

		assert.True(t, out.Success)
		assert.True(t, strings.HasPrefix(out.DiagnosisID, "diag_1767225600000_"))
		assert.Equal(t, out.DiagnosisID, conn.payload["diagnosisId"])
	})

	t.Run("normalizes a legacy id before sending", func(t *testing.T) {
		conn := &fakeConnector{result: backend.Result{Success: true}}
		out, err := New(conn, fixedIDs()).Submit(context.Background(), map[string]any{"diagnosisId": " dx-123 "})
		require.NoError(t, err)

		assert.Equal(t, "diag_123", conn.payload["diagnosisId"])
		assert.Equal(t, "diag_123", out.DiagnosisID)
	})

	t.Run("prefers the normalized id returned by the backend", func(t *testing.T) {
		conn := &fakeConnector{result: backend.Result{Success: true, DiagnosisID: "report_777"}}
		out, err := New(conn, fixedIDs()).Submit(context.Background(), map[string]any{"diagnosisId": "diag_123"})
		require.NoError(t, err)

		assert.Equal(t, "diag_777", out.DiagnosisID)
	})

	t.Run("ignores an unusable backend id", func(t *testing.T) {
		conn := &fakeConnector{result: backend.Result{Success: true, DiagnosisID: "has space"}}
		out, err := New(conn, fixedIDs()).Submit(context.Background(), map[string]any{"diagnosisId": "diag_123"})
		require.NoError(t, err)

		assert.Equal(t, "diag_123", out.DiagnosisID)
	})

	t.Run("does not modify the caller's payload", func(t *testing.T) {
		payload := map[string]any{"score": 3}
		conn := &fakeConnector{result: backend.Result{Success: true}}
		_, err := New(conn, fixedIDs()).Submit(context.Background(), payload)
		require.NoError(t, err)

		assert.NotContains(t, payload, "diagnosisId")
	})
}

func TestSubmitRejectsInput(t *testing.T) {
	svc := New(&fakeConnector{}, fixedIDs())

	cases := map[string]map[string]any{
		"invalid id":      {"diagnosisId": "bad/id"},
		"non-string id":   {"diagnosisId": 42},
		"reserved action": {"action": "sendAccessCode"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), payload)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestSubmitFailureOutcome(t *testing.T) {
	conn := &fakeConnector{result: backend.Result{
		Attempts: []backend.Attempt{
			{State: backend.StateFailed, Category: backend.CategoryRejected, Message: "sheet locked"},
		},
		Err: &backend.Error{Category: backend.CategoryRejected, Message: "sheet locked"},
	}}

	out, err := New(conn, fixedIDs()).Submit(context.Background(), map[string]any{"diagnosisId": "diag_9"})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, "diag_9", out.DiagnosisID)
	assert.Equal(t, backend.CategoryRejected, out.Category)
	assert.Contains(t, out.Message, "sheet locked")
	assert.Len(t, out.Attempts, 1)
}

func TestSubmitThroughConnector(t *testing.T) {
	var hits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>Sign in</body></html>"))
	}))
	defer primary.Close()
	alternate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"diagnosisId": body["diagnosisId"],
			"data":        map[string]any{"score": 17},
		})
	}))
	defer alternate.Close()

	conn, err := backend.New([]backend.Endpoint{
		{Name: "primary", URL: primary.URL},
		{Name: "alternate", URL: alternate.URL, Priority: 1},
	}, backend.WithAttemptTimeout(5*time.Second))
	require.NoError(t, err)

	out, err := New(conn, fixedIDs()).Submit(context.Background(), map[string]any{"diagnosisId": "abc"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "diag_abc", out.DiagnosisID)
	assert.JSONEq(t, `{"score":17}`, string(out.Data))
	assert.Equal(t, int32(2), hits.Load())
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, backend.CategoryUnexpectedShape, out.Attempts[0].Category)
}
