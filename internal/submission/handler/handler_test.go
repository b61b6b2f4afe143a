package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"assessgate/internal/backend"
	"assessgate/internal/submission/handler/mocks"
	"assessgate/internal/submission/models"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/testutil"
)

type SubmissionHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestSubmissionHandlerSuite(t *testing.T) {
	suite.Run(t, new(SubmissionHandlerSuite))
}

func (s *SubmissionHandlerSuite) SetupTest() {
	s.service = mocks.NewMockService(gomock.NewController(s.T()))
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *SubmissionHandlerSuite) post(body any) *http.Request {
	return testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/diagnoses", body)
}

func (s *SubmissionHandlerSuite) TestSuccess() {
	s.service.EXPECT().Submit(gomock.Any(), map[string]any{"answers": "abc"}).
		Return(&models.Outcome{
			Success:     true,
			DiagnosisID: "diag_1",
			Data:        json.RawMessage(`{"score":17}`),
		}, nil)

	rr := testutil.DoRequest(s.router, s.post(map[string]any{"answers": "abc", "timestamp": "client-clock"}))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	testutil.AssertJSONContains(s.T(), rr, "success", true)
	testutil.AssertJSONContains(s.T(), rr, "diagnosisId", "diag_1")
	testutil.AssertJSONContains(s.T(), rr, "data", map[string]any{"score": float64(17)})
	testutil.AssertJSONLacksKey(s.T(), rr, "error")
}

func (s *SubmissionHandlerSuite) TestSubmissionIsDetachedFromClient() {
	s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ map[string]any) (*models.Outcome, error) {
			s.NoError(ctx.Err())
			return &models.Outcome{Success: true, DiagnosisID: "diag_2"}, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := s.post(map[string]any{"answers": 1}).WithContext(ctx)
	rr := testutil.DoRequest(s.router, req)

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}

func (s *SubmissionHandlerSuite) TestFailureHidesTrail() {
	s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(&models.Outcome{
			DiagnosisID: "diag_3",
			Message:     "The scoring service is currently unreachable. Please try again later.",
			Category:    backend.CategoryNetworkFailure,
			Attempts:    []backend.Attempt{{State: backend.StateFailed}},
		}, nil)

	rr := testutil.DoRequest(s.router, s.post(map[string]any{"answers": 1}))

	testutil.AssertStatus(s.T(), rr, http.StatusBadGateway)
	testutil.AssertJSONContains(s.T(), rr, "success", false)
	testutil.AssertJSONContains(s.T(), rr, "diagnosisId", "diag_3")
	testutil.AssertJSONContains(s.T(), rr, "error", "The scoring service is currently unreachable. Please try again later.")
	testutil.AssertJSONLacksKey(s.T(), rr, "attempts")
}

func (s *SubmissionHandlerSuite) TestConfigurationFailureIsUnavailable() {
	s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(&models.Outcome{Category: backend.CategoryConfiguration, Message: "The scoring service is not configured."}, nil)

	rr := testutil.DoRequest(s.router, s.post(map[string]any{"answers": 1}))

	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
}

func (s *SubmissionHandlerSuite) TestInvalidInput() {
	s.Run("null body", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/diagnoses", "null"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("array body", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/diagnoses", "[1,2]"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("service validation error", func() {
		s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeValidation, "diagnosisId is invalid"))

		rr := testutil.DoRequest(s.router, s.post(map[string]any{"diagnosisId": "bad/id"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})
}
