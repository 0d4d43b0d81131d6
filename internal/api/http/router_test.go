package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/api/http/handlers"
	"github.com/spec-kit/feedback-service/internal/auth"
	"github.com/spec-kit/feedback-service/internal/crosstab"
	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/fanout"
	"github.com/spec-kit/feedback-service/internal/repository"
	"github.com/spec-kit/feedback-service/internal/service"
	"github.com/spec-kit/feedback-service/internal/worker"
)

type stubSweeper struct{ calls int }

func (s *stubSweeper) Sweep(context.Context) (*worker.SweepReport, error) {
	s.calls++
	return &worker.SweepReport{Items: []worker.SweepItem{}}, nil
}

type testServer struct {
	app     *fiber.App
	tokens  *auth.TokenManager
	sweeper *stubSweeper
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	router, err := repository.NewRouter(
		repository.NewMemoryRepository(domain.PartitionExternal, nil),
		repository.NewMemoryRepository(domain.PartitionInternal, nil),
	)
	require.NoError(t, err)

	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{
		Router:      router,
		Departments: domain.NewDepartments([]string{"Cardiology", "Radiology"}),
		Dispatcher:  events.NewInMemoryDispatcher(logger),
	})
	sentimentSvc := service.NewSentimentService(service.SentimentDependencies{Router: router})
	tabs := crosstab.NewBus(fanout.NewMemorySuppressor(time.Second, nil), logger)
	validate := handlers.NewValidator()
	tokens := auth.NewTokenManager("test-secret", 5)
	sweeper := &stubSweeper{}

	app := fiber.New()
	RegisterMiddlewares(app, logger, nil, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("feedback-service", "test", map[string]handlers.Pinger{"store": router}),
		Feedback:       handlers.NewFeedbackHandler(lifecycle, service.NewQueryService(router), tabs, validate, logger),
		Sentiment:      handlers.NewSentimentHandler(sentimentSvc, sweeper, nil),
		Events:         handlers.NewEventsHandler(context.Background(), fanout.NewHub(8, logger), tabs, validate, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &testServer{app: app, tokens: tokens, sweeper: sweeper}
}

func (s *testServer) token(t *testing.T, p domain.Principal) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(p)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

var (
	intake = domain.Principal{ActorName: "ivy", Role: domain.RoleIntake}
	cardio = domain.Principal{ActorName: "dana", Role: domain.RoleDepartment, Department: "Cardiology"}
	admin  = domain.Principal{ActorName: "ada", Role: domain.RoleAdmin}
)

func TestSubmitAndReviewFlow(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/feedback", "", map[string]any{
		"category":     "patient",
		"feedbackType": "complaint",
		"department":   "cardiology",
		"description":  "Waited four hours",
		"rating":       2,
	})
	require.Equal(t, nethttp.StatusCreated, status)
	rec := body["data"].(map[string]any)
	id := rec["id"].(string)
	require.True(t, strings.HasPrefix(id, "ext-"))
	require.Equal(t, "Cardiology", rec["department"])
	require.Equal(t, "pending", rec["status"])

	status, body = s.do(t, nethttp.MethodPost, "/feedback/transitions/assignReport", s.token(t, intake), map[string]any{
		"ids":           []string{id},
		"department":    "Cardiology",
		"reportDetails": "Triage backlog",
		"originTab":     "tab-1",
	})
	require.Equal(t, nethttp.StatusOK, status)
	result := body["data"].(map[string]any)
	require.EqualValues(t, 1, result["modifiedCount"])

	status, body = s.do(t, nethttp.MethodGet, "/feedback/"+id, s.token(t, cardio), nil)
	require.Equal(t, nethttp.StatusOK, status)
	require.Equal(t, "needs_action", body["data"].(map[string]any)["deptStatus"])

	status, body = s.do(t, nethttp.MethodGet, "/feedback/"+id+"/history", s.token(t, intake), nil)
	require.Equal(t, nethttp.StatusOK, status)
	require.Len(t, body["data"], 1)

	status, body = s.do(t, nethttp.MethodGet, "/feedback/"+id, s.token(t, admin), nil)
	require.Equal(t, nethttp.StatusForbidden, status)
	require.Equal(t, "FORBIDDEN", errorCode(body))

	status, body = s.do(t, nethttp.MethodGet, "/feedback?status=assigned", s.token(t, cardio), nil)
	require.Equal(t, nethttp.StatusOK, status)
	list := body["data"].(map[string]any)
	require.Len(t, list["items"], 1)
	require.EqualValues(t, 50, list["limit"])
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/feedback", "", map[string]any{
		"category":    "patient",
		"description": "x",
		"rating":      9,
	})
	require.Equal(t, nethttp.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_FAILED", errorCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	require.Equal(t, "max", details["rating"])

	status, body = s.do(t, nethttp.MethodPost, "/feedback", "", map[string]any{
		"category":       "staff",
		"description":    "Broken lift",
		"rating":         3,
		"impactSeverity": "minor",
	})
	require.Equal(t, nethttp.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestAuthAndRoleErrors(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodGet, "/feedback", "", nil)
	require.Equal(t, nethttp.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, body = s.do(t, nethttp.MethodPost, "/feedback/transitions/tagSpam", s.token(t, cardio), map[string]any{"ids": []string{"ext-1"}})
	require.Equal(t, nethttp.StatusForbidden, status)
	require.Equal(t, "FORBIDDEN", errorCode(body))

	status, _ = s.do(t, nethttp.MethodPost, "/sentiment/sweep", s.token(t, intake), nil)
	require.Equal(t, nethttp.StatusForbidden, status)
	require.Zero(t, s.sweeper.calls)

	status, body = s.do(t, nethttp.MethodGet, "/feedback/ext-missing", s.token(t, admin), nil)
	require.Equal(t, nethttp.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", errorCode(body))

	status, body = s.do(t, nethttp.MethodGet, "/nowhere", "", nil)
	require.Equal(t, nethttp.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestTransitionReportsPerItemOutcomes(t *testing.T) {
	s := newTestServer(t)
	_, body := s.do(t, nethttp.MethodPost, "/feedback", "", map[string]any{"category": "visitor", "description": "Spam spam", "rating": 1})
	id := body["data"].(map[string]any)["id"].(string)

	status, body := s.do(t, nethttp.MethodPost, "/feedback/transitions/tagSpam", s.token(t, intake), map[string]any{"ids": []string{id, "ext-ghost"}})
	require.Equal(t, nethttp.StatusOK, status)
	result := body["data"].(map[string]any)
	require.EqualValues(t, 2, result["requested"])
	require.EqualValues(t, 1, result["modifiedCount"])
	items := result["items"].([]any)
	require.Equal(t, "not_found", items[1].(map[string]any)["outcome"])
}

func TestAdminSweepAndHealth(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, nethttp.MethodPost, "/sentiment/sweep", s.token(t, admin), nil)
	require.Equal(t, nethttp.StatusOK, status)
	require.Equal(t, 1, s.sweeper.calls)

	status, body := s.do(t, nethttp.MethodPost, "/sentiment/sweep?async=true", s.token(t, admin), nil)
	require.Equal(t, nethttp.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, nethttp.MethodGet, "/health/ready", "", nil)
	require.Equal(t, nethttp.StatusOK, status)
	require.Equal(t, "ready", body["status"])
}

func TestTabAnnouncementDedup(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, intake)
	payload := map[string]any{"originTab": "tab-a", "actionType": "tagSpam", "ids": []string{"ext-2", "ext-1"}}

	status, body := s.do(t, nethttp.MethodPost, "/events/tabs", token, payload)
	require.Equal(t, nethttp.StatusOK, status)
	require.Equal(t, true, body["data"].(map[string]any)["delivered"])

	payload["originTab"] = "tab-b"
	payload["ids"] = []string{"ext-1", "ext-2"}
	status, body = s.do(t, nethttp.MethodPost, "/events/tabs", token, payload)
	require.Equal(t, nethttp.StatusOK, status)
	require.Equal(t, false, body["data"].(map[string]any)["delivered"])
}
