package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aescanero/velodago/internal/application/orchestrator"
	"github.com/aescanero/velodago/internal/application/workers"
	eventsmemory "github.com/aescanero/velodago/pkg/adapters/events/memory"
	"github.com/aescanero/velodago/pkg/adapters/interpreter/memory"
	"github.com/aescanero/velodago/pkg/adapters/interpreter/python"
	metrics "github.com/aescanero/velodago/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/velodago/pkg/adapters/storage/memory"
	"github.com/aescanero/velodago/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	handler http.Handler
	backend *memory.Backend
	pool    *workers.Pool
	manager *orchestrator.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry(reg)
	backend := memory.NewBackend()
	pool := workers.NewPool(2, backend, collector, logger, time.Hour)

	manager := orchestrator.NewManager(
		orchestrator.NewPipeline(pool, orchestrator.NewValidator(), logger),
		eventsmemory.NewInMemoryEventBus(),
		storagememory.NewInMemoryStateStorage(),
		collector,
		logger,
		time.Minute,
	)
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
		_ = pool.Shutdown(context.Background())
	})

	srv := NewServer(&Config{
		Port:         0,
		Orchestrator: manager,
		Pool:         pool,
		Logger:       logger,
		MaxBodyBytes: 1 << 20,
		Gatherer:     reg,
	})
	return &testServer{handler: srv.Handler(), backend: backend, pool: pool, manager: manager}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func requestBody(mode string, outputAnnData bool) map[string]any {
	matrix := map[string]any{
		"genes":  []string{"g1", "g2", "g3"},
		"cells":  []string{"c1", "c2"},
		"counts": [][]float64{{1, 0}, {3, 2}, {0, 5}},
	}
	params := map[string]any{}
	if mode != "" {
		params["velocity"] = map[string]any{"mode": mode}
	}
	params["moments"] = map[string]any{"n_neighbors": 10}
	return map[string]any{
		"spliced":        matrix,
		"unspliced":      matrix,
		"output_anndata": outputAnnData,
		"params":         params,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandleVelocity(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/velocity", requestBody("dynamical", true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result domain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, []string{"c1", "c2"}, result.Obs.Index)
	assert.Equal(t, []string{"g1", "g2", "g3"}, result.Var.Index)
	require.NotNil(t, result.AnnData)
	assert.True(t, result.AnnData.HasAnnotations(domain.StepLatentTime.Annotations()))
	assert.Zero(t, s.backend.OpenSessions())
}

func TestHandleVelocityMissingMode(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/velocity", requestBody("", true))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_MODE", decodeError(t, rec).Code)
	assert.Zero(t, s.backend.SessionsCreated())
}

func TestHandleVelocityInvalidRequests(t *testing.T) {
	s := newTestServer(t)

	unknownOption := requestBody("stochastic", false)
	unknownOption["params"].(map[string]any)["moments"] = map[string]any{"n_neighbours": 10}

	unknownStep := requestBody("stochastic", false)
	unknownStep["params"].(map[string]any)["umap"] = map[string]any{}

	badMode := requestBody("deterministic", false)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{"},
		{"unknown option", unknownOption},
		{"unknown step", unknownStep},
		{"unknown mode", badMode},
		{"ragged matrix", `{"spliced":{"genes":["g1"],"cells":["c1","c2"],"counts":[[1]]},"params":{"velocity":{"mode":"stochastic"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/velocity", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Code)
		})
	}

	rec := s.do(t, http.MethodPost, "/api/v1/velocity", `{"params":{"velocity":{"mode":"stochastic"}}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Code)

	assert.Zero(t, s.backend.SessionsCreated())
}

func TestHandleVelocityPipelineFailure(t *testing.T) {
	s := newTestServer(t)
	s.backend.FailStep(domain.StepVelocityGraph, &python.ExternalError{
		Type:      "ValueError",
		Message:   "neighbors graph is empty",
		Traceback: "Traceback (most recent call last): ...",
	})

	rec := s.do(t, http.MethodPost, "/api/v1/velocity", requestBody("stochastic", false))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	detail := decodeError(t, rec)
	assert.Equal(t, "PIPELINE_FAILED", detail.Code)
	assert.Equal(t, "ValueError: neighbors graph is empty", detail.Message)
	assert.Equal(t, "ValueError", detail.Details.(map[string]any)["type"])
	assert.Zero(t, s.backend.OpenSessions())
}

func TestHandleVelocityShapeMismatch(t *testing.T) {
	s := newTestServer(t)

	body := requestBody("stochastic", false)
	body["unspliced"] = map[string]any{
		"genes":  []string{"g1", "g2"},
		"cells":  []string{"c1", "c2"},
		"counts": [][]float64{{1, 0}, {3, 2}},
	}

	rec := s.do(t, http.MethodPost, "/api/v1/velocity", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "incorrect shape")
}

func TestRunLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/runs", requestBody("steady_state", true))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var submitted RunSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.RunID)
	assert.Equal(t, "submitted", submitted.Status)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/runs/"+submitted.RunID+"/status", nil)
		var status struct {
			Status domain.RunStatus `json:"status"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &status)
		return status.Status == domain.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/api/v1/runs/"+submitted.RunID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Status domain.RunStatus `json:"status"`
		Result *domain.Result   `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Result)
	assert.Equal(t, 2, result.Result.Obs.NRows())
	require.NotNil(t, result.Result.AnnData)

	rec = s.do(t, http.MethodGet, "/api/v1/runs/"+submitted.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state domain.RunState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, domain.ModeSteadyState, state.Mode)
	assert.Len(t, state.Steps, 6)

	rec = s.do(t, http.MethodGet, "/api/v1/runs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs  []domain.RunState `json:"runs"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Runs, 1)
	assert.Nil(t, list.Runs[0].Result)

	rec = s.do(t, http.MethodGet, "/api/v1/runs?status=failed", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Zero(t, list.Total)

	rec = s.do(t, http.MethodPost, "/api/v1/runs/"+submitted.RunID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CANCELLATION_FAILED", decodeError(t, rec).Code)
}

func TestHandleVelocityMissingModeWithOtherParams(t *testing.T) {
	s := newTestServer(t)

	otherVelocityOptions := requestBody("stochastic", false)
	otherVelocityOptions["params"].(map[string]any)["velocity"] = map[string]any{"vkey": "velocity", "n_jobs": 4}

	mistypedOption := requestBody("stochastic", false)
	mistypedOption["params"] = map[string]any{"moments": map[string]any{"n_neighbors": "ten"}}

	unknownStep := requestBody("stochastic", false)
	unknownStep["params"] = map[string]any{"umap": map[string]any{}}

	tests := []struct {
		name string
		body any
	}{
		{"other velocity options", otherVelocityOptions},
		{"mistyped option", mistypedOption},
		{"unknown step", unknownStep},
		{"no params", `{"output_anndata":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/velocity", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "MISSING_MODE", decodeError(t, rec).Code)
		})
	}

	rec := s.do(t, http.MethodPost, "/api/v1/runs", mistypedOption)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_MODE", decodeError(t, rec).Code)

	assert.Zero(t, s.backend.SessionsCreated())
}

func TestSubmitRunMissingMode(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/runs", requestBody("", false))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_MODE", decodeError(t, rec).Code)
}

func TestUnknownRun(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/api/v1/runs/missing",
		"/api/v1/runs/missing/status",
		"/api/v1/runs/missing/result",
	} {
		rec := s.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code, path)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/runs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndWorkers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = s.do(t, http.MethodGet, "/api/v1/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var workersResp struct {
		Data []workers.WorkerInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workersResp))
	assert.Len(t, workersResp.Data, 2)

	require.NoError(t, s.pool.Shutdown(context.Background()))

	rec = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/velocity", requestBody("stochastic", false))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UNAVAILABLE", decodeError(t, rec).Code)
}

func TestSubmitRunAfterShutdown(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.manager.Shutdown(context.Background()))

	rec := s.do(t, http.MethodPost, "/api/v1/runs", requestBody("stochastic", false))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UNAVAILABLE", decodeError(t, rec).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/velocity", requestBody("stochastic", false))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `velodago_runs_completed_total{status="completed"} 1`)
	assert.Contains(t, rec.Body.String(), `velodago_steps_executed_total{status="completed",step="velocity"} 1`)
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t)

	huge := `{"spliced":{"genes":["` + string(bytes.Repeat([]byte("g"), 2<<20)) + `"]}}`
	rec := s.do(t, http.MethodPost, "/api/v1/velocity", huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
