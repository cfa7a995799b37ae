package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/multistart/internal/config"
	"github.com/copyleftdev/multistart/internal/logging"
	"github.com/copyleftdev/multistart/internal/metrics"
	"github.com/copyleftdev/multistart/internal/optimization/objectives"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stdout"

	cfg.Optimization.WorkerCount = 2
	cfg.Optimization.MaxIterations = 50
	cfg.Optimization.MaxRunIterations = 100000
	cfg.Optimization.MaxDimension = 100
	cfg.Optimization.BiasStart = 10
	cfg.Optimization.Threshold = 1e-8
	cfg.Optimization.LocalMethod = "bfgs"

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.DebugLevel, io.Discard)
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(cfg, testLogger(t), opts...)
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func waitForStatus(t *testing.T, h http.Handler, id, want string) StatusResponse {
	t.Helper()
	var last StatusResponse
	require.Eventually(t, func() bool {
		rr := do(t, h, http.MethodGet, "/api/v1/status/"+id, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var status StatusResponse
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			return false
		}
		last = status
		return status.Status == want
	}, 10*time.Second, 5*time.Millisecond, "optimization %s never reached %s", id, want)
	return last
}

func longRunningRequest() map[string]interface{} {
	return map[string]interface{}{
		"objective":      "rastrigin",
		"bounds":         []float64{-5.12, 5.12},
		"threshold":      -1,
		"max_iterations": 100000,
		"method":         "nelder-mead",
	}
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NotNil(t, srv, "Server should be created")
	assert.Equal(t, 2, cap(srv.slots))
	assert.NotNil(t, srv.zap)
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/optimize", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/optimization/123", true},
		{"GET", "/api/v1/objectives", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := do(t, r, tt.method, tt.path, nil)
			// chi answers 404 with a plain-text body for unknown routes,
			// handlers answer JSON
			routed := rr.Header().Get("Content-Type") == "application/json"
			assert.Equal(t, tt.shouldExist, routed, "status %d", rr.Code)
		})
	}
}

func TestOptimizeAndPoll(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/api/v1/optimize", map[string]interface{}{
		"objective": "shifted-quadratic",
		"bounds":    []float64{-5, 5},
		"seed":      7,
		"sampler":   "lhs",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	started := decode[StartResponse](t, rr)
	assert.Equal(t, StatusPending, started.Status)
	require.NotEmpty(t, started.OptimizationID)

	status := waitForStatus(t, r, started.OptimizationID, StatusCompleted)
	assert.True(t, status.Converged)
	assert.Equal(t, "bfgs", status.Method)
	assert.Equal(t, 1.0, status.Progress)
	require.NotNil(t, status.BestSolution)
	assert.InDeltaSlice(t, []float64{3, -1}, status.BestSolution.Parameters, 1e-3)
	assert.Less(t, status.BestSolution.Value, 1e-8)
	assert.Len(t, status.Trace, status.Iterations)
	assert.Len(t, status.Starts, status.Iterations)
	assert.NotEmpty(t, status.EndTime)
}

func TestOptimizeRejectsInvalidRequests(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", `{"objective":`},
		{"unknown objective", map[string]interface{}{"objective": "nope", "bounds": []float64{-1, 1}}},
		{"missing bounds", map[string]interface{}{"objective": "sphere"}},
		{"reversed bounds", map[string]interface{}{"objective": "sphere", "bounds": []float64{1, -1}}},
		{"negative dimension", map[string]interface{}{"objective": "sphere", "bounds": []float64{-1, 1}, "dimension": -2}},
		{"negative bias", map[string]interface{}{"objective": "sphere", "bounds": []float64{-1, 1}, "bias_start": -1}},
		{"over the cap", map[string]interface{}{"objective": "sphere", "bounds": []float64{-1, 1}, "max_iterations": 100001}},
		{"dimension over the cap", map[string]interface{}{"objective": "sphere", "bounds": []float64{-1, 1}, "dimension": 1000000000}},
		{"unknown method", map[string]interface{}{"objective": "sphere", "bounds": []float64{-1, 1}, "method": "powell"}},
		{"unknown sampler", map[string]interface{}{"objective": "sphere", "bounds": []float64{-1, 1}, "sampler": "sobol"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, "/api/v1/optimize", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			body := decode[map[string]string](t, rr)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatusAndCancelUnknown(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodGet, "/api/v1/status/opt_missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, r, http.MethodDelete, "/api/v1/optimization/opt_missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelRunningOptimization(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/api/v1/optimize", longRunningRequest())
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := decode[StartResponse](t, rr).OptimizationID

	waitForStatus(t, r, id, StatusRunning)

	rr = do(t, r, http.MethodDelete, "/api/v1/optimization/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	status := waitForStatus(t, r, id, StatusCancelled)
	assert.NotEmpty(t, status.EndTime)

	rr = do(t, r, http.MethodDelete, "/api/v1/optimization/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "second cancel")
}

func TestJobsWaitForFreeSlot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.WorkerCount = 1
	_, r := newTestServer(t, cfg)

	first := decode[StartResponse](t, do(t, r, http.MethodPost, "/api/v1/optimize", longRunningRequest()))
	waitForStatus(t, r, first.OptimizationID, StatusRunning)

	second := decode[StartResponse](t, do(t, r, http.MethodPost, "/api/v1/optimize", longRunningRequest()))
	rr := do(t, r, http.MethodGet, "/api/v1/status/"+second.OptimizationID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, StatusPending, decode[StatusResponse](t, rr).Status)

	rr = do(t, r, http.MethodDelete, "/api/v1/optimization/"+second.OptimizationID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	waitForStatus(t, r, second.OptimizationID, StatusCancelled)

	rr = do(t, r, http.MethodDelete, "/api/v1/optimization/"+first.OptimizationID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	waitForStatus(t, r, first.OptimizationID, StatusCancelled)
}

func TestFailedOptimizationReportsError(t *testing.T) {
	nan := objectives.Objective{
		Name:        "nan",
		Description: "returns NaN everywhere",
		Func:        func([]float64) (float64, error) { return math.NaN(), nil },
	}
	_, r := newTestServer(t, testConfig(t), WithObjective(nan))

	rr := do(t, r, http.MethodPost, "/api/v1/optimize", map[string]interface{}{
		"objective":      "nan",
		"bounds":         []float64{-1, 1},
		"max_iterations": 5,
		"method":         "nelder-mead",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := decode[StartResponse](t, rr).OptimizationID

	status := waitForStatus(t, r, id, StatusFailed)
	assert.Contains(t, status.Error, "numerical")
	assert.Nil(t, status.BestSolution)
}

func TestWithObjectiveIsListed(t *testing.T) {
	flat := objectives.Objective{
		Name:        "flat",
		Description: "constant zero",
		Func:        func([]float64) (float64, error) { return 0, nil },
	}
	_, r := newTestServer(t, testConfig(t), WithObjective(flat))

	infos := decode[[]ObjectiveInfo](t, do(t, r, http.MethodGet, "/api/v1/objectives", nil))
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	assert.Contains(t, names, "flat")
	assert.Contains(t, names, "sphere")
	assert.IsIncreasing(t, names)

	rr := do(t, r, http.MethodPost, "/api/v1/optimize", map[string]interface{}{
		"objective": "flat",
		"bounds":    []float64{-1, 1},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	status := waitForStatus(t, r, decode[StartResponse](t, rr).OptimizationID, StatusCompleted)
	assert.True(t, status.Converged)
}

func TestObjectivesEndpoint(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodGet, "/api/v1/objectives", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	infos := decode[[]ObjectiveInfo](t, rr)
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
		assert.NotEmpty(t, info.Description)
	}
	assert.Contains(t, names, "griewank")
	assert.Contains(t, names, "two-well")
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func TestJSONRPC(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"parse error", `{"jsonrpc":`, codeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"objectives.list"}`, codeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"optimization.pause"}`, codeMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"optimization.start"}`, codeInvalidParams},
		{"bad params", `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":[{"objective":"nope","bounds":[-1,1]}]}`, codeInvalidParams},
		{"unknown id", `{"jsonrpc":"2.0","id":1,"method":"optimization.status","params":{"optimization_id":"opt_x"}}`, codeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, "/rpc", tt.body)
			assert.Equal(t, http.StatusOK, rr.Code)

			resp := decode[rpcResponse](t, rr)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestJSONRPCLifecycle(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/rpc", `{"jsonrpc":"2.0","id":"a","method":"objectives.list"}`)
	resp := decode[rpcResponse](t, rr)
	require.Nil(t, resp.Error)
	assert.Equal(t, "a", resp.ID)
	var infos []ObjectiveInfo
	require.NoError(t, json.Unmarshal(resp.Result, &infos))
	assert.NotEmpty(t, infos)

	rr = do(t, r, http.MethodPost, "/rpc",
		`{"jsonrpc":"2.0","id":2,"method":"optimization.start","params":[{"objective":"sphere","bounds":[-2,2],"dimension":3,"seed":5}]}`)
	resp = decode[rpcResponse](t, rr)
	require.Nil(t, resp.Error)
	var started StartResponse
	require.NoError(t, json.Unmarshal(resp.Result, &started))

	require.Eventually(t, func() bool {
		body := `{"jsonrpc":"2.0","id":3,"method":"optimization.status","params":{"optimization_id":"` + started.OptimizationID + `"}}`
		var resp rpcResponse
		if err := json.NewDecoder(do(t, r, http.MethodPost, "/rpc", body).Body).Decode(&resp); err != nil || resp.Error != nil {
			return false
		}
		var status StatusResponse
		if err := json.Unmarshal(resp.Result, &status); err != nil {
			return false
		}
		return status.Status == StatusCompleted && len(status.BestSolution.Parameters) == 3
	}, 10*time.Second, 5*time.Millisecond)

	body := `{"jsonrpc":"2.0","id":4,"method":"optimization.cancel","params":{"optimization_id":"` + started.OptimizationID + `"}}`
	resp = decode[rpcResponse](t, do(t, r, http.MethodPost, "/rpc", body))
	require.NotNil(t, resp.Error, "completed jobs cannot be cancelled")
	assert.Equal(t, codeServerError, resp.Error.Code)
}

func TestClose(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	id := decode[StartResponse](t, do(t, r, http.MethodPost, "/api/v1/optimize", longRunningRequest())).OptimizationID
	require.NoError(t, srv.Close(), "Close should not return an error")

	rr := do(t, r, http.MethodGet, "/api/v1/status/"+id, nil)
	assert.Equal(t, StatusCancelled, decode[StatusResponse](t, rr).Status)
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{"valid error response", codeInvalidParams, "Invalid params", "123", "123"},
		{"nil id", codeServerError, "Server error", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id, nil)

			// respondWithError writes 200 with the error in the body
			assert.Equal(t, http.StatusOK, rr.Code)

			var response map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))

			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"])
			assert.Equal(t, tt.message, errObj["message"])
			assert.NotContains(t, errObj, "data")
			assert.Equal(t, tt.expectedID, response["id"])
		})
	}
}

func TestRouterWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	cfg := testConfig(t)
	srv := NewServer(cfg, testLogger(t), WithRecorder(m))
	t.Cleanup(func() { _ = srv.Close() })
	r := NewRouter(srv, testLogger(t), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	rr := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())

	id := decode[StartResponse](t, do(t, r, http.MethodPost, "/api/v1/optimize", map[string]interface{}{
		"objective": "sphere",
		"bounds":    []float64{-1, 1},
		"seed":      3,
	})).OptimizationID
	waitForStatus(t, r, id, StatusCompleted)

	rr = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `multistart_runs_total{outcome="converged"} 1`)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(testLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestErrorHandlerLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)
	h := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))

	do(t, h, http.MethodGet, "/missing", nil)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"status":404`)
}
