package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/multistart/internal/config"
	"github.com/copyleftdev/multistart/internal/logging"
	"github.com/copyleftdev/multistart/internal/optimization"
	"github.com/copyleftdev/multistart/internal/optimization/local"
	"github.com/copyleftdev/multistart/internal/optimization/multistart"
	"github.com/copyleftdev/multistart/internal/optimization/objectives"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Job states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

var (
	errNotFound     = errors.New("optimization not found")
	errInvalidState = errors.New("optimization already finished")
)

// StartRequest describes a search to run. Unset fields take the server
// defaults from the OPT_* configuration.
type StartRequest struct {
	Objective     string    `json:"objective"`
	Bounds        []float64 `json:"bounds"`
	Dimension     int       `json:"dimension,omitempty"`
	Threshold     *float64  `json:"threshold,omitempty"`
	BiasStart     *int      `json:"bias_start,omitempty"`
	MaxIterations int       `json:"max_iterations,omitempty"`
	Seed          int64     `json:"seed,omitempty"`
	Method        string    `json:"method,omitempty"`
	Sampler       string    `json:"sampler,omitempty"`
}

// StartResponse acknowledges a queued search.
type StartResponse struct {
	OptimizationID string `json:"optimization_id"`
	Status         string `json:"status"`
}

// StatusResponse reports the state of a search. Result fields are filled
// in from the live optimizer while it runs and from the result once it
// completes.
type StatusResponse struct {
	OptimizationID string                 `json:"optimization_id"`
	Status         string                 `json:"status"`
	Objective      string                 `json:"objective"`
	Method         string                 `json:"method"`
	Progress       float64                `json:"progress"`
	StartTime      string                 `json:"start_time"`
	LastUpdate     string                 `json:"last_update"`
	EndTime        string                 `json:"end_time,omitempty"`
	Error          string                 `json:"error,omitempty"`
	BestSolution   *optimization.Solution `json:"best_solution,omitempty"`
	Iterations     int                    `json:"iterations"`
	Evaluations    int                    `json:"evaluations,omitempty"`
	Converged      bool                   `json:"converged"`
	Duration       string                 `json:"duration,omitempty"`
	Trace          []float64              `json:"trace,omitempty"`
	Starts         [][]float64            `json:"starts,omitempty"`
}

// ObjectiveInfo describes a catalogue entry.
type ObjectiveInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OptimizationState represents the state of an optimization job.
// All fields are guarded by Server.optimizationsMu.
type OptimizationState struct {
	ID          string
	Status      string
	Objective   string
	Method      string
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Err         error
	Result      *optimization.OptimizationResult
	Optimizer   *multistart.Optimizer
	CancelFunc  context.CancelFunc
}

func (s *OptimizationState) terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder reports every job's iterations and outcome to r.
func WithRecorder(r multistart.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithZapLogger sets the logger handed to the optimizers. By default the
// server's own logger is adapted when it is a *logging.Logger.
func WithZapLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.zap = l
	}
}

// WithObjective serves obj under obj.Name in addition to the built-in
// catalogue, replacing a catalogue entry of the same name.
func WithObjective(obj objectives.Objective) Option {
	return func(s *Server) {
		if s.extra == nil {
			s.extra = make(map[string]objectives.Objective)
		}
		s.extra[obj.Name] = obj
	}
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages optimization jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg      *config.Config
	logger   Logger
	zap      *zap.Logger
	recorder multistart.Recorder
	extra    map[string]objectives.Objective

	// slots bounds the number of concurrently running searches.
	slots chan struct{}
	seq   atomic.Uint64
	wg    sync.WaitGroup

	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	workers := cfg.Optimization.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		slots:         make(chan struct{}, workers),
		optimizations: make(map[string]*OptimizationState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.zap == nil {
		if l, ok := logger.(*logging.Logger); ok {
			s.zap = logging.NewZapLogger(l)
		} else {
			s.zap = zap.NewNop()
		}
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/objectives", s.handleObjectives)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type idParams struct {
	OptimizationID string `json:"optimization_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil, nil)
		return
	}

	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var (
		result interface{}
		err    error
	)

	switch request.Method {
	case "optimization.start":
		var req StartRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.startOptimization(req)
		}
	case "optimization.status":
		var p idParams
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.optimizationStatus(p.OptimizationID)
		}
	case "optimization.cancel":
		var p idParams
		if err = decodeParams(request.Params, &p); err == nil {
			err = s.cancelOptimization(p.OptimizationID)
			result = map[string]string{"status": "cancellation requested"}
		}
	case "objectives.list":
		result = s.objectiveInfos()
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		if errors.Is(err, optimization.ErrConfiguration) {
			s.respondWithError(w, codeInvalidParams, "Invalid params", request.ID, err)
			return
		}
		s.respondWithError(w, codeServerError, "Server error", request.ID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// decodeParams accepts params either as an object or as a one-element
// array holding the object.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return optimization.NewConfigurationError("missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return invalidParams(err, "invalid parameter format")
		}
		if len(list) == 0 {
			return optimization.NewConfigurationError("missing required parameters")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams(err, "invalid parameter format, expected object")
	}
	return nil
}

func invalidParams(err error, message string) error {
	return &optimization.Error{
		Kind:      optimization.KindConfiguration,
		Message:   message,
		Component: "server",
		Err:       err,
	}
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, cause error) {
	fields := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	e := rpcError{Code: code, Message: message}
	if cause != nil {
		e.Data = cause.Error()
		fields["error"] = e.Data
	}
	s.logger.Warn("JSON-RPC error", fields)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   e,
		"id":      id,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// buildSearch turns a request into a validated optimizer; settings the
// request leaves out come from the server configuration.
func (s *Server) buildSearch(id string, req StartRequest) (*multistart.Optimizer, local.Method, error) {
	obj, err := s.lookupObjective(req.Objective)
	if err != nil {
		return nil, "", err
	}
	if len(req.Bounds) != 2 {
		return nil, "", optimization.NewConfigurationError("bounds must be [low, high], got %d values", len(req.Bounds))
	}

	opt := s.cfg.Optimization
	if req.Dimension > opt.MaxDimension {
		return nil, "", optimization.NewConfigurationError("dimension %d exceeds the server limit of %d",
			req.Dimension, opt.MaxDimension)
	}
	cfg := optimization.OptimizerConfig{
		Objective:     obj.Func,
		Bounds:        optimization.Bounds{Low: req.Bounds[0], High: req.Bounds[1]},
		Dimension:     req.Dimension,
		Threshold:     opt.Threshold,
		BiasStart:     opt.BiasStart,
		MaxIterations: opt.MaxIterations,
		RandomSeed:    req.Seed,
	}
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.BiasStart != nil {
		cfg.BiasStart = *req.BiasStart
	}
	if req.MaxIterations != 0 {
		cfg.MaxIterations = req.MaxIterations
	}
	if cfg.MaxIterations > opt.MaxRunIterations {
		return nil, "", optimization.NewConfigurationError("max_iterations %d exceeds the server limit of %d",
			cfg.MaxIterations, opt.MaxRunIterations)
	}

	method := req.Method
	if method == "" {
		method = opt.LocalMethod
	}
	logger := s.zap.With(zap.String("optimization_id", id))
	minimizer, err := local.New(method, local.WithLogger(logger))
	if err != nil {
		return nil, "", err
	}

	samplers, err := multistart.NewSamplerFactory(req.Sampler)
	if err != nil {
		return nil, "", err
	}

	o, err := multistart.NewOptimizer(cfg,
		multistart.WithLocalOptimizer(minimizer),
		multistart.WithSamplerFactory(samplers),
		multistart.WithLogger(logger),
		multistart.WithRecorder(s.recorder),
	)
	if err != nil {
		return nil, "", err
	}
	return o, minimizer.Method(), nil
}

// startOptimization validates the request and queues the search.
func (s *Server) startOptimization(req StartRequest) (*StartResponse, error) {
	id := fmt.Sprintf("opt_%d_%d", time.Now().UnixNano(), s.seq.Add(1))

	o, method, err := s.buildSearch(id, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &OptimizationState{
		ID:          id,
		Status:      StatusPending,
		Objective:   req.Objective,
		Method:      string(method),
		StartTime:   now,
		LastUpdated: now,
		Optimizer:   o,
		CancelFunc:  cancel,
	}

	s.optimizationsMu.Lock()
	s.optimizations[id] = state
	s.optimizationsMu.Unlock()

	s.logger.Info("Optimization queued", map[string]interface{}{
		"optimization_id": id,
		"objective":       req.Objective,
		"method":          string(method),
	})

	s.wg.Add(1)
	go s.runOptimization(ctx, state)

	return &StartResponse{OptimizationID: id, Status: StatusPending}, nil
}

// runOptimization waits for a free slot and executes the search.
func (s *Server) runOptimization(ctx context.Context, state *OptimizationState) {
	defer s.wg.Done()
	defer state.CancelFunc()

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.finish(state, nil, ctx.Err())
		return
	}

	s.optimizationsMu.Lock()
	if state.terminal() {
		s.optimizationsMu.Unlock()
		return
	}
	state.Status = StatusRunning
	state.LastUpdated = time.Now()
	s.optimizationsMu.Unlock()

	result, err := state.Optimizer.Optimize(ctx)
	s.finish(state, result, err)
}

func (s *Server) finish(state *OptimizationState, result *optimization.OptimizationResult, err error) {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	now := time.Now()
	state.LastUpdated = now
	if state.terminal() {
		return
	}
	state.EndTime = &now

	switch {
	case errors.Is(err, context.Canceled):
		state.Status = StatusCancelled
	case err != nil:
		state.Status = StatusFailed
		state.Err = err
		s.logger.Error("Optimization failed", map[string]interface{}{
			"optimization_id": state.ID,
			"error":           err.Error(),
		})
	default:
		state.Status = StatusCompleted
		state.Result = result
		s.logger.Info("Optimization completed", map[string]interface{}{
			"optimization_id": state.ID,
			"best_value":      result.BestSolution.Value,
			"iterations":      result.Iterations,
			"converged":       result.Converged,
		})
	}
}

// optimizationStatus returns a snapshot of the job.
func (s *Server) optimizationStatus(id string) (*StatusResponse, error) {
	if id == "" {
		return nil, optimization.NewConfigurationError("optimization_id is required")
	}

	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, ok := s.optimizations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNotFound, id)
	}

	resp := &StatusResponse{
		OptimizationID: state.ID,
		Status:         state.Status,
		Objective:      state.Objective,
		Method:         state.Method,
		StartTime:      state.StartTime.Format(time.RFC3339),
		LastUpdate:     state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		resp.EndTime = state.EndTime.Format(time.RFC3339)
	}
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}

	if res := state.Result; res != nil {
		resp.Progress = 1
		resp.BestSolution = res.BestSolution
		resp.Iterations = res.Iterations
		resp.Evaluations = res.Evaluations
		resp.Converged = res.Converged
		resp.Duration = res.Duration.String()
		resp.Trace = res.Trace
		resp.Starts = res.Starts
		return resp, nil
	}

	resp.Progress = state.Optimizer.Progress()
	resp.BestSolution = state.Optimizer.GetBestSolution()
	history := state.Optimizer.GetHistory()
	resp.Iterations = len(history)
	for _, eval := range history {
		resp.Starts = append(resp.Starts, eval.Start)
	}
	return resp, nil
}

// cancelOptimization stops a pending or running job.
func (s *Server) cancelOptimization(id string) error {
	if id == "" {
		return optimization.NewConfigurationError("optimization_id is required")
	}

	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, ok := s.optimizations[id]
	if !ok {
		return fmt.Errorf("%w: %s", errNotFound, id)
	}
	if state.terminal() {
		return fmt.Errorf("%w: status %s", errInvalidState, state.Status)
	}

	state.CancelFunc()
	now := time.Now()
	state.Status = StatusCancelled
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})
	return nil
}

func (s *Server) lookupObjective(name string) (objectives.Objective, error) {
	if obj, ok := s.extra[name]; ok {
		return obj, nil
	}
	return objectives.Lookup(name)
}

// objectiveInfos lists the catalogue and any extra objectives, sorted by name.
func (s *Server) objectiveInfos() []ObjectiveInfo {
	var out []ObjectiveInfo
	for _, obj := range objectives.All() {
		if _, replaced := s.extra[obj.Name]; !replaced {
			out = append(out, ObjectiveInfo{Name: obj.Name, Description: obj.Description})
		}
	}
	for _, obj := range s.extra {
		out = append(out, ObjectiveInfo{Name: obj.Name, Description: obj.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close cancels all jobs and waits for their goroutines to return.
func (s *Server) Close() error {
	s.optimizationsMu.RLock()
	for _, state := range s.optimizations {
		state.CancelFunc()
	}
	s.optimizationsMu.RUnlock()

	s.wg.Wait()
	return nil
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, optimization.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]string{"error": err.Error()})
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	resp, err := s.startOptimization(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.optimizationStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelOptimization(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handleObjectives handles GET /api/v1/objectives.
func (s *Server) handleObjectives(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.objectiveInfos())
}
