package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/compare"
	"github.com/openfroyo/parity/pkg/config"
	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/report"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Config configures the HTTP server.
type Config struct {
	Service         string
	Addr            string
	ShutdownTimeout time.Duration

	// MetricsPath is where the metrics handler is served. Defaults to /metrics.
	MetricsPath string
}

// SessionService is the session boundary the API serves.
type SessionService interface {
	Create(ctx context.Context, owner string) (*engine.Session, error)
	Get(ctx context.Context, sessionID string) (*engine.Session, error)
	List(ctx context.Context) ([]*engine.Session, error)
}

// ExecutionService starts and observes runs.
type ExecutionService interface {
	Start(ctx context.Context, req engine.StartRequest) (*engine.TaskInfo, error)
	Status(ctx context.Context, sessionID string) (*engine.StatusReport, error)
	Progress(ctx context.Context, sessionID string) (*engine.ProgressReport, error)
	Executions(ctx context.Context, sessionID string) ([]*engine.Execution, error)
	Execution(ctx context.Context, sessionID, executionID string) (*engine.Execution, error)
	Comparison(ctx context.Context, sessionID, executionID string, step engine.Step) (*compare.Comparison, error)
	Cancel(ctx context.Context, sessionID string) (*engine.TaskInfo, error)
	Task(id string) (*engine.TaskInfo, error)
}

// HierarchyReader exposes the product hierarchy.
type HierarchyReader interface {
	Categories() []config.Category
	Products(category string) ([]config.Product, error)
	Plans(category, product string) ([]config.Plan, error)
	Document() map[string]interface{}
}

// ReadinessCheck is a named dependency probe for /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(context.Context) error
}

// Server serves the parity HTTP API.
type Server struct {
	config     Config
	sessions   SessionService
	executions ExecutionService
	hierarchy  HierarchyReader
	reports    *report.Generator
	metrics    http.Handler
	checks     []ReadinessCheck
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithReadinessChecks adds probes run by /readyz.
func WithReadinessChecks(checks ...ReadinessCheck) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger.With().Str("component", "api").Logger() }
}

// NewServer creates an API server.
func NewServer(
	cfg Config,
	sessions SessionService,
	executions ExecutionService,
	hierarchy HierarchyReader,
	reports *report.Generator,
	opts ...Option,
) *Server {
	if cfg.Service == "" {
		cfg.Service = "parity"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	s := &Server{
		config:     cfg,
		sessions:   sessions,
		executions: executions,
		hierarchy:  hierarchy,
		reports:    reports,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed and wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	if s.metrics != nil {
		mux.Handle("GET "+s.config.MetricsPath, s.metrics)
	}

	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)

	mux.HandleFunc("GET /api/config/categories", s.listCategories)
	mux.HandleFunc("GET /api/config/products/{category}", s.listProducts)
	mux.HandleFunc("GET /api/config/plans/{category}/{product}", s.listPlans)
	mux.HandleFunc("GET /api/config/hierarchy", s.getHierarchy)

	mux.HandleFunc("POST /api/executions/start", s.startExecution)
	mux.HandleFunc("GET /api/executions/{session}/status", s.executionStatus)
	mux.HandleFunc("GET /api/executions/{session}/progress", s.executionProgress)
	mux.HandleFunc("GET /api/executions/{session}/items", s.listExecutions)
	mux.HandleFunc("GET /api/executions/{session}/items/{execution}", s.getExecution)
	mux.HandleFunc("GET /api/executions/{session}/items/{execution}/comparisons/{step}", s.getComparison)
	mux.HandleFunc("POST /api/executions/{session}/cancel", s.cancelExecution)
	mux.HandleFunc("GET /api/tasks/{task}", s.getTask)

	mux.HandleFunc("GET /api/reports/{session}", s.sessionReport)
	mux.HandleFunc("GET /api/reports/{session}/{execution}", s.executionReport)

	return Wrap(s.logger, mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.config.Addr == "" {
		return errors.New("addr is required")
	}
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("service", s.config.Service).Str("addr", s.config.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": s.config.Service,
		"status":  "ok",
	})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	type checkResult struct {
		Name       string `json:"name"`
		Status     string `json:"status"`
		DurationMs int64  `json:"duration_ms"`
		Error      string `json:"error,omitempty"`
	}

	results := make([]checkResult, 0, len(s.checks))
	overallOK := true
	for _, check := range s.checks {
		start := time.Now()
		err := check.Check(r.Context())
		res := checkResult{Name: check.Name, Status: "ok", DurationMs: time.Since(start).Milliseconds()}
		if err != nil {
			overallOK = false
			res.Status = "fail"
			res.Error = err.Error()
		}
		results = append(results, res)
	}

	status, label := http.StatusOK, "ready"
	if !overallOK {
		status, label = http.StatusServiceUnavailable, "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"service": s.config.Service,
		"status":  label,
		"checks":  results,
	})
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return engine.NewConfigurationError("malformed request body", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// Sessions

type createSessionRequest struct {
	Owner string `json:"owner" validate:"required,max=128"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Create(r.Context(), req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Hierarchy

func (s *Server) listCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": s.hierarchy.Categories()})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	products, err := s.hierarchy.Products(category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "products": products})
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	category, product := r.PathValue("category"), r.PathValue("product")
	plans, err := s.hierarchy.Plans(category, product)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "product_id": product, "plans": plans})
}

func (s *Server) getHierarchy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hierarchy.Document())
}

// Executions

func (s *Server) startExecution(w http.ResponseWriter, r *http.Request) {
	var req engine.StartRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.executions.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) executionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.executions.Status(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) executionProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.executions.Progress(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.executions.Executions(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executions.Execution(r.Context(), r.PathValue("session"), r.PathValue("execution"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) getComparison(w http.ResponseWriter, r *http.Request) {
	step, err := engine.ParseStep(r.PathValue("step"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cmp, err := s.executions.Comparison(r.Context(), r.PathValue("session"), r.PathValue("execution"), step)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	info, err := s.executions.Cancel(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	info, err := s.executions.Task(r.PathValue("task"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Reports

func (s *Server) sessionReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.sessions.Get(ctx, r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	execs, err := s.executions.Executions(ctx, sess.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.reports.Session(ctx, sess, execs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) executionReport(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executions.Execution(r.Context(), r.PathValue("session"), r.PathValue("execution"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.reports.Execution(r.Context(), exec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
