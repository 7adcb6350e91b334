package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/compare"
	"github.com/openfroyo/parity/pkg/config"
	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/report"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*engine.Session
	next     int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*engine.Session)}
}

func (f *fakeSessions) Create(_ context.Context, owner string) (*engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	sess := &engine.Session{
		ID:        "sess_" + string(rune('0'+f.next)),
		Owner:     owner,
		Status:    engine.SessionStatusActive,
		CreatedAt: time.Now(),
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (*engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, engine.NewConfigurationError("session not found", nil).
			WithCode(engine.ErrCodeNotFound).WithResource(id)
	}
	return sess, nil
}

func (f *fakeSessions) List(context.Context) ([]*engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*engine.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

type fakeExecutions struct {
	mu       sync.Mutex
	started  []engine.StartRequest
	startErr error
	execs    map[string]*engine.Execution
}

func (f *fakeExecutions) Start(_ context.Context, req engine.StartRequest) (*engine.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	return &engine.TaskInfo{ID: "task_1", SessionID: req.SessionID, State: engine.TaskStateQueued, WorkItems: 2}, nil
}

func (f *fakeExecutions) Status(_ context.Context, sid string) (*engine.StatusReport, error) {
	return &engine.StatusReport{SessionID: sid, Total: len(f.execs), Counts: map[engine.ExecutionStatus]int{
		engine.ExecutionStatusCompleted: len(f.execs),
	}}, nil
}

func (f *fakeExecutions) Progress(_ context.Context, sid string) (*engine.ProgressReport, error) {
	return &engine.ProgressReport{SessionID: sid, Executions: map[string]map[string]engine.StepState{}}, nil
}

func (f *fakeExecutions) Executions(context.Context, string) ([]*engine.Execution, error) {
	out := make([]*engine.Execution, 0, len(f.execs))
	for _, e := range f.execs {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeExecutions) Execution(_ context.Context, _, id string) (*engine.Execution, error) {
	exec, ok := f.execs[id]
	if !ok {
		return nil, engine.NewConfigurationError("execution not found", nil).WithCode(engine.ErrCodeNotFound)
	}
	return exec, nil
}

func (f *fakeExecutions) Comparison(_ context.Context, sid, id string, step engine.Step) (*compare.Comparison, error) {
	exec, err := f.Execution(context.Background(), sid, id)
	if err != nil {
		return nil, err
	}
	cmp := exec.Comparison(step)
	if cmp == nil {
		return nil, engine.NewConfigurationError("comparison not found", nil).WithCode(engine.ErrCodeNotFound)
	}
	return cmp, nil
}

func (f *fakeExecutions) Cancel(_ context.Context, sid string) (*engine.TaskInfo, error) {
	return &engine.TaskInfo{ID: "task_1", SessionID: sid, State: engine.TaskStateCancelled}, nil
}

func (f *fakeExecutions) Task(id string) (*engine.TaskInfo, error) {
	if id != "task_1" {
		return nil, engine.NewConfigurationError("task not found", nil).WithCode(engine.ErrCodeNotFound)
	}
	return &engine.TaskInfo{ID: id, State: engine.TaskStateRunning}, nil
}

type fakeHierarchy struct{}

func (fakeHierarchy) Categories() []config.Category {
	return []config.Category{{ID: "MV4", Name: "MV4"}}
}

func (fakeHierarchy) Products(category string) ([]config.Product, error) {
	if category != "MV4" {
		return nil, engine.NewConfigurationError("unknown category", nil).WithCode(engine.ErrCodeNotFound)
	}
	return []config.Product{{ID: "TOKIO_MARINE", Name: "TOKIO_MARINE"}}, nil
}

func (fakeHierarchy) Plans(category, product string) ([]config.Plan, error) {
	if category != "MV4" || product != "TOKIO_MARINE" {
		return nil, engine.NewConfigurationError("unknown product", nil).WithCode(engine.ErrCodeNotFound)
	}
	return []config.Plan{{ID: "COMPREHENSIVE", Name: "COMPREHENSIVE"}}, nil
}

func (fakeHierarchy) Document() map[string]interface{} {
	return map[string]interface{}{"MV4": map[string]interface{}{"TOKIO_MARINE": []string{"COMPREHENSIVE"}}}
}

func completedExecution() *engine.Execution {
	exec := &engine.Execution{ID: "exec_1", SessionID: "sess_1", Status: engine.ExecutionStatusCompleted}
	for _, step := range engine.Steps() {
		exec.Comparisons = append(exec.Comparisons, &compare.Comparison{Step: step.String()})
	}
	return exec
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakeSessions, *fakeExecutions) {
	t.Helper()
	sessions := newFakeSessions()
	execs := &fakeExecutions{execs: map[string]*engine.Execution{"exec_1": completedExecution()}}
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	srv := NewServer(Config{Service: "parity-test"}, sessions, execs, fakeHierarchy{}, report.NewGenerator(), opts...)
	return srv, sessions, execs
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func TestRoutes(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	if _, err := sessions.Create(context.Background(), "qa"); err != nil {
		t.Fatal(err)
	}
	h := srv.Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK, `"status":"ok"`},
		{"list sessions", http.MethodGet, "/api/sessions", "", http.StatusOK, `"owner":"qa"`},
		{"get session", http.MethodGet, "/api/sessions/sess_1", "", http.StatusOK, `"id":"sess_1"`},
		{"missing session", http.MethodGet, "/api/sessions/nope", "", http.StatusNotFound, `"NOT_FOUND"`},
		{"categories", http.MethodGet, "/api/config/categories", "", http.StatusOK, `"category_id":"MV4"`},
		{"products", http.MethodGet, "/api/config/products/MV4", "", http.StatusOK, `"product_id":"TOKIO_MARINE"`},
		{"unknown category", http.MethodGet, "/api/config/products/XX", "", http.StatusNotFound, `"NOT_FOUND"`},
		{"plans", http.MethodGet, "/api/config/plans/MV4/TOKIO_MARINE", "", http.StatusOK, `"plan_id":"COMPREHENSIVE"`},
		{"hierarchy", http.MethodGet, "/api/config/hierarchy", "", http.StatusOK, `"MV4"`},
		{"status", http.MethodGet, "/api/executions/sess_1/status", "", http.StatusOK, `"total":1`},
		{"progress", http.MethodGet, "/api/executions/sess_1/progress", "", http.StatusOK, `"session_id":"sess_1"`},
		{"items", http.MethodGet, "/api/executions/sess_1/items", "", http.StatusOK, `"exec_1"`},
		{"item", http.MethodGet, "/api/executions/sess_1/items/exec_1", "", http.StatusOK, `"exec_1"`},
		{"comparison", http.MethodGet, "/api/executions/sess_1/items/exec_1/comparisons/apply_coupon", "", http.StatusOK, `"apply_coupon"`},
		{"unknown step", http.MethodGet, "/api/executions/sess_1/items/exec_1/comparisons/bogus", "", http.StatusNotFound, `"NOT_FOUND"`},
		{"cancel", http.MethodPost, "/api/executions/sess_1/cancel", "", http.StatusAccepted, `"cancelled"`},
		{"task", http.MethodGet, "/api/tasks/task_1", "", http.StatusOK, `"running"`},
		{"missing task", http.MethodGet, "/api/tasks/task_9", "", http.StatusNotFound, `"NOT_FOUND"`},
		{"session report", http.MethodGet, "/api/reports/sess_1", "", http.StatusOK, `"overall_status":"passed"`},
		{"execution report", http.MethodGet, "/api/reports/sess_1/exec_1", "", http.StatusOK, `"report_id":"rpt_exec_1"`},
		{"wrong method", http.MethodDelete, "/api/sessions", "", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want containing %s", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get(RequestIDHeader) == "" {
				t.Error("missing request id header")
			}
		})
	}
}

func TestCreateSession(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/sessions", `{"owner":"qa-team"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var sess engine.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	if sess.Owner != "qa-team" || len(sessions.sessions) != 1 {
		t.Errorf("session = %+v", sess)
	}

	tests := []struct {
		name string
		body string
	}{
		{"missing owner", `{}`},
		{"malformed", `{"owner":`},
		{"unknown field", `{"owner":"a","extra":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/sessions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if detail := decodeError(t, rec); detail.Code != engine.ErrCodeValidation {
				t.Errorf("code = %s", detail.Code)
			}
		})
	}

	detail := decodeError(t, do(t, h, http.MethodPost, "/api/sessions", `{}`))
	if fields, ok := detail.Details["fields"].(map[string]interface{}); !ok || fields["Owner"] != "required" {
		t.Errorf("details = %v", detail.Details)
	}
}

func TestStartExecution(t *testing.T) {
	srv, _, execs := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/executions/start", `{"session_id":"sess_1","categories":["MV4"],"target_environment":"SIT"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"task_id":"task_1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if len(execs.started) != 1 || execs.started[0].TargetEnvironment != "SIT" || execs.started[0].Categories[0] != "MV4" {
		t.Errorf("started = %+v", execs.started)
	}

	if rec := do(t, h, http.MethodPost, "/api/executions/start", `{"categories":["MV4"]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing session_id status = %d", rec.Code)
	}
}

func TestStartExecutionErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"no combinations", engine.NewConfigurationError("nothing to run", nil).WithCode(engine.ErrCodeNoCombinations), http.StatusUnprocessableEntity, engine.ErrCodeNoCombinations},
		{"already running", engine.NewConfigurationError("busy", nil).WithCode(engine.ErrCodeAlreadyRunning), http.StatusConflict, engine.ErrCodeAlreadyRunning},
		{"queue full", engine.NewInternalError("queue full", nil).WithCode(engine.ErrCodeQueueFull), http.StatusServiceUnavailable, engine.ErrCodeQueueFull},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, engine.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, execs := newTestServer(t)
			execs.startErr = tt.err
			rec := do(t, srv.Handler(), http.MethodPost, "/api/executions/start", `{"session_id":"sess_1"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			detail := decodeError(t, rec)
			if detail.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", detail.Code, tt.wantCode)
			}
			if detail.RequestID == "" {
				t.Error("missing request id")
			}
			if tt.wantStatus == http.StatusInternalServerError && strings.Contains(detail.Message, "disk") {
				t.Errorf("internal message leaked: %q", detail.Message)
			}
		})
	}
}

func TestReadyz(t *testing.T) {
	healthy := ReadinessCheck{Name: "registry", Check: func(context.Context) error { return nil }}
	broken := ReadinessCheck{Name: "progress", Check: func(context.Context) error { return errors.New("unreachable") }}

	srv, _, _ := newTestServer(t, WithReadinessChecks(healthy))
	if rec := do(t, srv.Handler(), http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	srv, _, _ = newTestServer(t, WithReadinessChecks(healthy, broken))
	rec := do(t, srv.Handler(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unreachable") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if rec := do(t, srv.Handler(), http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without handler status = %d", rec.Code)
	}

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("parity_up 1\n"))
	})
	srv, _, _ = newTestServer(t, WithMetricsHandler(metrics))
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "parity_up") {
		t.Errorf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := Wrap(logger, panicky)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Errorf("request id = %q", rec.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(buf.String(), "panic recovered") || !strings.Contains(buf.String(), "req-42") {
		t.Errorf("log = %s", buf.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.NewConfigurationError("x", nil).WithCode(engine.ErrCodeNotFound), http.StatusNotFound},
		{engine.NewConfigurationError("x", nil), http.StatusBadRequest},
		{engine.NewPersistenceError("x", nil), http.StatusInternalServerError},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRunRequiresAddr(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if err := srv.Run(context.Background()); err == nil {
		t.Error("Run() without addr should fail")
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	sessions := newFakeSessions()
	srv := NewServer(Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, sessions, &fakeExecutions{}, fakeHierarchy{}, report.NewGenerator())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
