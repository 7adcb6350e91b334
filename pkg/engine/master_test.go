package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Mock session tracker for testing
type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	statuses []SessionStatus
	addErr   error
}

func newMemorySessions(ids ...string) *memorySessions {
	m := &memorySessions{sessions: make(map[string]*Session)}
	for _, id := range ids {
		m.sessions[id] = &Session{ID: id, Owner: "tester", Status: SessionStatusActive, CreatedAt: time.Now()}
	}
	return m
}

func (m *memorySessions) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, NewConfigurationError("session not found", nil).WithCode(ErrCodeNotFound).WithResource(id)
	}
	cp := *s
	cp.Executions = append([]ExecutionRef(nil), s.Executions...)
	return &cp, nil
}

func (m *memorySessions) AddExecution(ctx context.Context, id string, ref ExecutionRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return NewConfigurationError("session not found", nil).WithCode(ErrCodeNotFound)
	}
	s.Executions = append(s.Executions, ref)
	return nil
}

func (m *memorySessions) SetStatus(ctx context.Context, id string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Status = status
	}
	m.statuses = append(m.statuses, status)
	return nil
}

func testItems() []WorkItem {
	return []WorkItem{
		{Category: "MV4", Product: "TOKIO_MARINE", Plan: "COMPREHENSIVE", TargetEnvironment: "DEV"},
		{Category: "MV4", Product: "TOKIO_MARINE", Plan: "THIRD_PARTY", TargetEnvironment: "DEV"},
		{Category: "MV4", Product: "ALLIANZ", Plan: "COMPREHENSIVE", TargetEnvironment: "DEV"},
	}
}

// failingPlanExecutor fails payment_checkout in the target environment for one plan.
type failingPlanExecutor struct {
	*mockExecutor
	plan      string
	panicPlan string
}

func (f *failingPlanExecutor) Execute(ctx context.Context, req *StepRequest) (*StepResult, error) {
	if req.WorkItem.Plan == f.panicPlan && req.Step == StepApplyCoupon {
		panic("adapter crashed")
	}
	if req.WorkItem.Plan == f.plan && req.Step == StepPaymentCheckout && req.Role == EnvironmentTarget {
		return &StepResult{Success: false, StatusCode: 500, Error: "payment gateway down"}, nil
	}
	return f.mockExecutor.Execute(ctx, req)
}

func TestMasterRunsItemsSequentially(t *testing.T) {
	executor := &failingPlanExecutor{mockExecutor: newMockExecutor(), plan: "THIRD_PARTY"}
	store := newMemoryStore()
	sessions := newMemorySessions("sess_1")

	o := newTestOrchestrator(t, executor, store, FailurePolicyFailFast)
	m := NewMaster(o, sessions, testLogger())

	summary := m.Run(context.Background(), "sess_1", testItems())

	if summary.Total != 3 || summary.Successful != 2 || summary.Failed != 1 {
		t.Errorf("Unexpected summary: total=%d successful=%d failed=%d",
			summary.Total, summary.Successful, summary.Failed)
	}
	if summary.Cancelled {
		t.Error("Expected run not to be cancelled")
	}
	if len(summary.Items) != 3 {
		t.Fatalf("Expected 3 item results, got %d", len(summary.Items))
	}
	if summary.Items[1].Status != ExecutionStatusCompletedWithFailures || !summary.Items[1].HasFailures {
		t.Errorf("Expected second item to complete with failures, got %+v", summary.Items[1])
	}

	// calls never interleave across items
	var plans []string
	for _, c := range executor.calls {
		if len(plans) == 0 || plans[len(plans)-1] != c.WorkItem.Key() {
			plans = append(plans, c.WorkItem.Key())
		}
	}
	if len(plans) != 3 {
		t.Errorf("Expected 3 contiguous call groups, got %v", plans)
	}

	sess, _ := sessions.Get(context.Background(), "sess_1")
	if len(sess.Executions) != 3 {
		t.Errorf("Expected 3 registered executions, got %d", len(sess.Executions))
	}
	if sess.Status != SessionStatusCompleted {
		t.Errorf("Expected session completed, got %s", sess.Status)
	}
	if sessions.statuses[0] != SessionStatusRunning {
		t.Errorf("Expected running status first, got %v", sessions.statuses)
	}
	for _, ref := range sess.Executions {
		if _, found, _ := store.ReadSnapshot(context.Background(), ref.ProgressKey); !found {
			t.Errorf("Expected snapshot for %s", ref.ProgressKey)
		}
	}
}

func TestMasterIsolatesPanics(t *testing.T) {
	executor := &failingPlanExecutor{mockExecutor: newMockExecutor(), panicPlan: "COMPREHENSIVE"}
	sessions := newMemorySessions("sess_1")

	o := newTestOrchestrator(t, executor, newMemoryStore(), FailurePolicyFailFast)
	m := NewMaster(o, sessions, testLogger())

	summary := m.Run(context.Background(), "sess_1", testItems())

	// the two COMPREHENSIVE items panic, THIRD_PARTY still runs
	if summary.Successful != 1 || summary.Failed != 2 {
		t.Errorf("Expected 1 successful and 2 failed, got %d/%d", summary.Successful, summary.Failed)
	}
	for _, item := range summary.Items {
		if item.WorkItem.Plan == "COMPREHENSIVE" {
			if item.Status != ExecutionStatusFailed || item.Error == "" {
				t.Errorf("Expected failed item with error, got %+v", item)
			}
		}
	}
}

func TestMasterCancellationSkipsRemainingItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := newMockExecutor()
	sessions := newMemorySessions("sess_1")
	o := newTestOrchestrator(t, StepExecutorFunc(func(c context.Context, req *StepRequest) (*StepResult, error) {
		if req.Step == StepCustomerPolicyDetails && req.Role == EnvironmentStaging {
			cancel()
		}
		return executor.Execute(c, req)
	}), newMemoryStore(), FailurePolicyFailFast)
	m := NewMaster(o, sessions, testLogger())

	summary := m.Run(ctx, "sess_1", testItems())

	if !summary.Cancelled {
		t.Error("Expected cancelled summary")
	}
	if summary.Skipped != 2 {
		t.Errorf("Expected 2 skipped items, got %d", summary.Skipped)
	}
	sess, _ := sessions.Get(context.Background(), "sess_1")
	if sess.Status != SessionStatusCancelled {
		t.Errorf("Expected session cancelled, got %s", sess.Status)
	}
}

func TestMasterContinuesWhenRegistrationFails(t *testing.T) {
	sessions := newMemorySessions("sess_1")
	sessions.addErr = NewPersistenceError("registry unavailable", nil)

	o := newTestOrchestrator(t, newMockExecutor(), newMemoryStore(), FailurePolicyFailFast)
	m := NewMaster(o, sessions, testLogger())

	summary := m.Run(context.Background(), "sess_1", testItems()[:1])
	if summary.Successful != 1 {
		t.Errorf("Expected item to run despite registration failure, got %+v", summary)
	}
}
