package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/compare"
	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/policy"
)

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func finishedExecution(id string, diffs map[engine.Step][]compare.Difference) *engine.Execution {
	exec := &engine.Execution{
		ID:        id,
		SessionID: "sess_1",
		WorkItem:  engine.WorkItem{Category: "MV4", Product: "TOKIO_MARINE", Plan: "COMPREHENSIVE", TargetEnvironment: "DEV"},
		Status:    engine.ExecutionStatusCompleted,
	}
	for _, step := range engine.Steps() {
		for _, role := range []engine.Environment{engine.EnvironmentTarget, engine.EnvironmentStaging} {
			exec.Steps = append(exec.Steps, engine.StepRecord{Step: step, Environment: role, Outcome: engine.StepOutcomeSuccess, StatusCode: 200})
		}
		cmp := &compare.Comparison{Step: step.String(), Differences: diffs[step]}
		for _, d := range diffs[step] {
			cmp.Summary.Add(d.Severity)
		}
		exec.Comparisons = append(exec.Comparisons, cmp)
		exec.Summary.Merge(cmp.Summary)
	}
	return exec
}

func failedExecution(id string) *engine.Execution {
	exec := finishedExecution(id, nil)
	step := engine.StepPaymentCheckout
	exec.Status = engine.ExecutionStatusCompletedWithFailures
	exec.Policy = engine.FailurePolicyFailFast
	exec.HasFailures = true
	exec.FailedStep = &step
	exec.Steps = append(exec.Steps[:4], engine.StepRecord{
		Step:        step,
		Environment: engine.EnvironmentTarget,
		Outcome:     engine.StepOutcomeFailure,
		StatusCode:  500,
		Error:       "gateway down",
	})
	exec.Comparisons = exec.Comparisons[:2]
	return exec
}

func critical(field string) compare.Difference {
	return compare.Difference{Field: field, Severity: compare.SeverityCritical, Description: field + " differs"}
}

func warning(field string) compare.Difference {
	return compare.Difference{Field: field, Severity: compare.SeverityWarning, Description: field + " type differs"}
}

func TestExecutionReport(t *testing.T) {
	tests := []struct {
		name        string
		exec        *engine.Execution
		wantStatus  OverallStatus
		wantSummary string
		wantIssues  int
		wantRecs    int
	}{
		{
			name:        "clean",
			exec:        finishedExecution("e1", nil),
			wantStatus:  StatusPassed,
			wantSummary: "completed successfully",
			wantRecs:    1,
		},
		{
			name: "critical",
			exec: finishedExecution("e2", map[engine.Step][]compare.Difference{
				engine.StepApplicationSubmit: {critical("premium"), warning("premium_type")},
			}),
			wantStatus:  StatusFailed,
			wantSummary: "1 critical issues",
			wantIssues:  1,
			wantRecs:    2,
		},
		{
			name: "warnings",
			exec: finishedExecution("e3", map[engine.Step][]compare.Difference{
				engine.StepAdminPolicyDetails: {warning("plan_type")},
			}),
			wantStatus:  StatusPassedWithWarnings,
			wantSummary: "1 warnings",
			wantRecs:    2,
		},
		{
			name:        "failed step",
			exec:        failedExecution("e4"),
			wantStatus:  StatusFailed,
			wantSummary: "stopped at payment_checkout",
			wantRecs:    2,
		},
	}

	g := NewGenerator(WithClock(func() time.Time { return fixedNow }), WithLogger(zerolog.Nop()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := g.Execution(context.Background(), tt.exec)
			if err != nil {
				t.Fatalf("Execution() error = %v", err)
			}
			if r.ID != "rpt_"+tt.exec.ID {
				t.Errorf("ID = %q", r.ID)
			}
			if r.OverallStatus != tt.wantStatus {
				t.Errorf("OverallStatus = %s, want %s", r.OverallStatus, tt.wantStatus)
			}
			if !strings.Contains(r.ExecutiveSummary, tt.wantSummary) {
				t.Errorf("ExecutiveSummary = %q, want containing %q", r.ExecutiveSummary, tt.wantSummary)
			}
			if len(r.CriticalIssues) != tt.wantIssues {
				t.Errorf("CriticalIssues = %d, want %d", len(r.CriticalIssues), tt.wantIssues)
			}
			if len(r.Recommendations) != tt.wantRecs {
				t.Errorf("Recommendations = %v, want %d", r.Recommendations, tt.wantRecs)
			}
			if len(r.Steps) != 7 {
				t.Errorf("Steps = %d, want 7", len(r.Steps))
			}
			if !r.GeneratedAt.Equal(fixedNow) {
				t.Errorf("GeneratedAt = %v", r.GeneratedAt)
			}
		})
	}
}

func TestExecutionReportStepBreakdown(t *testing.T) {
	g := NewGenerator()
	r, err := g.Execution(context.Background(), failedExecution("e1"))
	if err != nil {
		t.Fatalf("Execution() error = %v", err)
	}

	want := map[string]engine.StepState{
		"application_submit":      engine.StepStateSucceed,
		"apply_coupon":            engine.StepStateSucceed,
		"payment_checkout":        engine.StepStateFailed,
		"admin_policy_list":       engine.StepStateCanNotProceed,
		"customer_policy_details": engine.StepStateCanNotProceed,
	}
	for _, b := range r.Steps {
		if state, ok := want[b.Step]; ok && b.State != state {
			t.Errorf("%s state = %s, want %s", b.Step, b.State, state)
		}
		if b.Step == "payment_checkout" && !strings.Contains(b.Error, "500") {
			t.Errorf("payment_checkout error = %q", b.Error)
		}
	}
}

func TestExecutionReportIssueLabels(t *testing.T) {
	g := NewGenerator()
	exec := finishedExecution("e1", map[engine.Step][]compare.Difference{
		engine.StepApplyCoupon: {critical("premium"), warning("coverage_type"), {Field: "note", Severity: compare.SeverityInfo}},
	})
	r, err := g.Execution(context.Background(), exec)
	if err != nil {
		t.Fatalf("Execution() error = %v", err)
	}
	b := r.Steps[1]
	if b.Critical != 1 || b.Warning != 1 || b.Info != 1 || b.Total != 3 {
		t.Errorf("counts = %+v", b)
	}
	if len(b.Issues) != 2 || !strings.HasPrefix(b.Issues[0], "[CRITICAL]") || !strings.HasPrefix(b.Issues[1], "[WARNING]") {
		t.Errorf("Issues = %v", b.Issues)
	}
	if r.CriticalIssues[0].Field != "premium" || r.CriticalIssues[0].Step != "apply_coupon" {
		t.Errorf("CriticalIssues[0] = %+v", r.CriticalIssues[0])
	}
}

type stubPolicies struct {
	result *policy.Result
	err    error
	calls  int
}

func (s *stubPolicies) Evaluate(context.Context, *policy.Input) (*policy.Result, error) {
	s.calls++
	return s.result, s.err
}

func TestExecutionReportPolicyVerdict(t *testing.T) {
	blocked := &stubPolicies{result: &policy.Result{
		Allowed:    false,
		Violations: []policy.Violation{{Policy: "dev-only", Severity: policy.SeverityError}},
	}}
	g := NewGenerator(WithPolicies(blocked))

	r, err := g.Execution(context.Background(), finishedExecution("e1", nil))
	if err != nil {
		t.Fatalf("Execution() error = %v", err)
	}
	if r.Policy == nil || r.Policy.Allowed {
		t.Fatalf("Policy = %+v, want blocked verdict", r.Policy)
	}
	if r.OverallStatus != StatusFailed {
		t.Errorf("OverallStatus = %s, want failed", r.OverallStatus)
	}

	// unfinished executions are not evaluated
	running := finishedExecution("e2", nil)
	running.Status = engine.ExecutionStatusInProgress
	r, err = g.Execution(context.Background(), running)
	if err != nil {
		t.Fatalf("Execution() error = %v", err)
	}
	if r.Policy != nil || blocked.calls != 1 {
		t.Errorf("in-progress execution evaluated: calls=%d", blocked.calls)
	}
	if r.OverallStatus != StatusIncomplete {
		t.Errorf("OverallStatus = %s, want incomplete", r.OverallStatus)
	}

	failing := NewGenerator(WithPolicies(&stubPolicies{err: errors.New("boom")}))
	if _, err := failing.Execution(context.Background(), finishedExecution("e3", nil)); err == nil {
		t.Error("policy error should propagate")
	}
}

func TestSessionReport(t *testing.T) {
	sess := &engine.Session{ID: "sess_1", Owner: "qa", Status: engine.SessionStatusCompleted}
	pending := &engine.Execution{ID: "e5", SessionID: "sess_1", Status: engine.ExecutionStatusPending}

	tests := []struct {
		name          string
		execs         []*engine.Execution
		wantStatus    OverallStatus
		wantCompleted int
		wantFailed    int
		wantCritical  int
		wantWarnings  int
		wantSummary   string
	}{
		{
			name:          "all passed",
			execs:         []*engine.Execution{finishedExecution("e1", nil), finishedExecution("e2", nil)},
			wantStatus:    StatusPassed,
			wantCompleted: 2,
			wantSummary:   "All 2 executions passed",
		},
		{
			name: "warnings",
			execs: []*engine.Execution{
				finishedExecution("e1", nil),
				finishedExecution("e2", map[engine.Step][]compare.Difference{engine.StepApplyCoupon: {warning("a"), warning("b")}}),
			},
			wantStatus:    StatusPassedWithWarnings,
			wantCompleted: 2,
			wantWarnings:  2,
			wantSummary:   "with 2 warnings",
		},
		{
			name: "critical",
			execs: []*engine.Execution{
				finishedExecution("e1", map[engine.Step][]compare.Difference{engine.StepApplyCoupon: {critical("premium")}}),
			},
			wantStatus:    StatusFailed,
			wantCompleted: 1,
			wantCritical:  1,
			wantSummary:   "1 critical issues",
		},
		{
			name:          "failure",
			execs:         []*engine.Execution{finishedExecution("e1", nil), failedExecution("e2")},
			wantStatus:    StatusFailed,
			wantCompleted: 1,
			wantFailed:    1,
			wantSummary:   "1 failed executions",
		},
		{
			name:          "pending",
			execs:         []*engine.Execution{finishedExecution("e1", nil), pending},
			wantStatus:    StatusIncomplete,
			wantCompleted: 1,
			wantSummary:   "1 of 2 executions still pending",
		},
	}

	g := NewGenerator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := g.Session(context.Background(), sess, tt.execs)
			if err != nil {
				t.Fatalf("Session() error = %v", err)
			}
			if r.OverallStatus != tt.wantStatus {
				t.Errorf("OverallStatus = %s, want %s", r.OverallStatus, tt.wantStatus)
			}
			if r.Total != len(tt.execs) || r.Completed != tt.wantCompleted || r.Failed != tt.wantFailed {
				t.Errorf("counts total=%d completed=%d failed=%d", r.Total, r.Completed, r.Failed)
			}
			if r.CriticalIssues != tt.wantCritical || r.Warnings != tt.wantWarnings {
				t.Errorf("critical=%d warnings=%d", r.CriticalIssues, r.Warnings)
			}
			if !strings.Contains(r.Summary, tt.wantSummary) {
				t.Errorf("Summary = %q, want containing %q", r.Summary, tt.wantSummary)
			}
			if len(r.Executions) != len(tt.execs) {
				t.Errorf("Executions = %d", len(r.Executions))
			}
		})
	}
}
