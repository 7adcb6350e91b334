package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/compare"
	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/policy"
)

// OverallStatus is the verdict of a report.
type OverallStatus string

const (
	// StatusPassed means no failures and no critical or warning differences.
	StatusPassed OverallStatus = "passed"

	// StatusPassedWithWarnings means no failures or critical differences but
	// some warning differences.
	StatusPassedWithWarnings OverallStatus = "passed_with_warnings"

	// StatusFailed means a step failed or a critical difference was found.
	StatusFailed OverallStatus = "failed"

	// StatusIncomplete means the execution has not finished yet.
	StatusIncomplete OverallStatus = "incomplete"
)

// Issue is a single critical finding.
type Issue struct {
	Severity       compare.Severity `json:"severity"`
	Step           string           `json:"step"`
	Field          string           `json:"field,omitempty"`
	Description    string           `json:"description"`
	Recommendation string           `json:"recommendation"`
}

// StepBreakdown summarizes one step of an execution.
type StepBreakdown struct {
	Step     string           `json:"step"`
	State    engine.StepState `json:"state"`
	Critical int              `json:"critical"`
	Warning  int              `json:"warning"`
	Info     int              `json:"info"`
	Total    int              `json:"total"`
	Issues   []string         `json:"issues,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ExecutionReport is the report of one execution.
type ExecutionReport struct {
	ID               string                 `json:"report_id"`
	SessionID        string                 `json:"session_id"`
	ExecutionID      string                 `json:"execution_id"`
	WorkItem         engine.WorkItem        `json:"work_item"`
	Status           engine.ExecutionStatus `json:"execution_status"`
	OverallStatus    OverallStatus          `json:"overall_status"`
	ExecutiveSummary string                 `json:"executive_summary"`
	Steps            []StepBreakdown        `json:"steps"`
	Summary          compare.Summary        `json:"summary"`
	CriticalIssues   []Issue                `json:"critical_issues"`
	Recommendations  []string               `json:"recommendations"`
	Policy           *policy.Result         `json:"policy,omitempty"`
	GeneratedAt      time.Time              `json:"generated_at"`
}

// SessionReport is the report of every execution of a session.
type SessionReport struct {
	SessionID      string               `json:"session_id"`
	Owner          string               `json:"owner"`
	SessionStatus  engine.SessionStatus `json:"session_status"`
	Total          int                  `json:"total_executions"`
	Completed      int                  `json:"completed_executions"`
	Failed         int                  `json:"failed_executions"`
	Pending        int                  `json:"pending_executions"`
	OverallStatus  OverallStatus        `json:"overall_status"`
	CriticalIssues int                  `json:"critical_issues_count"`
	Warnings       int                  `json:"warnings_count"`
	Summary        string               `json:"summary"`
	Executions     []*ExecutionReport   `json:"executions"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// PolicyEvaluator evaluates gate policies for an execution.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input *policy.Input) (*policy.Result, error)
}

// Generator builds reports.
type Generator struct {
	policies PolicyEvaluator
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithPolicies attaches a policy verdict to every finished execution report.
func WithPolicies(p PolicyEvaluator) Option {
	return func(g *Generator) { g.policies = p }
}

// WithClock sets the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithLogger sets the generator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Generator) { g.logger = logger.With().Str("component", "report").Logger() }
}

// NewGenerator creates a report generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execution builds the report of one execution.
func (g *Generator) Execution(ctx context.Context, exec *engine.Execution) (*ExecutionReport, error) {
	r := &ExecutionReport{
		ID:              "rpt_" + exec.ID,
		SessionID:       exec.SessionID,
		ExecutionID:     exec.ID,
		WorkItem:        exec.WorkItem,
		Status:          exec.Status,
		Summary:         exec.Summary,
		Steps:           make([]StepBreakdown, 0, len(engine.Steps())),
		CriticalIssues:  []Issue{},
		Recommendations: []string{},
		GeneratedAt:     g.now(),
	}

	states := engine.StepStates(exec)
	for _, step := range engine.Steps() {
		b := StepBreakdown{Step: step.String(), State: states[step]}
		for _, rec := range exec.Steps {
			if rec.Step == step && !rec.Succeeded() && b.Error == "" {
				b.Error = fmt.Sprintf("%s call failed with status %d: %s", rec.Environment, rec.StatusCode, rec.Error)
			}
		}
		if cmp := exec.Comparison(step); cmp != nil {
			b.Critical = cmp.Summary.Critical
			b.Warning = cmp.Summary.Warning
			b.Info = cmp.Summary.Info
			b.Total = cmp.Summary.Total
			for _, d := range cmp.Differences {
				switch d.Severity {
				case compare.SeverityCritical:
					b.Issues = append(b.Issues, "[CRITICAL] "+d.Description)
					r.CriticalIssues = append(r.CriticalIssues, Issue{
						Severity:       compare.SeverityCritical,
						Step:           step.String(),
						Field:          d.Field,
						Description:    d.Description,
						Recommendation: "Investigate and fix the data mismatch",
					})
				case compare.SeverityWarning:
					b.Issues = append(b.Issues, "[WARNING] "+d.Description)
				}
			}
		}
		r.Steps = append(r.Steps, b)
	}

	r.OverallStatus = overallStatus(exec)
	r.ExecutiveSummary = executiveSummary(exec)
	r.Recommendations = recommendations(exec)

	if g.policies != nil && exec.Status.IsTerminal() {
		verdict, err := g.policies.Evaluate(ctx, policy.NewInput(exec))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate policies: %w", err)
		}
		r.Policy = verdict
		if !verdict.Allowed && r.OverallStatus != StatusFailed {
			r.OverallStatus = StatusFailed
			r.Recommendations = append(r.Recommendations, "Resolve gate policy violations before promoting the build")
		}
	}

	return r, nil
}

// Session builds the report of a session from its executions.
func (g *Generator) Session(ctx context.Context, sess *engine.Session, execs []*engine.Execution) (*SessionReport, error) {
	r := &SessionReport{
		SessionID:     sess.ID,
		Owner:         sess.Owner,
		SessionStatus: sess.Status,
		Total:         len(execs),
		Executions:    make([]*ExecutionReport, 0, len(execs)),
		GeneratedAt:   g.now(),
	}

	anyWarnings := false
	for _, exec := range execs {
		er, err := g.Execution(ctx, exec)
		if err != nil {
			return nil, err
		}
		r.Executions = append(r.Executions, er)

		switch exec.Status {
		case engine.ExecutionStatusCompleted:
			r.Completed++
		case engine.ExecutionStatusCompletedWithFailures, engine.ExecutionStatusFailed:
			r.Failed++
		default:
			r.Pending++
		}
		r.CriticalIssues += len(er.CriticalIssues)
		r.Warnings += exec.Summary.Warning
		if er.OverallStatus == StatusPassedWithWarnings {
			anyWarnings = true
		}
		if er.OverallStatus == StatusFailed {
			r.OverallStatus = StatusFailed
		}
	}

	switch {
	case r.OverallStatus == StatusFailed || r.Failed > 0 || r.CriticalIssues > 0:
		r.OverallStatus = StatusFailed
	case r.Pending > 0:
		r.OverallStatus = StatusIncomplete
	case anyWarnings || r.Warnings > 0:
		r.OverallStatus = StatusPassedWithWarnings
	default:
		r.OverallStatus = StatusPassed
	}
	r.Summary = sessionSummary(r)

	g.logger.Debug().
		Str("session_id", sess.ID).
		Str("overall_status", string(r.OverallStatus)).
		Int("executions", r.Total).
		Msg("Session report generated")

	return r, nil
}

func overallStatus(exec *engine.Execution) OverallStatus {
	switch {
	case !exec.Status.IsTerminal():
		return StatusIncomplete
	case exec.Status == engine.ExecutionStatusFailed, exec.HasFailures, exec.Summary.Critical > 0:
		return StatusFailed
	case exec.Summary.Warning > 0:
		return StatusPassedWithWarnings
	default:
		return StatusPassed
	}
}

func executiveSummary(exec *engine.Execution) string {
	s := exec.Summary
	switch {
	case !exec.Status.IsTerminal():
		return fmt.Sprintf("Execution is %s. The report covers the steps compared so far.", exec.Status)
	case s.Critical > 0:
		return fmt.Sprintf("Execution completed with %d critical issues. Immediate attention required before deployment to production.", s.Critical)
	case s.Warning > 0:
		return fmt.Sprintf("Execution completed with %d warnings. Review recommended but no blocking issues.", s.Warning)
	case exec.HasFailures || exec.Status == engine.ExecutionStatusFailed:
		failed := "an internal error"
		if exec.FailedStep != nil {
			failed = exec.FailedStep.String()
		}
		return fmt.Sprintf("Execution stopped at %s. Remaining steps could not be compared.", failed)
	default:
		return fmt.Sprintf("Execution completed successfully with %d informational differences. No blocking issues detected.", s.Info)
	}
}

func recommendations(exec *engine.Execution) []string {
	var out []string
	if exec.Summary.Critical > 0 {
		out = append(out, "Review and fix critical field mismatches before deployment")
	} else {
		out = append(out, "No critical issues found. Minor differences may be acceptable.")
	}
	if exec.Summary.Warning > 0 {
		out = append(out, "Review warning-level differences for potential type changes")
	}
	if exec.HasFailures {
		out = append(out, "Investigate failed step calls in the target environment logs")
	}
	return out
}

func sessionSummary(r *SessionReport) string {
	switch {
	case r.CriticalIssues > 0:
		return fmt.Sprintf("Session has %d critical issues across %d executions. Review and fix before production deployment.", r.CriticalIssues, r.Total)
	case r.Failed > 0:
		return fmt.Sprintf("Session has %d failed executions. Investigate failures before proceeding.", r.Failed)
	case r.Pending > 0:
		return fmt.Sprintf("Session has %d of %d executions still pending.", r.Pending, r.Total)
	case r.Warnings > 0:
		return fmt.Sprintf("All %d executions passed with %d warnings.", r.Total, r.Warnings)
	default:
		return fmt.Sprintf("All %d executions passed. Ready for production deployment.", r.Total)
	}
}
