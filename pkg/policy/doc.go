// Package policy evaluates gate policies written in Rego against finished
// executions.
//
// Every policy is a Rego v1 module whose package defines a deny set. A deny
// value is either a message string or an object with message, severity and
// step fields; any other field is kept as violation detail:
//
//	package parity.custom
//
//	deny contains violation if {
//		some cmp in input.execution.comparisons
//		cmp.critical > 0
//		violation := {"message": "critical drift", "severity": "error", "step": cmp.step}
//	}
//
// The input document has the shape of Input: the session id plus a summary
// of the execution with its step calls and per-step difference counts.
// Violations of error or critical severity fail the gate.
//
// Three policies are built in: no-critical-differences, no-step-failures and
// warning-budget. File policies (.rego or .json) are loaded with a Loader and
// can be hot reloaded:
//
//	loader := policy.NewLoader(logger)
//	err := loader.Watch(ctx, []string{dir}, func(p []policy.Policy) error {
//		return eng.ReplaceFilePolicies(ctx, p)
//	})
//
// A Gate subscribes to engine events, evaluates each execution when it
// completes and publishes a policy.violation event per finding.
package policy
