package policy

// WarningBudget is the number of warning differences a single step may
// report before the warning-budget policy fires.
const WarningBudget = 3

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		noCriticalDifferencesPolicy(),
		noStepFailuresPolicy(),
		warningBudgetPolicy(),
	}
}

// noCriticalDifferencesPolicy rejects executions whose environments disagree
// on a business-critical field.
func noCriticalDifferencesPolicy() Policy {
	return Policy{
		Name:        "no-critical-differences",
		Description: "Target and staging must agree on every business-critical field",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package parity.policies.differences

deny contains violation if {
	some cmp in input.execution.comparisons
	cmp.critical > 0
	violation := {
		"message": sprintf("%s has %v critical difference(s)", [cmp.step, cmp.critical]),
		"severity": "error",
		"step": cmp.step,
		"critical": cmp.critical,
	}
}
`,
	}
}

// noStepFailuresPolicy rejects executions with a failed step call or an
// internal failure.
func noStepFailuresPolicy() Policy {
	return Policy{
		Name:        "no-step-failures",
		Description: "Every step call must succeed in both environments",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package parity.policies.failures

deny contains violation if {
	some call in input.execution.steps
	call.status == "failure"
	violation := {
		"message": sprintf("%s failed in %s with status %v", [call.step, call.environment, call.status_code]),
		"severity": "error",
		"step": call.step,
		"environment": call.environment,
	}
}

deny contains violation if {
	input.execution.status == "failed"
	violation := {
		"message": sprintf("execution failed: %s", [input.execution.error]),
		"severity": "error",
	}
}
`,
	}
}

// warningBudgetPolicy flags steps with an unusual number of type-level
// disagreements.
func warningBudgetPolicy() Policy {
	return Policy{
		Name:        "warning-budget",
		Description: "A step should not report more than 3 warning differences",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package parity.policies.budget

budget := 3

deny contains violation if {
	some cmp in input.execution.comparisons
	cmp.warning > budget
	violation := {
		"message": sprintf("%s has %v warning difference(s), budget is %v", [cmp.step, cmp.warning, budget]),
		"severity": "warning",
		"step": cmp.step,
		"warning": cmp.warning,
	}
}
`,
	}
}
