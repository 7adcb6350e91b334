// Package sessions manages the bounded set of sessions a user runs
// comparisons in.
//
// At most MaxSessions sessions are retained; creating one more evicts the
// oldest. Each session keeps at most MaxExecutionsPerSession executions,
// again evicting the oldest. Evicting a session or an execution deletes the
// associated progress records, is counted in metrics and is published as an
// event. Manager implements engine.SessionTracker.
package sessions
