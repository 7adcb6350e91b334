// Package report builds execution and session reports from finished
// executions. Reports are derived data: they are computed on request and
// never stored.
package report
