// Package api serves the parity HTTP API.
//
// Routes are registered on a method-aware http.ServeMux:
//
//	GET  /healthz, /readyz, /metrics
//	POST /api/sessions                      create a session
//	GET  /api/sessions[/{id}]               list or fetch sessions
//	GET  /api/config/...                    browse the product hierarchy
//	POST /api/executions/start              schedule a run (202 with a task)
//	GET  /api/executions/{session}/...      status, progress, executions, comparisons
//	POST /api/executions/{session}/cancel   cancel the session's active run
//	GET  /api/tasks/{task}                  background task state
//	GET  /api/reports/{session}[/{exec}]    session and execution reports
//
// Engine errors are mapped to HTTP statuses by their code. Internal errors are
// logged with the request id and returned without their cause.
package api
