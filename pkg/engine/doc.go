// Package engine runs environment parity checks: it drives each work item
// (category, product, plan) through the fixed purchase workflow in a target
// and a staging environment and compares the responses.
//
// # Workflow
//
// Every execution walks the same seven steps in order:
//
//  1. application_submit
//  2. apply_coupon
//  3. payment_checkout
//  4. admin_policy_list
//  5. admin_policy_details
//  6. customer_policy_list
//  7. customer_policy_details
//
// Each step runs in the target environment first and then, if the target
// call succeeded, in staging. Successful pairs are normalized and diffed
// (see package compare). The application_id returned by a successful target
// application_submit is threaded into every later call.
//
// Steps are a closed enum. StepHandlers has one method per step and
// Dispatch switches over every step, so adding a step is a compile-time
// change for every implementation.
//
// # Failure policy
//
// With FailurePolicyFailFast (the default) the first failed call ends the
// sequence: the failing step reports failed and every later step reports
// can_not_proceed. With FailurePolicyContinue every step runs in both
// environments and only pairs where both calls succeeded are compared.
// A call fails when the executor reports success=false or a non-2xx status.
//
// # Execution lifecycle
//
//	pending -> in_progress -> completed
//	                       -> completed_with_failures
//	                       -> failed (internal error or cancellation)
//
// The full execution snapshot is written to the ProgressStore after every
// step, so a poller always sees a prefix of the final step sequence. A
// failed write is logged, counted and recorded in Execution.Warnings; the
// run continues in memory.
//
// # Scheduling
//
// The Master runs the items of one session strictly in order. Service.Start
// validates the request and submits one Task per session to a Scheduler
// with a fixed number of workers and a bounded queue. Task handles can be
// polled, awaited and cancelled; cancellation takes effect before the next
// step starts.
//
// # Error Handling
//
// Errors are classified with EngineError:
//
//   - configuration: unknown category, session or step, no combinations
//   - step_failure: recorded on the execution, never returned
//   - persistence: progress store failures, surfaced as warnings
//   - internal: anything else; fails one execution, never its siblings
package engine
