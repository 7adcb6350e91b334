// Package simulator provides an in-process insurance back end that
// implements the seven workflow steps.
//
// Responses are shaped like the real API: application ids, premiums
// (500.00, or 450.00 after coupon SAVE10), policy lists and details with
// coverage and sum insured, plus per-call fields such as request_id and
// responded_at that the response normalizer strips before comparison.
//
// Faults are injected by a FaultRule. DefaultFaults reproduces the known
// payment gateway failure for MV4/TOKIO_MARINE/COMPREHENSIVE in the target
// environment. A FaultScript replaces it with a Starlark function:
//
//	def fault(step, environment, category, product, plan):
//	    if step == "admin_policy_details" and environment == "staging":
//	        return {"patch": {"premium": 475.0}}   # drift, not a failure
//	    if product == "ALLIANZ" and step == "apply_coupon":
//	        return {"status_code": 503, "error": "coupon service down"}
//	    return None
package simulator
