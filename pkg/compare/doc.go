// Package compare normalizes step responses and classifies the differences
// between the target and staging environments.
//
// The Normalizer removes volatile fields (timestamps, per-call identifiers,
// environment and build metadata, wrapper fields such as message and
// status_code) using a denylist, so unknown business fields always survive.
//
// The Differ compares the union of top-level keys of two normalized responses:
//
//   - a key present on one side only is an info difference
//     ("Field added in staging" / "Field removed from staging")
//   - a value disagreement is critical when the field name contains one of
//     policy_number, policy_id, premium, coverage, status, sum_insured
//   - otherwise a warning when it contains "type", else info
//
// Classification depends only on the field name, so swapping target and
// staging swaps the values of each Difference but never its severity.
package compare
