// Package security implements the C4 guard pipeline that sits between the
// scheduler and every provider dispatch: a permission profile guard, a
// grant-level permission manager, a sliding-window rate limiter, an
// OPA/Starlark scanner pipeline, an LLM-backed intent verifier, and an
// output sanitiser, all wired together by Pipeline and recorded through
// AuditLogger onto the event bus and the durable store.
//
// Each stage returns a Decision: allowed, a terminal Rejection carrying a
// stage name, taxonomy code and optional recovery hint, or an error when
// the stage itself could not be evaluated. Pipeline.Evaluate runs the
// stages in order and stops at the first rejection, so a caller always
// gets back the earliest, cheapest-to-explain reason an action was
// blocked.
package security
