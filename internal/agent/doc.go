// Package agent owns the session orchestration for one named agent.
//
// Ownership boundary:
// - local registration state exported as metadata (responder role)
// - metadata fetch, reconciliation, and hand-off to an engine (requester role)
// - stage-tagged failure reporting
//
// The agent never moves bytes itself; an xfer.Engine executes the plan.
package agent
