// Package orchestrator coordinates the content pipeline. It validates stage
// transitions against the job state machine, gates forward progress on human
// approvals, and turns producing stages into generation requests with cost
// attribution. Operations on a job are serialized so concurrent callers
// cannot interleave partial updates.
package orchestrator
