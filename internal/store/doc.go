// Package store persists jobs, approvals, artifacts, and the cost ledger in
// SQLite. All mutations that race with other callers use conditional updates
// so the loser observes job.ErrConcurrentModification instead of clobbering
// the winner's state.
package store
