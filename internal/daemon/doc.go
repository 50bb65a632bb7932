// Package daemon coordinates the long-running storyforged process.
//
// It wires configuration, the job store, the generation cache, and the
// orchestrator into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon runs the polling worker, sweeps the
// generation cache on an interval, and serves a read-only JSON status API.
//
// Pipeline logic lives in the orchestrator; the daemon focuses on startup,
// shutdown, and coordination.
package daemon
