// Package worker runs the background generation loop for the daemon. It
// claims the oldest job in a producing stage, asks the orchestrator to
// generate for it, and sleeps between polls or after errors.
package worker
