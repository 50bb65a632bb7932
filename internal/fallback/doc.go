// Package fallback decides which provider serves each generation request.
// Providers are tried in the task's configured order; transient failures are
// retried with exponential backoff, permanent ones skip straight to the next
// provider, and every paid call is priced into the cost ledger. The
// generation cache is consulted first so identical requests are paid for at
// most once.
package fallback
