// Package providers implements the text-generation backends. Each adapter
// speaks its provider's wire format, reports token usage for cost accounting,
// and classifies failures as retriable or permanent so the fallback layer can
// decide whether to retry or move on.
package providers
