package gencache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Request captures the provider-independent parts of a generation call that
// determine its output. Two requests with the same fingerprint are
// interchangeable for caching.
type Request struct {
	Prompt  string
	ModelID string
	Params  map[string]string
}

// Fingerprint derives a stable content address for a request. The prompt is
// whitespace-normalized and parameters are serialized in sorted key order so
// that formatting differences and map iteration order do not change the key.
func Fingerprint(req Request) string {
	var b strings.Builder
	b.WriteString("prompt=")
	b.WriteString(normalizeWhitespace(req.Prompt))
	b.WriteString("\nmodel=")
	b.WriteString(strings.TrimSpace(req.ModelID))

	keys := make([]string, 0, len(req.Params))
	for key := range req.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteString("\n")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(req.Params[key])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// normalizeWhitespace collapses runs of whitespace to single spaces and trims
// the ends so that reformatted prompts still hit the cache.
func normalizeWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
