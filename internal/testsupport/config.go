// Package testsupport provides helpers shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"storyforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.APIBind = "127.0.0.1:0"
	cfg.Providers.Claude.APIKey = "test"
	cfg.Providers.OpenAI.APIKey = "test"
	cfg.Providers.Bedrock.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithProviderBaseURL points every configured provider at the given base URL.
// Useful for tests backed by a single httptest server.
func WithProviderBaseURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Providers.Claude.BaseURL = url
		cfg.Providers.OpenAI.BaseURL = url
		cfg.Providers.Bedrock.BaseURL = url
	}
}

// WithRoutes overrides the task routing table on the test config.
func WithRoutes(routes map[string][]string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Fallback.Routes = routes
	}
}
