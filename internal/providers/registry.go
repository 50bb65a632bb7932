package providers

import (
	"fmt"
	"log/slog"
	"sort"

	"storyforge/internal/config"
)

// Provider names as they appear in config routes.
const (
	NameClaude  = "claude"
	NameOpenAI  = "openai"
	NameBedrock = "bedrock"
)

// Registry holds the configured provider adapters and the task routing table.
type Registry struct {
	providers map[string]Provider
	routes    map[string][]string
}

// NewRegistry builds adapters for every known provider from the configuration.
// Providers without credentials are still registered so status output can show
// them as unavailable.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	return &Registry{
		providers: map[string]Provider{
			NameClaude: newAnthropicProvider(NameClaude, cfg.Providers.Claude, logger),
			NameOpenAI: newChatProvider(
				NameOpenAI,
				cfg.Providers.OpenAI,
				"https://api.openai.com/v1/chat/completions",
				logger,
			),
			NameBedrock: newChatProvider(
				NameBedrock,
				cfg.Providers.Bedrock,
				"https://bedrock-runtime.us-east-1.amazonaws.com/openai/v1/chat/completions",
				logger,
			),
		},
		routes: cfg.Fallback.Routes,
	}
}

// Provider returns the adapter registered under the given name.
func (r *Registry) Provider(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// OrderFor resolves the provider preference order for a task type. Unknown
// task types fall back to the simple route. Route entries that name an
// unknown provider are an error so a config typo surfaces immediately.
func (r *Registry) OrderFor(taskType string) ([]Provider, error) {
	names, ok := r.routes[taskType]
	if !ok {
		names = r.routes[TaskSimple]
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no provider route for task %q", taskType)
	}
	ordered := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := r.providers[name]
		if !ok {
			return nil, fmt.Errorf("task %q routes to unknown provider %q", taskType, name)
		}
		ordered = append(ordered, p)
	}
	return ordered, nil
}

// Names returns all registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns the names of providers with credentials configured.
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.providers))
	for name, p := range r.providers {
		if p.Available() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
