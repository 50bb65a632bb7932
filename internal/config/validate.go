package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownProviders = map[string]struct{}{
	"claude":  {},
	"openai":  {},
	"bedrock": {},
}

// Validate reports configuration problems that would break the pipeline at
// runtime. Missing API keys are not errors; a provider without a key is
// simply unavailable.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if c.Workflow.PollInterval <= 0 {
		problems = append(problems, "workflow.poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		problems = append(problems, "workflow.error_retry_interval must be positive")
	}
	if c.Fallback.MaxAttemptsPerProvider <= 0 {
		problems = append(problems, "fallback.max_attempts_per_provider must be positive")
	}
	if c.Fallback.RetryBaseDelayMS < 0 {
		problems = append(problems, "fallback.retry_base_delay_ms must not be negative")
	}
	if c.Fallback.RetryMaxDelayMS > 0 && c.Fallback.RetryMaxDelayMS < c.Fallback.RetryBaseDelayMS {
		problems = append(problems, "fallback.retry_max_delay_ms must not be below the base delay")
	}
	if c.Cache.TTLDays <= 0 {
		problems = append(problems, "cache.ttl_days must be positive")
	}
	if c.Cache.MaxMegabytes <= 0 {
		problems = append(problems, "cache.max_megabytes must be positive")
	}
	for task, order := range c.Fallback.Routes {
		if len(order) == 0 {
			problems = append(problems, fmt.Sprintf("fallback.routes.%s must list at least one provider", task))
		}
		for _, name := range order {
			if _, ok := knownProviders[strings.ToLower(strings.TrimSpace(name))]; !ok {
				problems = append(problems, fmt.Sprintf("fallback.routes.%s references unknown provider %q", task, name))
			}
		}
	}
	for name, provider := range map[string]Provider{
		"claude":  c.Providers.Claude,
		"openai":  c.Providers.OpenAI,
		"bedrock": c.Providers.Bedrock,
	} {
		if provider.TimeoutSeconds < 0 {
			problems = append(problems, fmt.Sprintf("providers.%s.timeout_seconds must not be negative", name))
		}
		if provider.InputCostPer1M < 0 || provider.OutputCostPer1M < 0 {
			problems = append(problems, fmt.Sprintf("providers.%s cost rates must not be negative", name))
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
