package config

const (
	defaultDataDir              = "~/.local/share/storyforge"
	defaultLogDir               = "~/.local/share/storyforge/logs"
	defaultAPIBind              = "127.0.0.1:7313"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultPollInterval         = 5
	defaultErrorRetryInterval   = 15
	defaultCacheTTLDays         = 7
	defaultCacheMaxMegabytes    = 256
	defaultCacheSweepInterval   = 300
	defaultMaxAttempts          = 3
	defaultRetryBaseDelayMS     = 1000
	defaultRetryMaxDelayMS      = 16000
	defaultProviderTimeout      = 30
	defaultNotifyRequestTimeout = 10

	defaultClaudeBaseURL  = "https://api.anthropic.com/v1/messages"
	defaultClaudeModel    = "claude-sonnet-4-5"
	defaultOpenAIBaseURL  = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultBedrockBaseURL = "https://bedrock-runtime.us-east-1.amazonaws.com/v1/chat/completions"
	defaultBedrockModel   = "anthropic.claude-3-haiku"
)

func defaultRoutes() map[string][]string {
	return map[string][]string{
		"simple":            {"openai", "bedrock", "claude"},
		"refinement":        {"openai", "bedrock", "claude"},
		"script_generation": {"claude", "openai", "bedrock"},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Providers: Providers{
			Claude: Provider{
				BaseURL:         defaultClaudeBaseURL,
				Model:           defaultClaudeModel,
				TimeoutSeconds:  defaultProviderTimeout,
				InputCostPer1M:  3.0,
				OutputCostPer1M: 15.0,
			},
			OpenAI: Provider{
				BaseURL:         defaultOpenAIBaseURL,
				Model:           defaultOpenAIModel,
				TimeoutSeconds:  defaultProviderTimeout,
				InputCostPer1M:  0.15,
				OutputCostPer1M: 0.6,
			},
			Bedrock: Provider{
				BaseURL:         defaultBedrockBaseURL,
				Model:           defaultBedrockModel,
				TimeoutSeconds:  defaultProviderTimeout,
				InputCostPer1M:  0.25,
				OutputCostPer1M: 1.25,
			},
		},
		Fallback: Fallback{
			MaxAttemptsPerProvider: defaultMaxAttempts,
			RetryBaseDelayMS:       defaultRetryBaseDelayMS,
			RetryMaxDelayMS:        defaultRetryMaxDelayMS,
			Routes:                 defaultRoutes(),
		},
		Cache: Cache{
			TTLDays:              defaultCacheTTLDays,
			MaxMegabytes:         defaultCacheMaxMegabytes,
			SweepIntervalSeconds: defaultCacheSweepInterval,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
