package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/config"
	"storyforge/internal/gencache"
	"storyforge/internal/logging"
	"storyforge/internal/providers"
	"storyforge/internal/store"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 16 * time.Second
)

// Request is one generation task to satisfy, independent of which provider
// ends up serving it.
type Request struct {
	SystemPrompt string
	Prompt       string
	// ModelID pins a specific model; empty uses each provider's configured one.
	ModelID     string
	MaxTokens   int
	Temperature float64
}

// Result is a satisfied request, either from cache or from a provider call.
type Result struct {
	Payload     string
	Provider    string
	ModelID     string
	Usage       providers.Usage
	Cost        float64
	Cached      bool
	Fingerprint string
}

// Manager walks the provider preference order for a task, retrying transient
// failures with exponential backoff and consulting the generation cache
// before spending money.
type Manager struct {
	registry *providers.Registry
	cache    *gencache.Cache
	store    *store.Store
	logger   *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleeper     func(time.Duration)
}

// Option customizes the manager.
type Option func(*Manager)

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(m *Manager) {
		m.sleeper = sleeper
	}
}

// WithRetryPolicy overrides the per-provider attempt count and backoff delays.
func WithRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(m *Manager) {
		if maxAttempts > 0 {
			m.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			m.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			m.maxDelay = maxDelay
		}
	}
}

// NewManager builds a fallback manager from configuration. The store is used
// for cost attribution and may be nil in tests that do not track spend.
func NewManager(cfg *config.Config, registry *providers.Registry, cache *gencache.Cache, st *store.Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		registry:    registry,
		cache:       cache,
		store:       st,
		logger:      logging.NewComponentLogger(logger, "fallback"),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
	if cfg != nil {
		if cfg.Fallback.MaxAttemptsPerProvider > 0 {
			m.maxAttempts = cfg.Fallback.MaxAttemptsPerProvider
		}
		if cfg.Fallback.RetryBaseDelayMS > 0 {
			m.baseDelay = time.Duration(cfg.Fallback.RetryBaseDelayMS) * time.Millisecond
		}
		if cfg.Fallback.RetryMaxDelayMS > 0 {
			m.maxDelay = time.Duration(cfg.Fallback.RetryMaxDelayMS) * time.Millisecond
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AvailableProviders lists the providers that have credentials configured.
func (m *Manager) AvailableProviders() []string {
	return m.registry.Available()
}

// Generate satisfies a request for the given task type, attributing any spend
// to jobID. Identical requests are served from the cache without a provider
// call.
func (m *Manager) Generate(ctx context.Context, jobID int64, taskType string, req Request) (*Result, error) {
	fingerprint := m.fingerprint(taskType, req)

	if m.cache != nil {
		entry, found, err := m.cache.Get(ctx, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("cache lookup: %w", err)
		}
		if found {
			m.logger.InfoContext(ctx, "served generation from cache",
				logging.Int64(logging.FieldJobID, jobID),
				logging.String(logging.FieldFingerprint, fingerprint),
				logging.String(logging.FieldProvider, entry.Provider))
			return &Result{
				Payload:     entry.Payload,
				Provider:    entry.Provider,
				ModelID:     entry.ModelID,
				Usage:       providers.Usage{TokensIn: entry.TokensIn, TokensOut: entry.TokensOut},
				Cost:        0,
				Cached:      true,
				Fingerprint: fingerprint,
			}, nil
		}
	}

	ordered, err := m.registry.OrderFor(taskType)
	if err != nil {
		return nil, err
	}

	var failures []ProviderFailure
	for _, provider := range ordered {
		if !provider.Available() {
			failures = append(failures, ProviderFailure{
				Provider: provider.Name(),
				Err:      providers.ErrNotConfigured,
			})
			continue
		}
		result, err := m.tryProvider(ctx, jobID, provider, req, fingerprint)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		failures = append(failures, ProviderFailure{Provider: provider.Name(), Err: err})
		m.logger.WarnContext(ctx, "provider failed; trying next",
			logging.Int64(logging.FieldJobID, jobID),
			logging.String(logging.FieldProvider, provider.Name()),
			logging.Error(err))
	}

	return nil, &ExhaustedError{TaskType: taskType, Failures: failures}
}

// tryProvider runs up to maxAttempts calls against one provider. Only
// transient failures are retried; a permanent failure returns immediately so
// the caller can move on to the next provider.
func (m *Manager) tryProvider(ctx context.Context, jobID int64, provider providers.Provider, req Request, fingerprint string) (*Result, error) {
	attemptID := uuid.NewString()
	var lastErr error

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		result, err := provider.Generate(ctx, providers.Request{
			SystemPrompt: req.SystemPrompt,
			Prompt:       req.Prompt,
			ModelID:      req.ModelID,
			MaxTokens:    req.MaxTokens,
			Temperature:  req.Temperature,
		})
		if err == nil {
			return m.recordSuccess(ctx, jobID, provider, result, attemptID, fingerprint)
		}
		lastErr = err

		retryAfter, retriable := providers.Retriable(err)
		if !retriable {
			return nil, err
		}
		if attempt >= m.maxAttempts {
			break
		}
		delay := m.backoffDelay(attempt)
		if retryAfter > delay {
			delay = m.capDelay(retryAfter)
		}
		m.logger.WarnContext(ctx, "transient provider failure; retrying",
			logging.Int64(logging.FieldJobID, jobID),
			logging.String(logging.FieldProvider, provider.Name()),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		if err := m.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", m.maxAttempts, lastErr)
}

func (m *Manager) recordSuccess(ctx context.Context, jobID int64, provider providers.Provider, result *providers.Result, attemptID, fingerprint string) (*Result, error) {
	cost := provider.Cost(result.Usage)
	if m.store != nil && jobID > 0 {
		entry := store.CostEntry{
			JobID:     jobID,
			Provider:  provider.Name(),
			ModelID:   result.ModelID,
			AttemptID: attemptID,
			TokensIn:  result.Usage.TokensIn,
			TokensOut: result.Usage.TokensOut,
			Cost:      cost,
		}
		if err := m.store.RecordCost(ctx, entry); err != nil {
			return nil, err
		}
	}
	if m.cache != nil {
		err := m.cache.Put(ctx, gencache.Entry{
			Fingerprint: fingerprint,
			Payload:     result.Payload,
			Provider:    provider.Name(),
			ModelID:     result.ModelID,
			TokensIn:    result.Usage.TokensIn,
			TokensOut:   result.Usage.TokensOut,
			Cost:        cost,
		})
		if err != nil {
			m.logger.WarnContext(ctx, "failed to cache generation result",
				logging.String(logging.FieldFingerprint, fingerprint),
				logging.Error(err))
		}
	}
	m.logger.InfoContext(ctx, "generation succeeded",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String(logging.FieldProvider, provider.Name()),
		logging.String("model", result.ModelID),
		logging.Float64("cost", cost))
	return &Result{
		Payload:     result.Payload,
		Provider:    provider.Name(),
		ModelID:     result.ModelID,
		Usage:       result.Usage,
		Cost:        cost,
		Cached:      false,
		Fingerprint: fingerprint,
	}, nil
}

// fingerprint folds everything that determines a request's output into the
// cache key: prompts, model pin, sampling parameters, and the task type,
// since the task decides which models may serve an unpinned request.
func (m *Manager) fingerprint(taskType string, req Request) string {
	prompt := req.Prompt
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		prompt = system + "\n" + prompt
	}
	return gencache.Fingerprint(gencache.Request{
		Prompt:  prompt,
		ModelID: req.ModelID,
		Params: map[string]string{
			"task":        taskType,
			"max_tokens":  strconv.Itoa(req.MaxTokens),
			"temperature": strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		},
	})
}

// backoffDelay doubles the base delay per retry, capped at maxDelay.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.baseDelay
	for i := 1; i < attempt; i++ {
		if delay > m.maxDelay/2 {
			delay = m.maxDelay
			break
		}
		delay *= 2
	}
	return m.capDelay(delay)
}

func (m *Manager) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if m.maxDelay > 0 && delay > m.maxDelay {
		return m.maxDelay
	}
	return delay
}

func (m *Manager) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.sleeper != nil {
		m.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
