package fallback_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/fallback"
	"storyforge/internal/gencache"
	"storyforge/internal/logging"
	"storyforge/internal/providers"
	"storyforge/internal/store"
	"storyforge/internal/testsupport"
)

// chatSuccessServer answers the OpenAI-compatible wire format and counts calls.
func chatSuccessServer(t *testing.T, payload string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		response := map[string]any{
			"model": "test-model",
			"choices": []any{
				map[string]any{"message": map[string]any{"content": payload}},
			},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 50},
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
}

func statusServer(t *testing.T, status int, retryAfter string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
	}))
}

type managerEnv struct {
	cfg     *config.Config
	store   *store.Store
	cache   *gencache.Cache
	manager *fallback.Manager
	sleeps  []time.Duration
}

func newManagerEnv(t *testing.T, cfg *config.Config) *managerEnv {
	t.Helper()
	env := &managerEnv{cfg: cfg}
	env.store = testsupport.MustOpenStore(t, cfg)
	cache, err := gencache.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("gencache.Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	env.cache = cache

	registry := providers.NewRegistry(cfg, logging.NewNop())
	env.manager = fallback.NewManager(cfg, registry, cache, env.store, logging.NewNop(),
		fallback.WithSleeper(func(d time.Duration) {
			env.sleeps = append(env.sleeps, d)
		}))
	return env
}

func TestGenerateFallsBackOnPermanentFailure(t *testing.T) {
	unauthorized := statusServer(t, http.StatusUnauthorized, "", nil)
	defer unauthorized.Close()
	var openaiCalls atomic.Int64
	success := chatSuccessServer(t, `{"title":"Test"}`, &openaiCalls)
	defer success.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Providers.Claude.BaseURL = unauthorized.URL
	cfg.Providers.OpenAI.BaseURL = success.URL
	cfg.Providers.Bedrock.APIKey = ""
	env := newManagerEnv(t, cfg)
	ctx := context.Background()

	jb := testsupport.NewJob(t, env.store, "fallback ordering")
	result, err := env.manager.Generate(ctx, jb.ID, providers.TaskScriptGeneration, fallback.Request{
		Prompt:    "Write a script about tidal power.",
		MaxTokens: 2000,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Provider != providers.NameOpenAI {
		t.Fatalf("expected openai to serve after claude failure, got %s", result.Provider)
	}
	if result.Cached {
		t.Fatal("first call must not be cached")
	}
	if result.Cost <= 0 {
		t.Fatalf("expected positive cost, got %f", result.Cost)
	}

	byProvider, err := env.store.JobCostByProvider(ctx, jb.ID)
	if err != nil {
		t.Fatalf("JobCostByProvider failed: %v", err)
	}
	if byProvider[providers.NameClaude] != 0 {
		t.Fatalf("failed provider must not accrue cost, got %f", byProvider[providers.NameClaude])
	}
	if byProvider[providers.NameOpenAI] <= 0 {
		t.Fatalf("expected openai cost recorded, got %#v", byProvider)
	}
	// The permanent 401 must not be retried.
	if len(env.sleeps) != 0 {
		t.Fatalf("expected no retry sleeps, got %v", env.sleeps)
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	flaky := statusServer(t, http.StatusInternalServerError, "", &calls)
	defer flaky.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Fallback.MaxAttemptsPerProvider = 3
	cfg.Fallback.RetryBaseDelayMS = 100
	cfg.Fallback.RetryMaxDelayMS = 1000
	cfg.Fallback.Routes = map[string][]string{"simple": {"openai"}}
	cfg.Providers.OpenAI.BaseURL = flaky.URL
	env := newManagerEnv(t, cfg)

	_, err := env.manager.Generate(context.Background(), 0, providers.TaskSimple, fallback.Request{Prompt: "hi"})
	if !errors.Is(err, fallback.ErrAllProvidersExhausted) {
		t.Fatalf("expected ErrAllProvidersExhausted, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(env.sleeps) != len(want) {
		t.Fatalf("unexpected sleeps: %v", env.sleeps)
	}
	for i, d := range want {
		if env.sleeps[i] != d {
			t.Fatalf("sleep %d = %s, want %s", i, env.sleeps[i], d)
		}
	}

	var exhausted *fallback.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T", err)
	}
	if len(exhausted.Failures) != 1 || exhausted.Failures[0].Provider != providers.NameOpenAI {
		t.Fatalf("unexpected failure detail: %#v", exhausted.Failures)
	}
}

func TestGenerateHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int64
	limited := statusServer(t, http.StatusTooManyRequests, "2", &calls)
	defer limited.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Fallback.MaxAttemptsPerProvider = 2
	cfg.Fallback.RetryBaseDelayMS = 100
	cfg.Fallback.RetryMaxDelayMS = 5000
	cfg.Fallback.Routes = map[string][]string{"simple": {"openai"}}
	cfg.Providers.OpenAI.BaseURL = limited.URL
	env := newManagerEnv(t, cfg)

	_, err := env.manager.Generate(context.Background(), 0, providers.TaskSimple, fallback.Request{Prompt: "hi"})
	if !errors.Is(err, fallback.ErrAllProvidersExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if len(env.sleeps) != 1 || env.sleeps[0] != 2*time.Second {
		t.Fatalf("expected server-requested 2s delay, got %v", env.sleeps)
	}
}

func TestGenerateSkipsUnconfiguredProviders(t *testing.T) {
	var calls atomic.Int64
	success := chatSuccessServer(t, `{"title":"Test"}`, &calls)
	defer success.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Providers.Claude.APIKey = ""
	cfg.Providers.OpenAI.BaseURL = success.URL
	env := newManagerEnv(t, cfg)

	result, err := env.manager.Generate(context.Background(), 0, providers.TaskScriptGeneration, fallback.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Provider != providers.NameOpenAI {
		t.Fatalf("expected openai, got %s", result.Provider)
	}
}

func TestGenerateExhaustsWhenNothingConfigured(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Providers.Claude.APIKey = ""
	cfg.Providers.OpenAI.APIKey = ""
	cfg.Providers.Bedrock.APIKey = ""
	env := newManagerEnv(t, cfg)

	_, err := env.manager.Generate(context.Background(), 0, providers.TaskSimple, fallback.Request{Prompt: "hi"})
	if !errors.Is(err, fallback.ErrAllProvidersExhausted) {
		t.Fatalf("expected ErrAllProvidersExhausted, got %v", err)
	}
	var exhausted *fallback.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T", err)
	}
	for _, failure := range exhausted.Failures {
		if !errors.Is(failure.Err, providers.ErrNotConfigured) {
			t.Fatalf("expected ErrNotConfigured for %s, got %v", failure.Provider, failure.Err)
		}
	}
}

func TestIdenticalRequestsPayAtMostOnce(t *testing.T) {
	var calls atomic.Int64
	success := chatSuccessServer(t, `{"title":"Cached"}`, &calls)
	defer success.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Fallback.Routes = map[string][]string{"simple": {"openai"}}
	cfg.Providers.OpenAI.BaseURL = success.URL
	env := newManagerEnv(t, cfg)
	ctx := context.Background()

	jb := testsupport.NewJob(t, env.store, "cache dedupe")
	req := fallback.Request{Prompt: "Write a short intro.", MaxTokens: 1000, Temperature: 0.7}
	for i := 0; i < 5; i++ {
		result, err := env.manager.Generate(ctx, jb.ID, providers.TaskSimple, req)
		if err != nil {
			t.Fatalf("Generate %d failed: %v", i, err)
		}
		if result.Payload != `{"title":"Cached"}` {
			t.Fatalf("unexpected payload %q", result.Payload)
		}
		if i == 0 && result.Cached {
			t.Fatal("first call must hit the provider")
		}
		if i > 0 {
			if !result.Cached {
				t.Fatalf("call %d should be served from cache", i)
			}
			if result.Cost != 0 {
				t.Fatalf("cached call %d must be free, cost %f", i, result.Cost)
			}
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 provider call, got %d", got)
	}

	total, err := env.store.JobCost(ctx, jb.ID)
	if err != nil {
		t.Fatalf("JobCost failed: %v", err)
	}
	first := 100.0/1e6*env.cfg.Providers.OpenAI.InputCostPer1M + 50.0/1e6*env.cfg.Providers.OpenAI.OutputCostPer1M
	if total < first-1e-9 || total > first+1e-9 {
		t.Fatalf("expected single paid call in ledger, got %f", total)
	}
}

func TestGenerateStopsOnCancellation(t *testing.T) {
	var calls atomic.Int64
	flaky := statusServer(t, http.StatusInternalServerError, "", &calls)
	defer flaky.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Fallback.MaxAttemptsPerProvider = 5
	cfg.Fallback.RetryBaseDelayMS = 10
	cfg.Fallback.Routes = map[string][]string{"simple": {"openai", "bedrock"}}
	cfg.Providers.OpenAI.BaseURL = flaky.URL
	cfg.Providers.Bedrock.BaseURL = flaky.URL

	env := &managerEnv{cfg: cfg}
	env.store = testsupport.MustOpenStore(t, cfg)
	registry := providers.NewRegistry(cfg, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	manager := fallback.NewManager(cfg, registry, nil, env.store, logging.NewNop(),
		fallback.WithSleeper(func(time.Duration) {
			cancel()
		}))

	_, err := manager.Generate(ctx, 0, providers.TaskSimple, fallback.Request{Prompt: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", got)
	}
}
