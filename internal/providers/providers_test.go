package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/logging"
)

func TestChatProviderGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "demo-model" {
			t.Fatalf("unexpected model %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("unexpected messages: %#v", req.Messages)
		}
		payload := map[string]any{
			"model": "demo-model-2024",
			"choices": []any{
				map[string]any{
					"message": map[string]any{"content": `{"title":"Test"}`},
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     120,
				"completion_tokens": 48,
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	provider := newChatProvider("openai", config.Provider{
		APIKey:          "test-key",
		BaseURL:         server.URL,
		Model:           "demo-model",
		InputCostPer1M:  1.0,
		OutputCostPer1M: 2.0,
	}, "", logging.NewNop())

	result, err := provider.Generate(context.Background(), Request{
		SystemPrompt: "Respond with JSON only.",
		Prompt:       "Write a script outline.",
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Payload != `{"title":"Test"}` {
		t.Fatalf("unexpected payload %q", result.Payload)
	}
	if result.ModelID != "demo-model-2024" {
		t.Fatalf("unexpected model %q", result.ModelID)
	}
	if result.Usage.TokensIn != 120 || result.Usage.TokensOut != 48 {
		t.Fatalf("unexpected usage: %#v", result.Usage)
	}

	cost := provider.Cost(result.Usage)
	want := 120.0/1e6*1.0 + 48.0/1e6*2.0
	if cost < want-1e-12 || cost > want+1e-12 {
		t.Fatalf("unexpected cost %f, want %f", cost, want)
	}
}

func TestChatProviderStatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		retriable  bool
		wantDelay  time.Duration
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, retryAfter: "3", retriable: true, wantDelay: 3 * time.Second},
		{name: "server error", status: http.StatusInternalServerError, retriable: true},
		{name: "request timeout", status: http.StatusRequestTimeout, retriable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, retriable: false},
		{name: "bad request", status: http.StatusBadRequest, retriable: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer server.Close()

			provider := newChatProvider("openai", config.Provider{
				APIKey:  "test-key",
				BaseURL: server.URL,
				Model:   "demo",
			}, "", logging.NewNop())

			_, err := provider.Generate(context.Background(), Request{Prompt: "hi"})
			if err == nil {
				t.Fatal("expected error")
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			delay, retriable := Retriable(err)
			if retriable != tc.retriable {
				t.Fatalf("Retriable=%v, want %v for %v", retriable, tc.retriable, err)
			}
			if delay != tc.wantDelay {
				t.Fatalf("delay=%s, want %s", delay, tc.wantDelay)
			}
		})
	}
}

func TestChatProviderEmptyContentIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message":       map[string]any{"content": ""},
					"finish_reason": "content_filter",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	provider := newChatProvider("openai", config.Provider{APIKey: "k", BaseURL: server.URL, Model: "demo"}, "", logging.NewNop())
	_, err := provider.Generate(context.Background(), Request{Prompt: "hi"})
	var emptyErr *EmptyContentError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("expected EmptyContentError, got %v", err)
	}
	if _, retriable := Retriable(err); !retriable {
		t.Fatal("expected empty content to be retriable")
	}
}

func TestChatProviderRequiresAPIKey(t *testing.T) {
	provider := newChatProvider("openai", config.Provider{Model: "demo"}, "http://unused", logging.NewNop())
	_, err := provider.Generate(context.Background(), Request{Prompt: "hi"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, retriable := Retriable(err); retriable {
		t.Fatal("missing credentials must not be retriable")
	}
}

func TestAnthropicProviderGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Fatalf("unexpected api key header %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Fatal("missing anthropic-version header")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.MaxTokens <= 0 {
			t.Fatalf("expected max_tokens set, got %d", req.MaxTokens)
		}
		payload := map[string]any{
			"model": "claude-sonnet-4",
			"content": []any{
				map[string]any{"type": "text", "text": `{"title":"Test"}`},
			},
			"usage": map[string]any{
				"input_tokens":  200,
				"output_tokens": 80,
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	provider := newAnthropicProvider("claude", config.Provider{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "claude-sonnet-4",
	}, logging.NewNop())

	result, err := provider.Generate(context.Background(), Request{Prompt: "Write a script outline."})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Payload != `{"title":"Test"}` {
		t.Fatalf("unexpected payload %q", result.Payload)
	}
	if result.Usage.TokensIn != 200 || result.Usage.TokensOut != 80 {
		t.Fatalf("unexpected usage: %#v", result.Usage)
	}
}

func TestDecodeJSONHandlesCodeFences(t *testing.T) {
	var parsed struct {
		Title string `json:"title"`
	}
	cases := []string{
		`{"title":"Plain"}`,
		"```json\n{\"title\":\"Plain\"}\n```",
		"Here is the script:\n{\"title\":\"Plain\"}\nLet me know!",
	}
	for _, content := range cases {
		parsed.Title = ""
		if err := DecodeJSON(content, &parsed); err != nil {
			t.Fatalf("DecodeJSON(%q) failed: %v", content, err)
		}
		if parsed.Title != "Plain" {
			t.Fatalf("unexpected title %q for %q", parsed.Title, content)
		}
	}

	if err := DecodeJSON("no json here", &parsed); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}

func TestRegistryRouting(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Claude.APIKey = "k"
	cfg.Providers.OpenAI.APIKey = "k"
	registry := NewRegistry(&cfg, logging.NewNop())

	quality, err := registry.OrderFor(TaskScriptGeneration)
	if err != nil {
		t.Fatalf("OrderFor failed: %v", err)
	}
	if len(quality) == 0 || quality[0].Name() != NameClaude {
		t.Fatalf("expected claude first for script generation, got %#v", providerNames(quality))
	}

	cheap, err := registry.OrderFor(TaskSimple)
	if err != nil {
		t.Fatalf("OrderFor failed: %v", err)
	}
	if len(cheap) == 0 || cheap[0].Name() == NameClaude {
		t.Fatalf("expected cheap provider first for simple tasks, got %#v", providerNames(cheap))
	}

	// Unknown task types use the simple route.
	unknown, err := registry.OrderFor("summarize")
	if err != nil {
		t.Fatalf("OrderFor failed: %v", err)
	}
	if len(unknown) != len(cheap) {
		t.Fatalf("expected fallback to simple route, got %#v", providerNames(unknown))
	}

	available := registry.Available()
	if len(available) != 2 {
		t.Fatalf("expected 2 available providers, got %#v", available)
	}
}

func TestRegistryRejectsUnknownRouteEntry(t *testing.T) {
	cfg := config.Default()
	cfg.Fallback.Routes = map[string][]string{
		"simple": {"claude", "mystery"},
	}
	registry := NewRegistry(&cfg, logging.NewNop())
	if _, err := registry.OrderFor(TaskSimple); err == nil {
		t.Fatal("expected error for unknown provider in route")
	}
}

func providerNames(providers []Provider) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	return names
}
