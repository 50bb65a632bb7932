package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/logging"
)

const anthropicVersion = "2023-06-01"

// anthropicProvider talks to the Anthropic messages API, which uses its own
// wire format and auth header instead of the chat-completions shape.
type anthropicProvider struct {
	name       string
	cfg        config.Provider
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func newAnthropicProvider(name string, cfg config.Provider, logger *slog.Logger) *anthropicProvider {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	endpoint := strings.TrimSpace(cfg.BaseURL)
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}
	return &anthropicProvider{
		name:       name,
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, name),
	}
}

func (p *anthropicProvider) Name() string { return p.name }

func (p *anthropicProvider) Available() bool {
	return strings.TrimSpace(p.cfg.APIKey) != ""
}

func (p *anthropicProvider) Cost(usage Usage) float64 {
	return float64(usage.TokensIn)/1e6*p.cfg.InputCostPer1M +
		float64(usage.TokensOut)/1e6*p.cfg.OutputCostPer1M
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *anthropicProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	if !p.Available() {
		return nil, fmt.Errorf("%s: %w", p.name, ErrNotConfigured)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%s request: prompt required", p.name)
	}
	model := strings.TrimSpace(req.ModelID)
	if model == "" {
		model = strings.TrimSpace(p.cfg.Model)
	}

	payload := anthropicRequest{
		Model:       model,
		MaxTokens:   effectiveMaxTokens(req),
		System:      strings.TrimSpace(req.SystemPrompt),
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: req.Temperature,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s request: encode body: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%s request: new request: %w", p.name, err)
	}
	httpReq.Header.Set("x-api-key", strings.TrimSpace(p.cfg.APIKey))
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: http error: %w", p.name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s request: read body: %w", p.name, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &StatusError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}

	var completion anthropicResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("%s request: decode response: %w", p.name, err)
	}
	if completion.Error != nil {
		return nil, fmt.Errorf("%s request: api error: %s", p.name, strings.TrimSpace(completion.Error.Message))
	}

	var content string
	for _, block := range completion.Content {
		if block.Type == "text" {
			if content = strings.TrimSpace(block.Text); content != "" {
				break
			}
		}
	}
	if content == "" {
		return nil, &EmptyContentError{
			Provider:     p.name,
			FinishReason: strings.TrimSpace(completion.StopReason),
			Snippet:      summarizePayloadSnippet(string(body)),
		}
	}

	resolvedModel := firstNonEmpty(completion.Model, model)
	p.logger.Debug("generation call completed",
		logging.String("model", resolvedModel),
		logging.Int("tokens_in", completion.Usage.InputTokens),
		logging.Int("tokens_out", completion.Usage.OutputTokens))
	return &Result{
		Payload: content,
		ModelID: resolvedModel,
		Usage: Usage{
			TokensIn:  completion.Usage.InputTokens,
			TokensOut: completion.Usage.OutputTokens,
		},
	}, nil
}
