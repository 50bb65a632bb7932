package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/logging"
)

const defaultHTTPTimeout = 60 * time.Second

// chatProvider talks to an OpenAI-compatible chat completion endpoint. Both
// the OpenAI adapter and the Bedrock adapter use this wire format; they
// differ only in name, endpoint, and pricing.
type chatProvider struct {
	name       string
	cfg        config.Provider
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func newChatProvider(name string, cfg config.Provider, defaultEndpoint string, logger *slog.Logger) *chatProvider {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	endpoint := strings.TrimSpace(cfg.BaseURL)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &chatProvider{
		name:       name,
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, name),
	}
}

func (p *chatProvider) Name() string { return p.name }

func (p *chatProvider) Available() bool {
	return strings.TrimSpace(p.cfg.APIKey) != ""
}

func (p *chatProvider) Cost(usage Usage) float64 {
	return float64(usage.TokensIn)/1e6*p.cfg.InputCostPer1M +
		float64(usage.TokensOut)/1e6*p.cfg.OutputCostPer1M
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		// Legacy "text" field (completion-style responses).
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *chatProvider) Generate(ctx context.Context, req Request) (*Result, error) {
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

	messages := make([]chatMessage, 0, 2)
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	payload := chatRequest{
		Model:          model,
		Messages:       messages,
		MaxTokens:      effectiveMaxTokens(req),
		Temperature:    req.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s request: encode body: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%s request: new request: %w", p.name, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(p.cfg.APIKey))
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

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("%s request: decode response: %w", p.name, err)
	}
	if completion.Error != nil {
		return nil, fmt.Errorf("%s request: api error: %s", p.name, strings.TrimSpace(completion.Error.Message))
	}

	var content, finishReason string
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content = firstNonEmpty(choice.Message.Content, choice.Text); content != "" {
			break
		}
	}
	if content == "" {
		if len(completion.Choices) == 0 {
			return nil, errors.New(p.name + " request: empty choices")
		}
		return nil, &EmptyContentError{
			Provider:     p.name,
			FinishReason: finishReason,
			Snippet:      summarizePayloadSnippet(string(body)),
		}
	}

	resolvedModel := firstNonEmpty(completion.Model, model)
	p.logger.Debug("generation call completed",
		logging.String("model", resolvedModel),
		logging.Int("tokens_in", completion.Usage.PromptTokens),
		logging.Int("tokens_out", completion.Usage.CompletionTokens))
	return &Result{
		Payload: content,
		ModelID: resolvedModel,
		Usage: Usage{
			TokensIn:  completion.Usage.PromptTokens,
			TokensOut: completion.Usage.CompletionTokens,
		},
	}, nil
}
