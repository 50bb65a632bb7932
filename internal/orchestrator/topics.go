package orchestrator

import (
	"context"
	"fmt"

	"storyforge/internal/fallback"
	"storyforge/internal/logging"
	"storyforge/internal/providers"
)

// TopicIdea is one brainstormed video topic with the model's pitch for it.
type TopicIdea struct {
	Topic          string `json:"topic"`
	Why            string `json:"why"`
	EstimatedViews string `json:"estimated_views"`
}

const defaultTopicCount = 5

// SuggestTopics brainstorms video topic ideas through the cheap task route.
// The call is not attributed to a job, so nothing lands in the cost ledger,
// but identical requests are still served from the generation cache.
func (o *Orchestrator) SuggestTopics(ctx context.Context, category, style string, count int) ([]TopicIdea, error) {
	if count <= 0 {
		count = defaultTopicCount
	}
	result, err := o.generator.Generate(ctx, 0, providers.TaskSimple, fallback.Request{
		SystemPrompt: topicSystemPrompt,
		Prompt:       buildTopicPrompt(category, style, count),
		MaxTokens:    1500,
		Temperature:  0.8,
	})
	if err != nil {
		return nil, err
	}
	var ideas []TopicIdea
	if err := providers.DecodeJSON(result.Payload, &ideas); err != nil {
		return nil, fmt.Errorf("parse topic ideas: %w", err)
	}
	o.logger.InfoContext(ctx, "topic ideas generated",
		logging.Int("count", len(ideas)),
		logging.String(logging.FieldProvider, result.Provider),
		logging.Bool("cached", result.Cached))
	return ideas, nil
}
