package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/config"
	"storyforge/internal/job"
)

const userAgent = "Storyforge-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyApprovalPending(ctx context.Context, topic string, checkpoint job.Checkpoint) error
	NotifyGenerationComplete(ctx context.Context, topic, provider string, cost float64) error
	NotifyJobPublished(ctx context.Context, topic string) error
	NotifyJobFailed(ctx context.Context, topic string, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyApprovalPending(ctx context.Context, topic string, checkpoint job.Checkpoint) error {
	topic = strings.TrimSpace(topic)
	data := payload{
		title:    "Storyforge - Approval Needed",
		message:  fmt.Sprintf("Awaiting %s approval: %s", checkpoint, topic),
		tags:     []string{"storyforge", "approval", string(checkpoint)},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyGenerationComplete(ctx context.Context, topic, provider string, cost float64) error {
	topic = strings.TrimSpace(topic)
	provider = strings.TrimSpace(provider)
	if provider == "" {
		provider = "unknown"
	}
	data := payload{
		title:   "Storyforge - Generated",
		message: fmt.Sprintf("Generation complete: %s (%s, $%.4f)", topic, provider, cost),
		tags:    []string{"storyforge", "generate", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobPublished(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	data := payload{
		title:    "Storyforge - Published",
		message:  fmt.Sprintf("Published: %s", topic),
		tags:     []string{"storyforge", "publish", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, topic string, reason string) error {
	topic = strings.TrimSpace(topic)
	var builder strings.Builder
	builder.WriteString("Job failed: ")
	builder.WriteString(topic)
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString("\nReason: ")
		builder.WriteString(reason)
	}
	data := payload{
		title:    "Storyforge - Failed",
		message:  builder.String(),
		tags:     []string{"storyforge", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Storyforge - Test",
		message:  "Notification system test",
		tags:     []string{"storyforge", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyApprovalPending(context.Context, string, job.Checkpoint) error { return nil }
func (noopService) NotifyGenerationComplete(context.Context, string, string, float64) error {
	return nil
}
func (noopService) NotifyJobPublished(context.Context, string) error      { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                { return nil }
