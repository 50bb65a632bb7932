package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storyforge/internal/fallback"
	"storyforge/internal/job"
	"storyforge/internal/logging"
	"storyforge/internal/notifications"
	"storyforge/internal/providers"
	"storyforge/internal/testsupport"
)

// generate reads the job, calls the provider, then takes the conditional
// stage transition. When another process moves the job in between, the loser
// must back out without leaving an artifact behind.
func TestGenerateRaceLoserLeavesNoArtifact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"test-model","choices":[{"message":{"content":"{\"title\":\"Test\"}"}}],"usage":{"prompt_tokens":100,"completion_tokens":50}}`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Providers.Claude.APIKey = ""
	cfg.Providers.Bedrock.APIKey = ""
	cfg.Providers.OpenAI.BaseURL = server.URL

	st := testsupport.MustOpenStore(t, cfg)
	registry := providers.NewRegistry(cfg, logging.NewNop())
	manager := fallback.NewManager(cfg, registry, nil, st, logging.NewNop(),
		fallback.WithSleeper(func(time.Duration) {}))
	o := New(st, manager, nil, notifications.NewService(cfg), logging.NewNop())
	ctx := context.Background()

	jb, err := o.SubmitJob(ctx, "Raced topic", "")
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	stale, err := st.GetJob(ctx, jb.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}

	// Another process wins the transition while this one holds a stale read.
	if err := st.TransitionStage(ctx, jb.ID, job.StagePendingScript, job.StageAwaitingScriptApproval); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}

	if _, err := o.generate(ctx, stale); !errors.Is(err, job.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	artifacts, err := st.ArtifactsForJob(ctx, jb.ID)
	if err != nil {
		t.Fatalf("ArtifactsForJob failed: %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("losing generation must not store an artifact, got %#v", artifacts)
	}
}
