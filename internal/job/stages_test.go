package job_test

import (
	"errors"
	"testing"

	"storyforge/internal/job"
)

func TestAdvanceTable(t *testing.T) {
	cases := []struct {
		name    string
		stage   job.Stage
		trigger job.Trigger
		want    job.Stage
	}{
		{"script generated", job.StagePendingScript, job.TriggerScriptGenerated, job.StageAwaitingScriptApproval},
		{"script approved", job.StageAwaitingScriptApproval, job.TriggerApproved, job.StageGeneratingMedia},
		{"script rejected", job.StageAwaitingScriptApproval, job.TriggerRejected, job.StagePendingScript},
		{"media generated", job.StageGeneratingMedia, job.TriggerMediaGenerated, job.StageAwaitingVideoApproval},
		{"video approved", job.StageAwaitingVideoApproval, job.TriggerApproved, job.StageReadyToPublish},
		{"video rejected", job.StageAwaitingVideoApproval, job.TriggerRejected, job.StageGeneratingMedia},
		{"publish prepared", job.StageReadyToPublish, job.TriggerPublishPrepared, job.StageAwaitingPublishApproval},
		{"publish approved", job.StageAwaitingPublishApproval, job.TriggerApproved, job.StagePublished},
		{"publish rejected", job.StageAwaitingPublishApproval, job.TriggerRejected, job.StageReadyToPublish},
		{"script generation failed", job.StagePendingScript, job.TriggerGenerationFailed, job.StageFailed},
		{"media generation failed", job.StageGeneratingMedia, job.TriggerGenerationFailed, job.StageFailed},
		{"cancel pending script", job.StagePendingScript, job.TriggerCancelled, job.StageCancelled},
		{"cancel awaiting publish", job.StageAwaitingPublishApproval, job.TriggerCancelled, job.StageCancelled},
		{"cancel failed job", job.StageFailed, job.TriggerCancelled, job.StageCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := job.Advance(tc.stage, tc.trigger)
			if err != nil {
				t.Fatalf("Advance(%s, %s) failed: %v", tc.stage, tc.trigger, err)
			}
			if got != tc.want {
				t.Fatalf("Advance(%s, %s) = %s, want %s", tc.stage, tc.trigger, got, tc.want)
			}
		})
	}
}

func TestAdvanceRejectsUnknownEdges(t *testing.T) {
	triggers := []job.Trigger{
		job.TriggerScriptGenerated,
		job.TriggerMediaGenerated,
		job.TriggerPublishPrepared,
		job.TriggerApproved,
		job.TriggerRejected,
		job.TriggerGenerationFailed,
		job.TriggerCancelled,
	}
	legal := map[job.Stage]map[job.Trigger]bool{
		job.StagePendingScript:           {job.TriggerScriptGenerated: true, job.TriggerGenerationFailed: true, job.TriggerCancelled: true},
		job.StageAwaitingScriptApproval:  {job.TriggerApproved: true, job.TriggerRejected: true, job.TriggerCancelled: true},
		job.StageGeneratingMedia:         {job.TriggerMediaGenerated: true, job.TriggerGenerationFailed: true, job.TriggerCancelled: true},
		job.StageAwaitingVideoApproval:   {job.TriggerApproved: true, job.TriggerRejected: true, job.TriggerCancelled: true},
		job.StageReadyToPublish:          {job.TriggerPublishPrepared: true, job.TriggerCancelled: true},
		job.StageAwaitingPublishApproval: {job.TriggerApproved: true, job.TriggerRejected: true, job.TriggerCancelled: true},
		job.StagePublished:               {},
		job.StageFailed:                  {job.TriggerCancelled: true},
		job.StageCancelled:               {},
	}
	for _, stage := range job.AllStages() {
		for _, trigger := range triggers {
			_, err := job.Advance(stage, trigger)
			if legal[stage][trigger] {
				if err != nil {
					t.Fatalf("expected legal edge (%s, %s), got %v", stage, trigger, err)
				}
				continue
			}
			if !errors.Is(err, job.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition for (%s, %s), got %v", stage, trigger, err)
			}
		}
	}
}

func TestParseStage(t *testing.T) {
	if stage, ok := job.ParseStage("  Awaiting_Script_Approval "); !ok || stage != job.StageAwaitingScriptApproval {
		t.Fatalf("ParseStage normalized lookup failed: %v %v", stage, ok)
	}
	if _, ok := job.ParseStage("ripping"); ok {
		t.Fatal("expected unknown stage to fail parse")
	}
	if _, ok := job.ParseStage(""); ok {
		t.Fatal("expected empty stage to fail parse")
	}
}

func TestStagePredicates(t *testing.T) {
	if !job.RequiresGeneration(job.StagePendingScript) || !job.RequiresGeneration(job.StageGeneratingMedia) {
		t.Fatal("producing stages should require generation")
	}
	if job.RequiresGeneration(job.StageReadyToPublish) {
		t.Fatal("ready_to_publish should not require generation")
	}
	for stage, want := range map[job.Stage]job.Checkpoint{
		job.StageAwaitingScriptApproval:  job.CheckpointScript,
		job.StageAwaitingVideoApproval:   job.CheckpointVideo,
		job.StageAwaitingPublishApproval: job.CheckpointPublish,
	} {
		cp, ok := job.CheckpointFor(stage)
		if !ok || cp != want {
			t.Fatalf("CheckpointFor(%s) = %v %v, want %v", stage, cp, ok, want)
		}
	}
	if _, ok := job.CheckpointFor(job.StagePendingScript); ok {
		t.Fatal("producing stage should not map to a checkpoint")
	}
	if !job.IsTerminal(job.StagePublished) || !job.IsTerminal(job.StageCancelled) {
		t.Fatal("published and cancelled should be terminal")
	}
	if job.IsTerminal(job.StageFailed) {
		t.Fatal("failed is absorbing for triggers but retryable via the store")
	}
}

func TestJobConfigAccessors(t *testing.T) {
	j := &job.Job{ConfigJSON: `{"style":"educational","quality":true,"duration":60}`}
	if got := j.ConfigString("style", "default"); got != "educational" {
		t.Fatalf("ConfigString = %q", got)
	}
	if got := j.ConfigString("voice", "narrator"); got != "narrator" {
		t.Fatalf("ConfigString default = %q", got)
	}
	if !j.ConfigBool("quality", false) {
		t.Fatal("ConfigBool should read true")
	}
	empty := &job.Job{}
	if _, ok := empty.ConfigValue("style"); ok {
		t.Fatal("empty config should report absence")
	}
}
