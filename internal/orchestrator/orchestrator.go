package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"storyforge/internal/fallback"
	"storyforge/internal/gencache"
	"storyforge/internal/job"
	"storyforge/internal/logging"
	"storyforge/internal/notifications"
	"storyforge/internal/providers"
	"storyforge/internal/store"
)

// Orchestrator drives jobs through the pipeline: it owns stage transitions,
// approval gates, and generation requests. Every operation on a job is
// serialized through a per-job lock.
type Orchestrator struct {
	store     *store.Store
	generator *fallback.Manager
	cache     *gencache.Cache
	notifier  notifications.Service
	logger    *slog.Logger
	locks     *jobLocks
}

// New builds an orchestrator. The notifier may be the noop service.
func New(st *store.Store, generator *fallback.Manager, cache *gencache.Cache, notifier notifications.Service, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		generator: generator,
		cache:     cache,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "orchestrator"),
		locks:     newJobLocks(),
	}
}

// SubmitJob creates a new job in the first producing stage.
func (o *Orchestrator) SubmitJob(ctx context.Context, topic, configJSON string) (*job.Job, error) {
	jb, err := o.store.CreateJob(ctx, topic, configJSON)
	if err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "job submitted",
		logging.Int64(logging.FieldJobID, jb.ID),
		logging.String("topic", jb.Topic))
	return jb, nil
}

// AdvanceStage pushes a job forward from its current stage. Producing stages
// run generation, approval gates refuse with ErrApprovalPending, and
// ready_to_publish moves to the final approval gate.
func (o *Orchestrator) AdvanceStage(ctx context.Context, id int64) (*job.Job, error) {
	unlock := o.locks.acquire(id)
	defer unlock()

	jb, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case job.RequiresGeneration(jb.Stage):
		return o.generate(ctx, jb)
	case job.AwaitsApproval(jb.Stage):
		checkpoint, _ := job.CheckpointFor(jb.Stage)
		return nil, fmt.Errorf("job %d awaits %s approval: %w", id, checkpoint, job.ErrApprovalPending)
	case jb.Stage == job.StageReadyToPublish:
		return o.prepareForPublish(ctx, jb)
	default:
		return nil, fmt.Errorf("%w: job %d cannot advance from %s", job.ErrInvalidTransition, id, jb.Stage)
	}
}

// prepareForPublish moves a job to the publish approval gate.
func (o *Orchestrator) prepareForPublish(ctx context.Context, jb *job.Job) (*job.Job, error) {
	next, err := job.Advance(jb.Stage, job.TriggerPublishPrepared)
	if err != nil {
		return nil, err
	}
	if err := o.store.TransitionStage(ctx, jb.ID, jb.Stage, next); err != nil {
		return nil, err
	}
	if _, err := o.store.CreatePendingApproval(ctx, jb.ID, job.CheckpointPublish); err != nil {
		return nil, err
	}
	if err := o.notifier.NotifyApprovalPending(ctx, jb.Topic, job.CheckpointPublish); err != nil {
		o.logger.WarnContext(ctx, "notification failed", logging.Error(err))
	}
	o.logger.InfoContext(ctx, "job ready for publish approval",
		logging.Int64(logging.FieldJobID, jb.ID),
		logging.String(logging.FieldStage, string(next)))
	return o.store.GetJob(ctx, jb.ID)
}

// Decide resolves the pending approval on a job. Approval advances the job to
// its next stage; rejection reverts it to the producing stage and bumps the
// revision counter so the next generation refines the rejected draft.
func (o *Orchestrator) Decide(ctx context.Context, id int64, approve bool, notes string) (*job.Job, error) {
	unlock := o.locks.acquire(id)
	defer unlock()

	jb, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := o.store.PendingApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("job %d: %w", id, job.ErrNoPendingApproval)
	}
	checkpoint, ok := job.CheckpointFor(jb.Stage)
	if !ok || checkpoint != pending.Checkpoint {
		return nil, fmt.Errorf("%w: job %d at %s has pending %s approval",
			job.ErrInvariantViolation, id, jb.Stage, pending.Checkpoint)
	}

	if _, err := o.store.ResolveApproval(ctx, pending.ID, approve, notes); err != nil {
		return nil, err
	}

	if approve {
		next, err := job.Advance(jb.Stage, job.TriggerApproved)
		if err != nil {
			return nil, err
		}
		if err := o.store.TransitionStage(ctx, id, jb.Stage, next); err != nil {
			return nil, err
		}
		o.logger.InfoContext(ctx, "approval granted",
			logging.Int64(logging.FieldJobID, id),
			logging.String("checkpoint", string(checkpoint)),
			logging.String(logging.FieldStage, string(next)))
		if next == job.StagePublished {
			if err := o.notifier.NotifyJobPublished(ctx, jb.Topic); err != nil {
				o.logger.WarnContext(ctx, "notification failed", logging.Error(err))
			}
		}
		return o.store.GetJob(ctx, id)
	}

	next, err := job.Advance(jb.Stage, job.TriggerRejected)
	if err != nil {
		return nil, err
	}
	if err := o.store.RevertStage(ctx, id, jb.Stage, next); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "approval rejected",
		logging.Int64(logging.FieldJobID, id),
		logging.String("checkpoint", string(checkpoint)),
		logging.String(logging.FieldStage, string(next)),
		logging.String("notes", strings.TrimSpace(notes)))
	return o.store.GetJob(ctx, id)
}

// RequestGeneration runs the generation task for a job parked in a producing
// stage. The worker calls this for claimed jobs; AdvanceStage calls it for
// manual advances.
func (o *Orchestrator) RequestGeneration(ctx context.Context, id int64) (*job.Job, error) {
	unlock := o.locks.acquire(id)
	defer unlock()

	jb, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.generate(ctx, jb)
}

// generate runs one generation call and moves the job to its approval gate.
// Callers must hold the job lock.
func (o *Orchestrator) generate(ctx context.Context, jb *job.Job) (*job.Job, error) {
	if !job.RequiresGeneration(jb.Stage) {
		return nil, fmt.Errorf("%w: job %d at %s does not generate", job.ErrInvalidTransition, jb.ID, jb.Stage)
	}
	kind, _ := job.ArtifactKindFor(jb.Stage)

	previous, err := o.store.CurrentArtifact(ctx, jb.ID, kind)
	if err != nil {
		return nil, err
	}
	notes, err := o.latestRejectionNotes(ctx, jb)
	if err != nil {
		return nil, err
	}

	taskType, request, err := o.buildRequest(ctx, jb, kind, previous, notes)
	if err != nil {
		return nil, err
	}

	result, err := o.generator.Generate(ctx, jb.ID, taskType, request)
	if err != nil {
		if errors.Is(err, fallback.ErrAllProvidersExhausted) {
			return nil, o.failJob(ctx, jb, err)
		}
		return nil, err
	}

	// Providers wrap JSON in code fences or prose often enough that the
	// payload is parsed before anything is persisted; only clean JSON
	// reaches the approval gate.
	var payload json.RawMessage
	if err := providers.DecodeJSON(result.Payload, &payload); err != nil {
		return nil, fmt.Errorf("parse generated %s for job %d: %w", kind, jb.ID, err)
	}

	trigger, _ := job.GeneratedTriggerFor(jb.Stage)
	next, err := job.Advance(jb.Stage, trigger)
	if err != nil {
		return nil, err
	}
	// Win the conditional transition before writing output rows; a racing
	// process that already moved the job must not leave a duplicate
	// artifact behind.
	if err := o.store.TransitionStage(ctx, jb.ID, jb.Stage, next); err != nil {
		return nil, err
	}

	artifact := &job.Artifact{
		JobID:    jb.ID,
		Kind:     kind,
		Revision: jb.Revision,
		Payload:  string(payload),
		ModelID:  result.ModelID,
		Provider: result.Provider,
	}
	if _, err := o.store.AddArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	checkpoint, _ := job.CheckpointFor(next)
	if _, err := o.store.CreatePendingApproval(ctx, jb.ID, checkpoint); err != nil {
		return nil, err
	}

	if err := o.notifier.NotifyGenerationComplete(ctx, jb.Topic, result.Provider, result.Cost); err != nil {
		o.logger.WarnContext(ctx, "notification failed", logging.Error(err))
	}
	if err := o.notifier.NotifyApprovalPending(ctx, jb.Topic, checkpoint); err != nil {
		o.logger.WarnContext(ctx, "notification failed", logging.Error(err))
	}
	o.logger.InfoContext(ctx, "generation stored",
		logging.Int64(logging.FieldJobID, jb.ID),
		logging.String(logging.FieldStage, string(next)),
		logging.String(logging.FieldProvider, result.Provider),
		logging.Bool("cached", result.Cached),
		logging.Float64("cost", result.Cost))
	return o.store.GetJob(ctx, jb.ID)
}

// buildRequest assembles the prompt and task routing for a producing stage.
func (o *Orchestrator) buildRequest(ctx context.Context, jb *job.Job, kind job.ArtifactKind, previous *job.Artifact, notes string) (string, fallback.Request, error) {
	switch kind {
	case job.ArtifactScript:
		taskType := providers.TaskScriptGeneration
		if jb.Revision > 1 {
			taskType = providers.TaskRefinement
		}
		return taskType, fallback.Request{
			SystemPrompt: scriptSystemPrompt,
			Prompt:       buildScriptPrompt(jb, revisionArtifact(jb, previous), notes),
			MaxTokens:    8000,
			Temperature:  0.7,
		}, nil
	case job.ArtifactMediaPlan:
		script, err := o.store.CurrentArtifact(ctx, jb.ID, job.ArtifactScript)
		if err != nil {
			return "", fallback.Request{}, err
		}
		return providers.TaskSimple, fallback.Request{
			SystemPrompt: mediaPlanSystemPrompt,
			Prompt:       buildMediaPlanPrompt(jb, script, revisionArtifact(jb, previous), notes),
			MaxTokens:    4000,
			Temperature:  0.4,
		}, nil
	default:
		return "", fallback.Request{}, fmt.Errorf("%w: no generation task for artifact kind %q", job.ErrInvariantViolation, kind)
	}
}

// revisionArtifact returns the previous draft only when the job is actually
// on a revision pass; a fresh job ignores leftovers from other kinds.
func revisionArtifact(jb *job.Job, previous *job.Artifact) *job.Artifact {
	if jb.Revision <= 1 || previous == nil {
		return nil
	}
	return previous
}

// latestRejectionNotes finds the reviewer notes from the most recent rejected
// approval, used to steer refinement passes.
func (o *Orchestrator) latestRejectionNotes(ctx context.Context, jb *job.Job) (string, error) {
	if jb.Revision <= 1 {
		return "", nil
	}
	approvals, err := o.store.ApprovalsForJob(ctx, jb.ID)
	if err != nil {
		return "", err
	}
	// Newest first.
	for i := len(approvals) - 1; i >= 0; i-- {
		if approvals[i].Status == job.ApprovalRejected {
			return approvals[i].Notes, nil
		}
	}
	return "", nil
}

// failJob moves a job into the failed state after provider exhaustion and
// returns the original error.
func (o *Orchestrator) failJob(ctx context.Context, jb *job.Job, cause error) error {
	if err := o.store.MarkFailed(ctx, jb.ID, jb.Stage, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	if err := o.notifier.NotifyJobFailed(ctx, jb.Topic, cause.Error()); err != nil {
		o.logger.WarnContext(ctx, "notification failed", logging.Error(err))
	}
	o.logger.ErrorContext(ctx, "job failed",
		logging.Int64(logging.FieldJobID, jb.ID),
		logging.String(logging.FieldStage, string(jb.Stage)),
		logging.Error(cause))
	return cause
}

// Cancel moves a job into the cancelled terminal state and resolves any
// pending approval as rejected.
func (o *Orchestrator) Cancel(ctx context.Context, id int64) (*job.Job, error) {
	unlock := o.locks.acquire(id)
	defer unlock()

	jb, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := job.Advance(jb.Stage, job.TriggerCancelled)
	if err != nil {
		return nil, err
	}
	if pending, err := o.store.PendingApproval(ctx, id); err != nil {
		return nil, err
	} else if pending != nil {
		if _, err := o.store.ResolveApproval(ctx, pending.ID, false, "job cancelled"); err != nil {
			return nil, err
		}
	}
	if err := o.store.TransitionStage(ctx, id, jb.Stage, next); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "job cancelled", logging.Int64(logging.FieldJobID, id))
	return o.store.GetJob(ctx, id)
}

// Retry moves a failed job back to the producing stage it failed from.
func (o *Orchestrator) Retry(ctx context.Context, id int64) (*job.Job, error) {
	unlock := o.locks.acquire(id)
	defer unlock()

	jb, err := o.store.RetryFailed(ctx, id)
	if err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "job queued for retry",
		logging.Int64(logging.FieldJobID, id),
		logging.String(logging.FieldStage, string(jb.Stage)))
	return jb, nil
}

// JobStatus aggregates everything an operator needs to see about one job.
type JobStatus struct {
	Job             *job.Job
	PendingApproval *job.Approval
	Artifacts       []*job.Artifact
	CostToDate      float64
	CostByProvider  map[string]float64
}

// Status returns the full view of a job.
func (o *Orchestrator) Status(ctx context.Context, id int64) (*JobStatus, error) {
	jb, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := o.store.PendingApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	artifacts, err := o.store.ArtifactsForJob(ctx, id)
	if err != nil {
		return nil, err
	}
	total, err := o.store.JobCost(ctx, id)
	if err != nil {
		return nil, err
	}
	byProvider, err := o.store.JobCostByProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobStatus{
		Job:             jb,
		PendingApproval: pending,
		Artifacts:       artifacts,
		CostToDate:      total,
		CostByProvider:  byProvider,
	}, nil
}

// Jobs lists jobs, optionally filtered by stage.
func (o *Orchestrator) Jobs(ctx context.Context, stages ...job.Stage) ([]*job.Job, error) {
	return o.store.ListJobs(ctx, stages...)
}

// StageCounts returns the number of jobs per stage.
func (o *Orchestrator) StageCounts(ctx context.Context) (map[job.Stage]int, error) {
	return o.store.Stats(ctx)
}

// CacheStats reports generation cache usage.
func (o *Orchestrator) CacheStats(ctx context.Context) (gencache.Stats, error) {
	if o.cache == nil {
		return gencache.Stats{}, nil
	}
	return o.cache.Stats(ctx)
}

// AvailableProviders lists providers with credentials configured.
func (o *Orchestrator) AvailableProviders() []string {
	return o.generator.AvailableProviders()
}
