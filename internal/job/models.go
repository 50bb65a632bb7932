package job

import (
	"encoding/json"
	"strings"
	"time"
)

// Checkpoint identifies which pipeline output an approval gates.
type Checkpoint string

const (
	CheckpointScript  Checkpoint = "script"
	CheckpointVideo   Checkpoint = "video"
	CheckpointPublish Checkpoint = "publish"
)

// ApprovalStatus is the lifecycle of a human decision.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ArtifactKind distinguishes the generated outputs stored per job.
type ArtifactKind string

const (
	ArtifactScript    ArtifactKind = "script"
	ArtifactMediaPlan ArtifactKind = "media_plan"
)

// Job is the unit of work moving through the pipeline, persisted in SQLite.
type Job struct {
	ID           int64
	Topic        string
	ConfigJSON   string
	Stage        Stage
	Revision     int
	ErrorMessage string
	FailedStage  Stage
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PublishedAt  *time.Time
}

// Approval is a pending or resolved decision gating a checkpoint.
type Approval struct {
	ID          int64
	JobID       int64
	Checkpoint  Checkpoint
	Status      ApprovalStatus
	Notes       string
	RequestedAt time.Time
	RespondedAt *time.Time
}

// Artifact is a generated output retained for audit, one row per revision.
type Artifact struct {
	ID        int64
	JobID     int64
	Kind      ArtifactKind
	Revision  int
	Payload   string
	ModelID   string
	Provider  string
	CreatedAt time.Time
}

// IsComplete reports whether the job has been published.
func (j *Job) IsComplete() bool {
	return j.Stage == StagePublished
}

// NeedsApproval reports whether the job is parked at an approval gate.
func (j *Job) NeedsApproval() bool {
	return AwaitsApproval(j.Stage)
}

// ConfigValue returns a configuration value from the job's JSON config bag.
func (j *Job) ConfigValue(key string) (any, bool) {
	if strings.TrimSpace(j.ConfigJSON) == "" {
		return nil, false
	}
	var bag map[string]any
	if err := json.Unmarshal([]byte(j.ConfigJSON), &bag); err != nil {
		return nil, false
	}
	value, ok := bag[key]
	return value, ok
}

// ConfigString returns a string configuration value or the supplied default.
func (j *Job) ConfigString(key, fallback string) string {
	value, ok := j.ConfigValue(key)
	if !ok {
		return fallback
	}
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// ConfigBool returns a boolean configuration value or the supplied default.
func (j *Job) ConfigBool(key string, fallback bool) bool {
	value, ok := j.ConfigValue(key)
	if !ok {
		return fallback
	}
	b, ok := value.(bool)
	if !ok {
		return fallback
	}
	return b
}

// IsPending reports whether the approval still awaits a decision.
func (a *Approval) IsPending() bool {
	return a.Status == ApprovalPending
}

// ResponseTime returns how long the decision took, or zero when unresolved.
func (a *Approval) ResponseTime() time.Duration {
	if a.RespondedAt == nil {
		return 0
	}
	return a.RespondedAt.Sub(a.RequestedAt)
}

// ArtifactKindFor maps a producing stage to the artifact kind it generates.
func ArtifactKindFor(stage Stage) (ArtifactKind, bool) {
	switch stage {
	case StagePendingScript:
		return ArtifactScript, true
	case StageGeneratingMedia:
		return ArtifactMediaPlan, true
	default:
		return "", false
	}
}
