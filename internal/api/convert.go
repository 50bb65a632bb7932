package api

import (
	"time"

	"storyforge/internal/gencache"
	"storyforge/internal/job"
	"storyforge/internal/orchestrator"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(dateTimeFormat)
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return formatTime(*ts)
}

// FromJob converts a persisted job into its transport view.
func FromJob(jb *job.Job) JobView {
	if jb == nil {
		return JobView{}
	}
	return JobView{
		ID:           jb.ID,
		Topic:        jb.Topic,
		Stage:        string(jb.Stage),
		Revision:     jb.Revision,
		ErrorMessage: jb.ErrorMessage,
		FailedStage:  string(jb.FailedStage),
		CreatedAt:    formatTime(jb.CreatedAt),
		UpdatedAt:    formatTime(jb.UpdatedAt),
		PublishedAt:  formatTimePtr(jb.PublishedAt),
	}
}

// FromJobs converts a job slice, preserving order.
func FromJobs(jobs []*job.Job) []JobView {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]JobView, 0, len(jobs))
	for _, jb := range jobs {
		out = append(out, FromJob(jb))
	}
	return out
}

// FromApproval converts an approval into its transport view.
func FromApproval(a *job.Approval) *ApprovalView {
	if a == nil {
		return nil
	}
	return &ApprovalView{
		ID:          a.ID,
		JobID:       a.JobID,
		Checkpoint:  string(a.Checkpoint),
		Status:      string(a.Status),
		Notes:       a.Notes,
		RequestedAt: formatTime(a.RequestedAt),
		RespondedAt: formatTimePtr(a.RespondedAt),
	}
}

// FromArtifact converts an artifact into its transport view. The payload body
// stays server-side; only its size travels over the wire.
func FromArtifact(a *job.Artifact) ArtifactView {
	if a == nil {
		return ArtifactView{}
	}
	return ArtifactView{
		ID:        a.ID,
		JobID:     a.JobID,
		Kind:      string(a.Kind),
		Revision:  a.Revision,
		Provider:  a.Provider,
		ModelID:   a.ModelID,
		Bytes:     len(a.Payload),
		CreatedAt: formatTime(a.CreatedAt),
	}
}

// FromJobStatus converts the orchestrator's aggregate job view.
func FromJobStatus(status *orchestrator.JobStatus) JobDetail {
	if status == nil {
		return JobDetail{}
	}
	detail := JobDetail{
		Job:             FromJob(status.Job),
		PendingApproval: FromApproval(status.PendingApproval),
		CostToDate:      status.CostToDate,
		CostByProvider:  status.CostByProvider,
	}
	detail.Artifacts = make([]ArtifactView, 0, len(status.Artifacts))
	for _, artifact := range status.Artifacts {
		detail.Artifacts = append(detail.Artifacts, FromArtifact(artifact))
	}
	return detail
}

// FromCacheStats converts generation cache statistics.
func FromCacheStats(stats gencache.Stats) CacheStats {
	return CacheStats{
		Entries:      stats.Entries,
		TotalBytes:   stats.TotalBytes,
		MaxBytes:     stats.MaxBytes,
		TTL:          stats.TTL,
		Hits:         stats.Hits,
		Misses:       stats.Misses,
		HitRate:      stats.HitRate,
		Oldest:       formatTimePtr(stats.Oldest),
		Newest:       formatTimePtr(stats.Newest),
		FreeBytes:    stats.FreeBytes,
		TotalFSBytes: stats.TotalFSBytes,
	}
}

// FromStageCounts converts stage tallies to string keys for JSON payloads.
func FromStageCounts(counts map[job.Stage]int) map[string]int {
	if len(counts) == 0 {
		return map[string]int{}
	}
	out := make(map[string]int, len(counts))
	for stage, count := range counts {
		out[string(stage)] = count
	}
	return out
}
