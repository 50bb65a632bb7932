package job

import "strings"

// Stage represents a point in the job lifecycle.
type Stage string

const (
	StagePendingScript           Stage = "pending_script"
	StageAwaitingScriptApproval  Stage = "awaiting_script_approval"
	StageGeneratingMedia         Stage = "generating_media"
	StageAwaitingVideoApproval   Stage = "awaiting_video_approval"
	StageReadyToPublish          Stage = "ready_to_publish"
	StageAwaitingPublishApproval Stage = "awaiting_publish_approval"
	StagePublished               Stage = "published"
	StageFailed                  Stage = "failed"
	StageCancelled               Stage = "cancelled"
)

// Trigger names an event that moves a job between stages.
type Trigger string

const (
	TriggerScriptGenerated  Trigger = "script_generated"
	TriggerMediaGenerated   Trigger = "media_generated"
	TriggerPublishPrepared  Trigger = "publish_prepared"
	TriggerApproved         Trigger = "approved"
	TriggerRejected         Trigger = "rejected"
	TriggerGenerationFailed Trigger = "generation_failed"
	TriggerCancelled        Trigger = "cancelled"
)

var allStages = []Stage{
	StagePendingScript,
	StageAwaitingScriptApproval,
	StageGeneratingMedia,
	StageAwaitingVideoApproval,
	StageReadyToPublish,
	StageAwaitingPublishApproval,
	StagePublished,
	StageFailed,
	StageCancelled,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

// transitions is the exhaustive (stage, trigger) -> stage table. Any pair not
// listed here is an invalid transition.
var transitions = map[Stage]map[Trigger]Stage{
	StagePendingScript: {
		TriggerScriptGenerated:  StageAwaitingScriptApproval,
		TriggerGenerationFailed: StageFailed,
		TriggerCancelled:        StageCancelled,
	},
	StageAwaitingScriptApproval: {
		TriggerApproved:  StageGeneratingMedia,
		TriggerRejected:  StagePendingScript,
		TriggerCancelled: StageCancelled,
	},
	StageGeneratingMedia: {
		TriggerMediaGenerated:   StageAwaitingVideoApproval,
		TriggerGenerationFailed: StageFailed,
		TriggerCancelled:        StageCancelled,
	},
	StageAwaitingVideoApproval: {
		TriggerApproved:  StageReadyToPublish,
		TriggerRejected:  StageGeneratingMedia,
		TriggerCancelled: StageCancelled,
	},
	StageReadyToPublish: {
		TriggerPublishPrepared: StageAwaitingPublishApproval,
		TriggerCancelled:       StageCancelled,
	},
	StageAwaitingPublishApproval: {
		TriggerApproved:  StagePublished,
		TriggerRejected:  StageReadyToPublish,
		TriggerCancelled: StageCancelled,
	},
	// failed is retryable via the store, so it is not terminal and an
	// operator can still abandon it.
	StageFailed: {
		TriggerCancelled: StageCancelled,
	},
}

// generationStages are the producing stages that require a text generation
// call before they can advance.
var generationStages = map[Stage]struct{}{
	StagePendingScript:   {},
	StageGeneratingMedia: {},
}

// checkpointByStage maps each awaiting stage to the checkpoint it gates.
var checkpointByStage = map[Stage]Checkpoint{
	StageAwaitingScriptApproval:  CheckpointScript,
	StageAwaitingVideoApproval:   CheckpointVideo,
	StageAwaitingPublishApproval: CheckpointPublish,
}

// Advance computes the next stage for a (stage, trigger) pair. It is a pure
// function; callers persist the result. Unknown pairs return
// ErrInvalidTransition.
func Advance(stage Stage, trigger Trigger) (Stage, error) {
	edges, ok := transitions[stage]
	if !ok {
		return "", invalidTransition(stage, trigger)
	}
	next, ok := edges[trigger]
	if !ok {
		return "", invalidTransition(stage, trigger)
	}
	return next, nil
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// RequiresGeneration reports whether a stage needs generated content before it
// can advance.
func RequiresGeneration(stage Stage) bool {
	_, ok := generationStages[stage]
	return ok
}

// AwaitsApproval reports whether a stage is gated by a pending human decision.
func AwaitsApproval(stage Stage) bool {
	_, ok := checkpointByStage[stage]
	return ok
}

// CheckpointFor returns the checkpoint gated by an awaiting stage.
func CheckpointFor(stage Stage) (Checkpoint, bool) {
	cp, ok := checkpointByStage[stage]
	return cp, ok
}

// GeneratedTriggerFor returns the trigger fired when generation succeeds in a
// producing stage.
func GeneratedTriggerFor(stage Stage) (Trigger, bool) {
	switch stage {
	case StagePendingScript:
		return TriggerScriptGenerated, true
	case StageGeneratingMedia:
		return TriggerMediaGenerated, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no trigger can move the job out of the stage.
func IsTerminal(stage Stage) bool {
	switch stage {
	case StagePublished, StageCancelled:
		return true
	default:
		return false
	}
}
