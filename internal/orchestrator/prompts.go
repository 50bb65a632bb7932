package orchestrator

import (
	"fmt"
	"strings"

	"storyforge/internal/job"
)

const scriptSystemPrompt = `You are a video script writer. Respond with JSON only, ` +
	`using the shape {"title": string, "hook": string, "sections": [{"heading": string, "narration": string}], "outro": string}.`

const mediaPlanSystemPrompt = `You are a video production planner. Respond with JSON only, ` +
	`using the shape {"scenes": [{"section": string, "visual": string, "duration_seconds": number}], "music": string}.`

const topicSystemPrompt = `You are a video content strategist. Respond with JSON only, ` +
	`using the shape [{"topic": string, "why": string, "estimated_views": string}].`

// buildTopicPrompt assembles the user prompt for topic brainstorming.
func buildTopicPrompt(category, style string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d video topic ideas.\n", count)
	if category = strings.TrimSpace(category); category != "" {
		fmt.Fprintf(&b, "Category: %s\n", category)
	}
	if style = strings.TrimSpace(style); style != "" {
		fmt.Fprintf(&b, "Style: %s\n", style)
	}
	b.WriteString("For each idea explain why it would perform well and estimate its view potential.")
	return b.String()
}

// buildScriptPrompt assembles the user prompt for script generation from the
// job topic and its config bag. Revisions past the first include the previous
// draft and the reviewer's notes so the model refines instead of starting
// over.
func buildScriptPrompt(jb *job.Job, previous *job.Artifact, notes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a video script about: %s\n", strings.TrimSpace(jb.Topic))
	fmt.Fprintf(&b, "Style: %s\n", jb.ConfigString("style", "educational"))
	fmt.Fprintf(&b, "Tone: %s\n", jb.ConfigString("tone", "engaging"))
	fmt.Fprintf(&b, "Audience: %s\n", jb.ConfigString("audience", "general"))
	fmt.Fprintf(&b, "Target length: %s\n", jb.ConfigString("length", "3-5 minutes"))

	if previous != nil {
		b.WriteString("\nThis is a revision. Previous draft:\n")
		b.WriteString(previous.Payload)
		if notes = strings.TrimSpace(notes); notes != "" {
			b.WriteString("\n\nReviewer notes to address:\n")
			b.WriteString(notes)
		}
	}
	return b.String()
}

// buildMediaPlanPrompt assembles the user prompt for media planning from the
// approved script.
func buildMediaPlanPrompt(jb *job.Job, script *job.Artifact, previous *job.Artifact, notes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan the visuals for a video about: %s\n", strings.TrimSpace(jb.Topic))
	if script != nil {
		b.WriteString("\nApproved script:\n")
		b.WriteString(script.Payload)
	}
	if previous != nil {
		b.WriteString("\n\nThis is a revision. Previous plan:\n")
		b.WriteString(previous.Payload)
		if notes = strings.TrimSpace(notes); notes != "" {
			b.WriteString("\n\nReviewer notes to address:\n")
			b.WriteString(notes)
		}
	}
	return b.String()
}
