package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storyforge/internal/job"
	"storyforge/internal/orchestrator"
)

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var style, tone, audience, length string
	var sets []string

	cmd := &cobra.Command{
		Use:   "submit <topic>",
		Short: "Queue a new content job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(strings.Join(args, " "))
			bag := map[string]any{}
			for key, value := range map[string]string{
				"style":    style,
				"tone":     tone,
				"audience": audience,
				"length":   length,
			} {
				if strings.TrimSpace(value) != "" {
					bag[key] = strings.TrimSpace(value)
				}
			}
			for _, pair := range sets {
				key, value, found := strings.Cut(pair, "=")
				if !found || strings.TrimSpace(key) == "" {
					return fmt.Errorf("invalid --set value %q (expected key=value)", pair)
				}
				bag[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
			encoded, err := json.Marshal(bag)
			if err != nil {
				return fmt.Errorf("encode job config: %w", err)
			}

			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				jb, err := rt.orch.SubmitJob(runCtx, topic, string(encoded))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d: %s (stage %s)\n", jb.ID, displayTopic(jb.Topic), jb.Stage)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&style, "style", "", "Content style hint (e.g. documentary, explainer)")
	cmd.Flags().StringVar(&tone, "tone", "", "Tone hint (e.g. casual, formal)")
	cmd.Flags().StringVar(&audience, "audience", "", "Target audience hint")
	cmd.Flags().StringVar(&length, "length", "", "Target length hint (e.g. 5 minutes)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Extra job config as key=value (repeatable)")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var stageFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var stages []job.Stage
			for _, value := range stageFilters {
				stage, ok := job.ParseStage(strings.TrimSpace(value))
				if !ok {
					return fmt.Errorf("unknown stage %q", value)
				}
				stages = append(stages, stage)
			}

			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				jobs, err := rt.orch.Jobs(runCtx, stages...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs found")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(jobs))
				for _, jb := range jobs {
					errText := jb.ErrorMessage
					if len(errText) > 40 {
						errText = errText[:37] + "..."
					}
					rows = append(rows, []string{
						strconv.FormatInt(jb.ID, 10),
						displayTopic(jb.Topic),
						colorStage(jb.Stage, colorize),
						strconv.Itoa(jb.Revision),
						formatRelative(jb.UpdatedAt),
						errText,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Topic", "Stage", "Rev", "Updated", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&stageFilters, "stage", nil, "Filter by stage (repeatable)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var showPayload bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show full detail for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				status, err := rt.orch.Status(runCtx, id)
				if err != nil {
					return err
				}
				renderJobStatus(cmd, status, showPayload)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showPayload, "payload", false, "Include full artifact payloads")
	return cmd
}

func renderJobStatus(cmd *cobra.Command, status *orchestrator.JobStatus, showPayload bool) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	jb := status.Job

	fmt.Fprintf(out, "Job %d: %s\n", jb.ID, displayTopic(jb.Topic))
	fmt.Fprintf(out, "  Stage:     %s\n", colorStage(jb.Stage, colorize))
	fmt.Fprintf(out, "  Revision:  %d\n", jb.Revision)
	fmt.Fprintf(out, "  Created:   %s\n", formatTimestamp(jb.CreatedAt))
	fmt.Fprintf(out, "  Updated:   %s\n", formatTimestamp(jb.UpdatedAt))
	if jb.PublishedAt != nil {
		fmt.Fprintf(out, "  Published: %s\n", formatTimestamp(*jb.PublishedAt))
	}
	if jb.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:     %s (failed in %s)\n", jb.ErrorMessage, jb.FailedStage)
	}
	if strings.TrimSpace(jb.ConfigJSON) != "" && jb.ConfigJSON != "{}" {
		fmt.Fprintf(out, "  Config:    %s\n", jb.ConfigJSON)
	}

	if pending := status.PendingApproval; pending != nil {
		fmt.Fprintf(out, "  Awaiting:  %s approval (requested %s)\n",
			pending.Checkpoint, formatRelative(pending.RequestedAt))
	}

	fmt.Fprintf(out, "  Cost:      %s\n", formatCost(status.CostToDate))
	for provider, cost := range status.CostByProvider {
		fmt.Fprintf(out, "    %-10s %s\n", provider+":", formatCost(cost))
	}

	if len(status.Artifacts) > 0 {
		rows := make([][]string, 0, len(status.Artifacts))
		for _, artifact := range status.Artifacts {
			rows = append(rows, []string{
				string(artifact.Kind),
				strconv.Itoa(artifact.Revision),
				artifact.Provider,
				artifact.ModelID,
				formatBytes(int64(len(artifact.Payload))),
				formatTimestamp(artifact.CreatedAt),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Artifact", "Rev", "Provider", "Model", "Size", "Created"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
		))
		if showPayload {
			for _, artifact := range status.Artifacts {
				fmt.Fprintf(out, "\n--- %s (revision %d) ---\n%s\n", artifact.Kind, artifact.Revision, artifact.Payload)
			}
		}
	}
}

func newAdvanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <job-id>",
		Short: "Drive a job through its next pipeline step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				jb, err := rt.orch.AdvanceStage(runCtx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d advanced to %s\n", jb.ID, jb.Stage)
				return nil
			})
		},
	}
}

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "approve <job-id>",
		Short: "Approve the pending checkpoint for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				jb, err := rt.orch.Decide(runCtx, id, true, notes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d approved; now %s\n", jb.ID, jb.Stage)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Optional reviewer notes")
	return cmd
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "reject <job-id>",
		Short: "Reject the pending checkpoint and request another revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(notes) == "" {
				return fmt.Errorf("rejection requires --notes so the next revision knows what to fix")
			}
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				jb, err := rt.orch.Decide(runCtx, id, false, notes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d rejected; back to %s for revision %d\n", jb.ID, jb.Stage, jb.Revision)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "What the next revision should change")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Send a failed job back to the stage where it failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				jb, err := rt.orch.Retry(runCtx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d retrying from %s\n", jb.ID, jb.Stage)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				jb, err := rt.orch.Cancel(runCtx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d cancelled\n", jb.ID)
				return nil
			})
		},
	}
}
