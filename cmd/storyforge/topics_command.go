package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newTopicsCommand(ctx *commandContext) *cobra.Command {
	var (
		category string
		style    string
		count    int
	)

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Brainstorm video topic ideas with the configured providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				ideas, err := rt.orch.SuggestTopics(runCtx, category, style, count)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(ideas) == 0 {
					fmt.Fprintln(out, "No topic ideas returned")
					return nil
				}
				rows := make([][]string, 0, len(ideas))
				for _, idea := range ideas {
					rows = append(rows, []string{idea.Topic, idea.Why, idea.EstimatedViews})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Topic", "Why", "Est. Views"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Topic category (e.g. science, history)")
	cmd.Flags().StringVar(&style, "style", "", "Content style hint (e.g. documentary, explainer)")
	cmd.Flags().IntVar(&count, "count", 5, "Number of ideas to request")
	return cmd
}
