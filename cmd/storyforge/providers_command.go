package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyforge/internal/config"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show configured generation providers and routing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				out := cmd.OutOrStdout()

				rows := [][]string{
					providerRow("claude", rt.cfg.Providers.Claude),
					providerRow("openai", rt.cfg.Providers.OpenAI),
					providerRow("bedrock", rt.cfg.Providers.Bedrock),
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Provider", "Configured", "Model", "In $/1M", "Out $/1M"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))

				routeRows := make([][]string, 0, len(rt.cfg.Fallback.Routes))
				for _, task := range []string{"simple", "script_generation", "refinement"} {
					route, ok := rt.cfg.Fallback.Routes[task]
					if !ok {
						continue
					}
					routeRows = append(routeRows, []string{task, strings.Join(route, " > ")})
				}
				if len(routeRows) > 0 {
					fmt.Fprintln(out, renderTable(
						[]string{"Task", "Provider Order"},
						routeRows,
						[]columnAlignment{alignLeft, alignLeft},
					))
				}
				return nil
			})
		},
	}
}

func providerRow(name string, p config.Provider) []string {
	return []string{
		name,
		yesNo(strings.TrimSpace(p.APIKey) != ""),
		p.Model,
		fmt.Sprintf("%.2f", p.InputCostPer1M),
		fmt.Sprintf("%.2f", p.OutputCostPer1M),
	}
}
