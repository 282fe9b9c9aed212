package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered providers and the provider selected by preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := ""
			if res, err := ctx.resolve(); err == nil {
				selected = res.Name
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tEMBED\tIMAGE\tSELECTED")
			for _, name := range ctx.registry.Names() {
				provider, _ := ctx.registry.Get(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name,
					yesNo(supportsEmbed(provider)), yesNo(supportsImages(provider)), yesNo(name == selected))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			breaker := ctx.conn.Breaker().Config()
			fmt.Fprintf(cmd.OutOrStdout(), "\ncircuit breaker: failure_threshold=%d cooldown=%s success_threshold=%d\n",
				breaker.FailureThreshold, breaker.Cooldown, breaker.SuccessThreshold)
			return nil
		},
	}
}

func supportsEmbed(p llm.Provider) bool {
	_, ok := llm.Unwrap(p).(llm.Embedder)
	return ok
}

func supportsImages(p llm.Provider) bool {
	_, ok := llm.Unwrap(p).(llm.ImageGenerator)
	return ok
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
