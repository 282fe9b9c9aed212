package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

type embeddingOutput struct {
	Input      string    `json:"input"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

func newEmbedCommand(ctx *commandContext) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "embed <text>...",
		Short: "Embed each argument and print one JSON line per input",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ctx.resolve()
			if err != nil {
				return err
			}
			embedder, ok := res.Provider.(llm.Embedder)
			if _, inner := llm.Unwrap(res.Provider).(llm.Embedder); !ok || !inner {
				return fmt.Errorf("%s: %w", res.Name, llm.ErrUnsupported)
			}
			cached, err := llm.NewCachedEmbedder(embedder, ctx.cfg.EmbeddingCacheSize)
			if err != nil {
				return err
			}

			resp, err := cached.Embed(cmd.Context(), &llm.EmbeddingRequest{Model: res.Model, Input: args})
			if err != nil {
				return describeError(err)
			}
			ctx.logger.Debug().
				Str("model", resp.Model).
				Int("inputs", len(args)).
				Int("cached", cached.Len()).
				Msg("Embedded inputs")

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i, vec := range resp.Embeddings {
				line := embeddingOutput{Input: args[i], Dimensions: len(vec)}
				if full {
					line.Embedding = vec
				}
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Include the vectors in the output")
	return cmd
}
