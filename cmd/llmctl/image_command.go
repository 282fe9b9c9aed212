package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

func newImageCommand(ctx *commandContext) *cobra.Command {
	req := llm.ImageRequest{}
	cmd := &cobra.Command{
		Use:   "image <prompt>",
		Short: "Generate images from a prompt and print their URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ctx.resolve()
			if err != nil {
				return err
			}
			generator, ok := res.Provider.(llm.ImageGenerator)
			if _, inner := llm.Unwrap(res.Provider).(llm.ImageGenerator); !ok || !inner {
				return fmt.Errorf("%s: %w", res.Name, llm.ErrUnsupported)
			}

			req.Prompt = strings.Join(args, " ")
			if ctx.opts.model != "" {
				req.Model = ctx.opts.model
			}
			resp, err := generator.GenerateImage(cmd.Context(), &req)
			if err != nil {
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			for _, img := range resp.Images {
				switch {
				case img.URL != "":
					fmt.Fprintln(out, img.URL)
				case img.B64JSON != "":
					fmt.Fprintln(out, img.B64JSON)
				}
				if img.RevisedPrompt != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "revised prompt: %s\n", img.RevisedPrompt)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&req.N, "count", "n", 1, "Number of images")
	cmd.Flags().StringVar(&req.Size, "size", "1024x1024", "Image size")
	cmd.Flags().StringVar(&req.ResponseFormat, "format", "url", "Response format (url or b64_json)")
	return cmd
}
