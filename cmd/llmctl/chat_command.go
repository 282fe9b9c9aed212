package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

type chatOptions struct {
	system    string
	maxTokens int64
	tools     bool
	usage     bool
}

func (o *chatOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.system, "system", "s", "", "System prompt")
	cmd.Flags().Int64Var(&o.maxTokens, "max-tokens", 0, "Maximum tokens to generate (provider default when 0)")
	cmd.Flags().BoolVar(&o.tools, "tools", false, "Offer the built-in tools to the model")
	cmd.Flags().BoolVar(&o.usage, "usage", false, "Print token usage to stderr")
}

func newChatCommand(ctx *commandContext) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Send a prompt and print the complete reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ctx.resolve()
			if err != nil {
				return err
			}
			req := newRequest(res, opts, strings.Join(args, " "))
			tools := ctx.toolRegistry(opts.tools)

			result, err := llm.RunTools(cmd.Context(), res.Provider, req, tools, ctx.loopOptions(nil))
			if err != nil {
				return describeError(err)
			}
			out := cmd.OutOrStdout()
			if result.Final.Thinking != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "[thinking] %s\n", result.Final.Thinking)
			}
			fmt.Fprintln(out, result.Final.Text)
			if opts.usage {
				printUsage(cmd.ErrOrStderr(), res.Name, result)
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

func newStreamCommand(ctx *commandContext) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "stream <prompt>",
		Short: "Send a prompt and print the reply as it streams",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ctx.resolve()
			if err != nil {
				return err
			}
			req := newRequest(res, opts, strings.Join(args, " "))
			tools := ctx.toolRegistry(opts.tools)

			out := cmd.OutOrStdout()
			onChunk := func(chunk *llm.Chunk) error {
				if chunk.Content != "" {
					fmt.Fprint(out, chunk.Content)
				}
				for _, delta := range chunk.ToolCalls {
					if delta.Name != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "\n[tool] %s\n", delta.Name)
					}
				}
				return nil
			}

			result, err := llm.RunToolsStream(cmd.Context(), res.Provider, req, tools, ctx.loopOptions(onChunk))
			if err != nil {
				fmt.Fprintln(out)
				return describeError(err)
			}
			fmt.Fprintln(out)
			if opts.usage {
				printUsage(cmd.ErrOrStderr(), res.Name, result)
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

func newRequest(res *llm.Resolution, opts *chatOptions, prompt string) *llm.Request {
	return &llm.Request{
		Model:       res.Model,
		System:      opts.system,
		Messages:    []llm.Message{llm.NewTextMessage(llm.RoleUser, prompt)},
		MaxTokens:   opts.maxTokens,
		Temperature: res.Temperature,
	}
}

func (c *commandContext) toolRegistry(enabled bool) *llm.ToolRegistry {
	if !enabled {
		return llm.NewToolRegistry(c.logger)
	}
	return builtinTools(c.logger)
}

func (c *commandContext) loopOptions(onChunk func(*llm.Chunk) error) llm.ToolLoopOptions {
	return llm.ToolLoopOptions{
		MaxRounds: c.cfg.MaxToolRounds,
		Limits:    c.cfg.AccumulatorLimits(),
		OnChunk:   onChunk,
		Logger:    c.logger,
	}
}

func printUsage(out io.Writer, provider string, result *llm.ToolLoopResult) {
	fmt.Fprintf(out, "provider=%s model=%s rounds=%d input_tokens=%d output_tokens=%d cache_read=%d\n",
		provider, result.Final.Model, result.Rounds,
		result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.CacheReadInputTokens)
}

// describeError adds a hint for the error categories a user can act on.
func describeError(err error) error {
	switch {
	case llm.IsAuthenticationError(err):
		return fmt.Errorf("%w (check the provider API key)", err)
	case llm.IsCircuitOpenError(err):
		return fmt.Errorf("%w (the endpoint failed repeatedly; retry later)", err)
	case llm.IsRateLimitError(err):
		return fmt.Errorf("%w (rate limited by the provider)", err)
	case errors.Is(err, llm.ErrMaxToolRounds):
		return fmt.Errorf("%w (raise max_tool_rounds in the configuration)", err)
	default:
		return err
	}
}
