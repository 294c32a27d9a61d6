// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot questions.
//
// Examples:
//   switchboard ask "What is the capital of France?"
//   switchboard ask --model mistralai/Mixtral-8x7B-Instruct-v0.1 "Explain SSE"
//   git diff | switchboard ask -s "Review this diff" -
//
// Tokens are printed as they arrive. With markdown rendering on and stdout
// a terminal, the reply is shown once complete, rendered with glamour.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/mcp-switchboard/switchboard/internal/cloud"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownOnce     sync.Once
	markdownRenderer *glamour.TermRenderer
)

// renderMarkdown renders content for the terminal. It returns content
// unchanged when the renderer cannot be created or fails.
func renderMarkdown(content string) string {
	markdownOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(GetTerminalWidth()-4, 100)),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}

	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// STREAM OUTPUT
// =============================================================================

// replyOptions controls how printReply shows a stream.
type replyOptions struct {
	// Render buffers the reply and prints it as rendered markdown.
	Render bool
	// Status receives progress notes while rendering is buffered.
	Status io.Writer
}

// printReply drains ch, writing content to w, and returns the full reply
// text and the stream's error, if any.
func printReply(w io.Writer, ch <-chan cloud.StreamMessage, opts replyOptions) (string, cloud.StreamStats, error) {
	acc := cloud.NewStreamAccumulator()

	if opts.Render && opts.Status != nil {
		fmt.Fprint(opts.Status, DimStyle.Render("thinking..."))
	}

	for msg := range ch {
		acc.Add(msg)
		if msg.Kind == cloud.StreamContent && !opts.Render {
			fmt.Fprint(w, msg.Content)
		}
	}

	if opts.Render && opts.Status != nil {
		fmt.Fprint(opts.Status, "\r\033[K")
	}

	content := acc.GetContent()
	switch {
	case opts.Render && content != "":
		fmt.Fprint(w, renderMarkdown(content))
	case content != "" && !strings.HasSuffix(content, "\n"):
		fmt.Fprintln(w)
	}
	return content, acc.GetStats(), acc.Err
}

// shouldRender resolves --render against the settings and the terminal.
func shouldRender(cmd *cobra.Command, rt *runtime, flag bool) bool {
	render := rt.settings.UI.RenderMarkdown
	if cmd.Flags().Changed("render") {
		render = flag
	}
	return render && isTerminal(cmd.OutOrStdout())
}

// terminalOrNil returns w if it is a terminal, so progress notes never end
// up in redirected output.
func terminalOrNil(w io.Writer) io.Writer {
	if isTerminal(w) {
		return w
	}
	return nil
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func askCmd(rt *runtime) *cobra.Command {
	var (
		model  string
		system string
		render bool
		stats  bool

		temperature float64
		maxTokens   int
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt...>",
		Short: "Ask a single question and stream the answer",
		Long: `Ask a single question and stream the answer.

Use "-" as the prompt to read it from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			opts, err := chatOptions(cmd, temperature, maxTokens)
			if err != nil {
				return err
			}
			if err := ensureConfigured(cmd, rt); err != nil {
				return err
			}

			var history []cloud.ChatMessage
			if system = strings.TrimSpace(system); system != "" {
				history = append(history, cloud.NewSystemMessage(system))
			}

			ch, err := rt.svc.StreamChatModel(cmd.Context(), model, history, prompt, opts...)
			if err != nil {
				return err
			}

			_, st, err := printReply(cmd.OutOrStdout(), ch, replyOptions{
				Render: shouldRender(cmd, rt, render),
				Status: terminalOrNil(cmd.ErrOrStderr()),
			})
			if err != nil {
				return err
			}
			warnTruncated(cmd.ErrOrStderr(), st)

			if stats {
				fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render(formatStats(st)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model for this request (default: preferred model)")
	cmd.Flags().StringVarP(&system, "system", "s", "", "system prompt")
	cmd.Flags().BoolVar(&render, "render", true, "render the answer as markdown on a terminal")
	cmd.Flags().BoolVar(&stats, "stats", false, "print timing to stderr")
	addChatOptionFlags(cmd, &temperature, &maxTokens)
	return cmd
}

// addChatOptionFlags registers --temperature and --max-tokens.
func addChatOptionFlags(cmd *cobra.Command, temperature *float64, maxTokens *int) {
	cmd.Flags().Float64VarP(temperature, "temperature", "t", 0, "sampling temperature, 0 to 2 (default: model default)")
	cmd.Flags().IntVar(maxTokens, "max-tokens", 0, "maximum reply length in tokens (default: model default)")
}

// chatOptions turns the flags into request options. Unset flags leave the
// server defaults.
func chatOptions(cmd *cobra.Command, temperature float64, maxTokens int) ([]cloud.ChatOption, error) {
	var opts []cloud.ChatOption
	if cmd.Flags().Changed("temperature") {
		if temperature < 0 || temperature > 2 {
			return nil, usageErrorf("--temperature must be between 0 and 2, got %g", temperature)
		}
		opts = append(opts, cloud.WithTemperature(temperature))
	}
	if cmd.Flags().Changed("max-tokens") {
		if maxTokens <= 0 {
			return nil, usageErrorf("--max-tokens must be positive, got %d", maxTokens)
		}
		opts = append(opts, cloud.WithMaxTokens(maxTokens))
	}
	return opts, nil
}

// warnTruncated notes a reply that stopped at the token limit.
func warnTruncated(w io.Writer, st cloud.StreamStats) {
	if st.FinishReason == "length" {
		fmt.Fprintln(w, WarningStyle.Render("[reply cut off at the token limit]"))
	}
}

// readPrompt joins args, or reads stdin when the only arg is "-".
func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		text, err := readAll(in)
		if err != nil {
			return "", err
		}
		args = []string{text}
	}

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", usageErrorf("prompt is empty")
	}
	return prompt, nil
}

func formatStats(st cloud.StreamStats) string {
	s := fmt.Sprintf("%d chunks, first token %s, total %s",
		st.TokenCount,
		st.FirstTokenTime.Round(time.Millisecond),
		st.TotalTime.Round(time.Millisecond),
	)
	if st.FinishReason != "" {
		s += ", finish " + st.FinishReason
	}
	return s
}

// interrupted reports whether err is the caller's own cancellation.
func interrupted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}
