// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /clear, /c          Clear conversation history
//   /model [id]         Show or switch the preferred model
//   /models             List available models
//   /exit, /quit, /q    Exit chat
//   Ctrl+C              Cancel the current reply (at the prompt: exit)
//   Ctrl+D              Exit chat
//
// The session watches the encrypted config. When another process saves a
// new key or model, the next prompt reports it and later messages use it.

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mcp-switchboard/switchboard/internal/cloud"
	"github.com/mcp-switchboard/switchboard/internal/util"
)

const historyFileName = "chat_history"

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides readline-style input with history.
type lineReader struct {
	line        *liner.State
	historyFile string
	log         logrus.FieldLogger
}

func newLineReader(dir string, log logrus.FieldLogger) *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &lineReader{
		line:        line,
		historyFile: filepath.Join(dir, historyFileName),
		log:         log,
	}
	if f, err := os.Open(r.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return r
}

// ReadLine reads one line and records non-empty input in the history.
func (r *lineReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (r *lineReader) Close() error {
	var buf bytes.Buffer
	if _, err := r.line.WriteHistory(&buf); err == nil {
		if err := util.AtomicWriteFile(r.historyFile, buf.Bytes(), 0600, 0700); err != nil {
			r.log.WithError(err).WithField("path", r.historyFile).Debug("chat history not saved")
		}
	}
	return r.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession holds the state of one REPL run.
type chatSession struct {
	rt     *runtime
	out    io.Writer
	errOut io.Writer
	render bool

	system  string
	history []cloud.ChatMessage
	model   string
	opts    []cloud.ChatOption

	configChanged atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newChatSession(rt *runtime, out, errOut io.Writer, system string, render bool) *chatSession {
	s := &chatSession{
		rt:     rt,
		out:    out,
		errOut: errOut,
		render: render,
		system: strings.TrimSpace(system),
		model:  rt.svc.CurrentModel(),
	}
	s.reset()
	return s
}

// reset clears the conversation, keeping the system prompt.
func (s *chatSession) reset() {
	s.history = s.history[:0]
	if s.system != "" {
		s.history = append(s.history, cloud.NewSystemMessage(s.system))
	}
}

// watch marks the session stale whenever the config file changes.
func (s *chatSession) watch(ctx context.Context) {
	events, err := s.rt.store.Watch(ctx)
	if err != nil {
		s.rt.log.WithError(err).Warn("config watcher unavailable")
		return
	}
	go func() {
		for range events {
			s.configChanged.Store(true)
		}
	}()
}

// refresh reports external config changes since the last prompt.
func (s *chatSession) refresh() {
	if !s.configChanged.Swap(false) {
		return
	}
	if model := s.rt.svc.CurrentModel(); model != s.model {
		s.model = model
		fmt.Fprintf(s.errOut, "%s model is now %s\n", WarningStyle.Render("[config changed]"), model)
	}
	if !s.rt.svc.HasAPIConfig() {
		fmt.Fprintf(s.errOut, "%s no API key is configured any more\n", WarningStyle.Render("[config changed]"))
	}
}

// interrupt cancels the reply in progress, if any.
func (s *chatSession) interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// send streams a reply to text. The exchange joins the history only when
// the reply completes.
func (s *chatSession) send(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.interrupt()
	}()

	ch, err := s.rt.svc.StreamChat(ctx, s.history, text, s.opts...)
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out)
	content, st, err := printReply(s.out, ch, replyOptions{Render: s.render})
	fmt.Fprintln(s.out)
	if err != nil {
		if interrupted(ctx, err) {
			fmt.Fprintln(s.errOut, WarningStyle.Render("[Cancelled]"))
			return nil
		}
		return err
	}
	warnTruncated(s.errOut, st)

	s.history = append(s.history, cloud.NewUserMessage(text), cloud.NewAssistantMessage(content))
	return nil
}

// handleCommand runs a slash command. It returns false when the session
// should end.
func (s *chatSession) handleCommand(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/exit", "/quit", "/q":
		return false, nil

	case "/help", "/h":
		fmt.Fprint(s.out, chatHelp)

	case "/clear", "/c":
		s.reset()
		fmt.Fprintln(s.out, DimStyle.Render("Conversation cleared."))

	case "/model":
		if len(args) == 0 {
			fmt.Fprintln(s.out, RenderField("Model", s.rt.svc.CurrentModel()))
			return true, nil
		}
		if err := s.rt.svc.SetPreferredModel(args[0]); err != nil {
			return true, err
		}
		s.model = s.rt.svc.CurrentModel()
		fmt.Fprintf(s.out, "%s Model set to %s\n", SuccessStyle.Render("[OK]"), s.model)

	case "/models":
		models, err := s.rt.svc.AvailableModels(ctx)
		if err != nil {
			return true, err
		}
		filter := ""
		if len(args) > 0 {
			filter = args[0]
		}
		renderModelTable(s.out, filterModels(models, filter), s.rt.svc.CurrentModel(), GetTerminalWidth())

	default:
		return true, usageErrorf("unknown command %s (try /help)", name)
	}
	return true, nil
}

const chatHelp = `Commands:
  /model [id]     Show or switch the preferred model
  /models [text]  List available models, optionally filtered
  /clear          Clear the conversation
  /exit           Exit (also Ctrl+D)
  Ctrl+C          Cancel the current reply
`

// =============================================================================
// CHAT COMMAND
// =============================================================================

func chatCmd(rt *runtime) *cobra.Command {
	var (
		system string
		render bool

		temperature float64
		maxTokens   int
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := chatOptions(cmd, temperature, maxTokens)
			if err != nil {
				return err
			}
			if err := ensureConfigured(cmd, rt); err != nil {
				return err
			}
			session := newChatSession(rt, cmd.OutOrStdout(), cmd.ErrOrStderr(), system, shouldRender(cmd, rt, render))
			session.opts = opts
			return session.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&system, "system", "s", "", "system prompt for the session")
	cmd.Flags().BoolVar(&render, "render", true, "render replies as markdown on a terminal")
	addChatOptionFlags(cmd, &temperature, &maxTokens)
	return cmd
}

// run is the REPL loop. Interrupts cancel the current reply instead of the
// process; SIGTERM ends the session.
func (s *chatSession) run(parent context.Context) error {
	ctx, stop := context.WithCancel(context.WithoutCancel(parent))
	defer stop()

	s.watch(ctx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case sig := <-sigs:
				if s.interrupt() {
					continue
				}
				if sig == syscall.SIGTERM {
					stop()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	reader := newLineReader(s.rt.store.Dir(), s.rt.log)
	defer reader.Close()

	fmt.Fprintln(s.out, TitleStyle.Render("Switchboard Chat"))
	fmt.Fprintf(s.out, "%s  %s\n\n", RenderField("Model", s.model), DimStyle.Render("/help for commands"))

	for ctx.Err() == nil {
		s.refresh()

		input, err := reader.ReadLine("you> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Fprintln(s.out)
			return nil
		}

		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case strings.HasPrefix(input, "/"):
			keepGoing, err := s.handleCommand(ctx, input)
			if err != nil {
				DisplayError(s.errOut, err)
			}
			if !keepGoing {
				return nil
			}
		default:
			if err := s.send(ctx, input); err != nil {
				DisplayError(s.errOut, err)
			}
		}
	}
	return nil
}
