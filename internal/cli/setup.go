// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// setup.go - First-run credential entry.
//
// "switchboard setup" asks for a Together.ai API key in a small Bubble Tea
// form with masked echo and saves it to the encrypted config. ask and chat
// open the same form when no key resolves and the terminal is interactive.

package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mcp-switchboard/switchboard/internal/configstore"
)

var setupBoxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("39")).
	Padding(1, 2)

// setupModel is the Bubble Tea model for the key prompt.
type setupModel struct {
	input     textinput.Model
	save      func(string) error
	err       error
	saved     bool
	cancelled bool
}

func newSetupModel(save func(string) error) setupModel {
	ti := textinput.New()
	ti.Placeholder = "paste your Together.ai API key"
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.CharLimit = 512
	ti.Width = 48
	ti.Focus()

	return setupModel{input: ti, save: save}
}

func (m setupModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit

		case tea.KeyEnter:
			if err := m.save(m.input.Value()); err != nil {
				m.err = err
				return m, nil
			}
			m.saved = true
			m.err = nil
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m setupModel) View() string {
	if m.saved || m.cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Switchboard Setup"))
	b.WriteString("\n")
	b.WriteString("The key is encrypted with a key bound to this user and host.\n")
	b.WriteString(DimStyle.Render("Get one at https://api.together.xyz/settings/api-keys"))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(ErrorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(DimStyle.Render("enter save • esc cancel"))
	return setupBoxStyle.Render(b.String())
}

// runSetup shows the form and reports whether a key was saved.
func runSetup(cmd *cobra.Command, rt *runtime) (bool, error) {
	if !isTerminal(cmd.InOrStdin()) {
		return false, &TTYRequiredError{
			Operation: "run setup",
			Hint:      "use 'switchboard config set-key --stdin' or set " + configstore.EnvAPIKey,
		}
	}

	p := tea.NewProgram(newSetupModel(rt.svc.SaveAPIConfig),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.ErrOrStderr()),
	)
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("setup failed: %w", err)
	}

	m := final.(setupModel)
	return m.saved, nil
}

// ensureConfigured opens setup when no key resolves on an interactive
// terminal. Elsewhere it does nothing and the caller's request reports
// the missing key.
func ensureConfigured(cmd *cobra.Command, rt *runtime) error {
	if rt.svc.HasAPIConfig() || !isTerminal(cmd.InOrStdin()) {
		return nil
	}

	fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render("No API key configured."))
	saved, err := runSetup(cmd, rt)
	if err != nil {
		return err
	}
	if !saved {
		return usageErrorf("setup cancelled")
	}
	return nil
}

func setupCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Enter and save a Together.ai API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			saved, err := runSetup(cmd, rt)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !saved {
				fmt.Fprintln(out, DimStyle.Render("Setup cancelled. Nothing was saved."))
				return nil
			}
			fmt.Fprintf(out, "%s API key saved to %s\n", SuccessStyle.Render("[OK]"), rt.store.Path())
			fmt.Fprintln(out, RenderField("Model", rt.svc.CurrentModel()))
			fmt.Fprintln(out, DimStyle.Render("Try: switchboard ask \"hello\""))
			return nil
		},
	}
}
