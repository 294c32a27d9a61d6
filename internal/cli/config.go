// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - "switchboard config" subcommands.
//
// Subcommands:
//   status [--json]      Where the credential comes from and the file state
//   path                 Print the encrypted config file path
//   show                 Print the decrypted config with the key redacted
//   set-key [--stdin]    Store an API key (hidden prompt or stdin)
//   set-model <id>       Store the preferred model
//   reset [--yes]        Remove the config file
//   watch                Report changes made by any process
//   init-settings        Write a default settings.toml

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcp-switchboard/switchboard/internal/config"
	"github.com/mcp-switchboard/switchboard/internal/configstore"
	"github.com/mcp-switchboard/switchboard/internal/security"
)

func configCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage the encrypted config",
	}
	cmd.AddCommand(
		configStatusCmd(rt),
		configPathCmd(rt),
		configShowCmd(rt),
		configSetKeyCmd(rt),
		configSetModelCmd(rt),
		configResetCmd(rt),
		configWatchCmd(rt),
		configInitSettingsCmd(rt),
	)
	return cmd
}

// configStatus is the --json shape of "config status".
type configStatus struct {
	Configured     bool   `json:"configured"`
	Source         string `json:"source"`
	Path           string `json:"path"`
	File           string `json:"file"`
	Model          string `json:"model"`
	KeyFingerprint string `json:"key_fingerprint,omitempty"`
}

func (rt *runtime) status() configStatus {
	st := configStatus{
		Source: string(rt.store.Source()),
		Path:   rt.store.Path(),
		File:   string(rt.store.FileState()),
		Model:  rt.svc.CurrentModel(),
	}
	st.Configured = st.Source != string(configstore.SourceNone)
	if key, ok, err := rt.svc.APIConfig(); err == nil && ok {
		st.KeyFingerprint = security.Fingerprint(key)
	}
	return st
}

func configStatusCmd(rt *runtime) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where the API key comes from and the config file state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := rt.status()
			out := cmd.OutOrStdout()

			if jsonOut {
				return NewJSONResponse("config status", st).Print(out)
			}

			fmt.Fprintln(out, TitleStyle.Render("Switchboard Config"))
			fmt.Fprintln(out, RenderLabel("Source")+RenderStatus(st.Source))
			fmt.Fprintln(out, RenderField("File", st.Path))
			fmt.Fprintln(out, RenderLabel("File state")+RenderStatus(st.File))
			fmt.Fprintln(out, RenderField("Model", st.Model))
			if st.KeyFingerprint != "" {
				fmt.Fprintln(out, RenderField("Key", "fingerprint "+st.KeyFingerprint))
			}
			if st.Source == string(configstore.SourceEnv) && st.File == string(configstore.FileValid) {
				fmt.Fprintln(out, DimStyle.Render(configstore.EnvAPIKey+" overrides the key stored in the file."))
			}
			if st.File == string(configstore.FileCorrupt) {
				fmt.Fprintln(out, WarningStyle.Render("The file cannot be decrypted on this machine. 'switchboard config set-key' replaces it."))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	return cmd
}

func configPathCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the encrypted config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), rt.store.Path())
			return nil
		},
	}
}

// redactedConfig mirrors the on-disk JSON with the key replaced.
type redactedConfig struct {
	APIKey         string  `json:"together_ai_api_key"`
	PreferredModel *string `json:"preferred_model"`
	Source         string  `json:"source"`
}

func configShowCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the decrypted config (API key redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rt.store.Load()
			if err != nil {
				return err
			}

			view := redactedConfig{
				APIKey:         "[REDACTED, fingerprint=" + security.Fingerprint(cfg.APIKey) + "]",
				PreferredModel: cfg.PreferredModel,
				Source:         string(rt.store.Source()),
			}
			if cfg.APIKey == "" {
				view.APIKey = ""
			}

			data, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func configSetKeyCmd(rt *runtime) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store a Together.ai API key in the encrypted config",
		Long: `Store a Together.ai API key in the encrypted config.

Without --stdin the key is read from a hidden prompt. The model preference
is kept. A config file that cannot be decrypted is replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				key string
				err error
			)
			if fromStdin {
				key, err = readAll(cmd.InOrStdin())
			} else {
				key, err = readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Together.ai API key: ")
			}
			if err != nil {
				return err
			}

			if err := rt.svc.SaveAPIConfig(key); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s API key saved to %s\n", SuccessStyle.Render("[OK]"), rt.store.Path())
			if rt.store.Source() == configstore.SourceEnv {
				fmt.Fprintln(out, WarningStyle.Render(configstore.EnvAPIKey+" is set and takes precedence over the saved key."))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the key from stdin")
	return cmd
}

func configSetModelCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "set-model <model-id>",
		Short: "Store the preferred model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.svc.SetPreferredModel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Preferred model set to %s\n",
				SuccessStyle.Render("[OK]"), rt.svc.CurrentModel())
			return nil
		},
	}
}

func configResetCmd(rt *runtime) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove the encrypted config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if !isTerminal(cmd.InOrStdin()) {
					return usageErrorf("refusing to remove %s without --yes", rt.store.Path())
				}
				if !promptYesNo(cmd.InOrStdin(), cmd.ErrOrStderr(), "Remove the saved API key and model?") {
					fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("Cancelled."))
					return nil
				}
			}

			if err := rt.store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", SuccessStyle.Render("[OK]"), rt.store.Path())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func configWatchCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print config changes as they happen (Ctrl+C to stop)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := rt.store.Watch(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			st := rt.status()
			fmt.Fprintf(out, "Watching %s (source %s, file %s)\n", st.Path, st.Source, st.File)

			for ev := range events {
				st := rt.status()
				fmt.Fprintf(out, "%s %-8s source=%s file=%s model=%s\n",
					DimStyle.Render(ev.Time.Format("15:04:05")), ev.Kind, st.Source, st.File, st.Model)
			}
			return nil
		},
	}
}

func configInitSettingsCmd(rt *runtime) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-settings",
		Short: "Write a settings file with the default values",
		Long: `Write a settings file with the default values.

The file goes to --settings, or settings.toml in the config directory.
Environment and flag overrides are not written. An existing file is kept
unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rt.settingsFile
			if _, err := os.Stat(path); err == nil && !force {
				return usageErrorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote default settings to %s\n", SuccessStyle.Render("[OK]"), path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing settings file")
	return cmd
}
