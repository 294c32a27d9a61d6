// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mcp-switchboard/switchboard/internal/app"
	"github.com/mcp-switchboard/switchboard/internal/config"
	"github.com/mcp-switchboard/switchboard/internal/configstore"
	"github.com/mcp-switchboard/switchboard/internal/logging"
)

// Build information, set with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Streams are the I/O endpoints commands use.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdStreams returns the process's standard streams.
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// runtime is built once per invocation by the root command's pre-run hook
// and shared by every subcommand.
type runtime struct {
	streams Streams

	settingsPath string
	settingsFile string
	logLevel     string
	logFormat    string

	settings *config.Config
	log      *logrus.Logger
	store    *configstore.Store
	svc      *app.Service
}

// NewRootCmd builds the command tree.
func NewRootCmd(streams Streams) *cobra.Command {
	rt := &runtime{streams: streams}

	root := &cobra.Command{
		Use:   "switchboard",
		Short: "Together.ai chat from the terminal, with an encrypted machine-bound config",
		Long: `switchboard streams chat completions from Together.ai.

The API key is read from ` + configstore.EnvAPIKey + ` or from an encrypted
config file bound to this user and host. Run 'switchboard setup' once to
store a key.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init()
		},
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Msg: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&rt.settingsPath, "settings", "", "settings file (default <config dir>/"+config.FileName+")")
	pf.StringVar(&rt.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&rt.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		configCmd(rt),
		setupCmd(rt),
		modelsCmd(rt),
		askCmd(rt),
		chatCmd(rt),
		doctorCmd(rt),
		versionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, streams Streams) int {
	root := NewRootCmd(streams)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		DisplayError(streams.Err, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// init loads settings, then builds the logger, store and service.
// Flags override the settings file, which overrides the defaults.
func (rt *runtime) init() error {
	path := rt.settingsPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	settings, err := config.Load(path)
	if err != nil {
		return err
	}
	if rt.logLevel != "" {
		settings.Log.Level = rt.logLevel
	}
	if rt.logFormat != "" {
		settings.Log.Format = rt.logFormat
	}
	settings.SetDefaults()
	if err := settings.Validate(); err != nil {
		return err
	}

	// The env key is known before any client exists; scrub it from the start.
	log, hook, err := logging.New(logging.Options{
		Level:   settings.Log.Level,
		Format:  settings.Log.Format,
		Output:  rt.streams.Err,
		Secrets: []string{os.Getenv(configstore.EnvAPIKey)},
	})
	if err != nil {
		return err
	}

	store, err := configstore.Open(configstore.WithLogger(log))
	if err != nil {
		return err
	}

	rt.settingsFile = path
	rt.settings = settings
	rt.log = log
	rt.store = store
	rt.svc = app.New(store, settings, app.WithLogger(log), app.WithRedactHook(hook))

	log.WithFields(logrus.Fields{
		"settings": path,
		"store":    store.Path(),
	}).Debug("switchboard initialized")
	return nil
}
