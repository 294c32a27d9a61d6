// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

// BuildInfo describes this binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns the linked-in build information.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: goruntime.Version(),
		Platform:  goruntime.GOOS + "/" + goruntime.GOARCH,
	}
}

func versionCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Needs no settings, so a broken settings file cannot hide it.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			info := GetBuildInfo()
			out := cmd.OutOrStdout()
			if jsonOut {
				return NewJSONResponse("version", info).Print(out)
			}
			fmt.Fprintf(out, "switchboard %s\n", info.Version)
			fmt.Fprintln(out, RenderField("Commit", info.GitCommit))
			fmt.Fprintln(out, RenderField("Built", info.BuildDate))
			fmt.Fprintln(out, RenderField("Go", info.GoVersion+" "+info.Platform))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	return cmd
}
