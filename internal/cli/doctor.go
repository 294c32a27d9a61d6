// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Health checks for the local config and the API.
//
// Command: doctor [--json] [--offline]
//
// Checks:
//   1. Settings       - settings.toml parsed and validated
//   2. Config dir     - exists with owner-only permissions
//   3. Config file    - decrypts on this machine, owner-only permissions
//   4. API key        - resolves from the environment or the file
//   5. API reachable  - the key lists models (skipped with --offline)
//   6. Model          - the preferred model is in that list
//
// Exit Codes:
//   0   No check failed
//   1   One or more checks failed

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	goruntime "runtime"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcp-switchboard/switchboard/internal/cloud"
	"github.com/mcp-switchboard/switchboard/internal/configstore"
	"github.com/mcp-switchboard/switchboard/internal/security"
)

// errChecksFailed is returned when at least one check fails.
var errChecksFailed = errors.New("one or more checks failed")

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the outcome of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed.
	CheckPass CheckStatus = iota
	// CheckWarn indicates a non-critical issue.
	CheckWarn
	// CheckFail indicates a critical issue.
	CheckFail
	// CheckSkip indicates the check did not run.
	CheckSkip
)

func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	case CheckSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Symbol returns the styled status tag.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return SuccessStyle.Render("[OK]  ")
	case CheckWarn:
		return WarningStyle.Render("[!!]  ")
	case CheckFail:
		return ErrorStyle.Render("[FAIL]")
	default:
		return DimStyle.Render("[--]  ")
	}
}

// HealthCheck is one check result.
type HealthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`

	status CheckStatus
}

func newCheck(name string, status CheckStatus, msg, fix string) HealthCheck {
	return HealthCheck{Name: name, Status: status.String(), Message: msg, Fix: fix, status: status}
}

// Render formats the check for the terminal.
func (c HealthCheck) Render() string {
	line := fmt.Sprintf("%s %s", c.status.Symbol(), RenderField(c.Name, c.Message))
	if c.Fix != "" && (c.status == CheckWarn || c.status == CheckFail) {
		line += "\n       " + DimStyle.Render("-> "+c.Fix)
	}
	return line
}

// doctorReport is the --json shape of "doctor".
type doctorReport struct {
	Checks []HealthCheck `json:"checks"`
	Passed int           `json:"passed"`
	Warned int           `json:"warned"`
	Failed int           `json:"failed"`
}

func newDoctorReport(checks []HealthCheck) doctorReport {
	r := doctorReport{Checks: checks}
	for _, c := range checks {
		switch c.status {
		case CheckPass:
			r.Passed++
		case CheckWarn:
			r.Warned++
		case CheckFail:
			r.Failed++
		}
	}
	return r
}

// =============================================================================
// CHECKS
// =============================================================================

// permFix suggests how to make path owner-only.
func permFix(path string, want fs.FileMode) string {
	if goruntime.GOOS == "windows" {
		return "Run: icacls \"" + path + "\" /inheritance:r /grant:r %USERNAME%:F"
	}
	return fmt.Sprintf("Run: chmod %o %s", want, path)
}

func (rt *runtime) checkSettings() HealthCheck {
	return newCheck("Settings", CheckPass,
		fmt.Sprintf("%s, log level %s", rt.settings.API.BaseURL, rt.settings.Log.Level), "")
}

func (rt *runtime) checkConfigDir() HealthCheck {
	info, err := os.Stat(rt.store.Dir())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return newCheck("Config dir", CheckWarn, "not created yet", "Run: switchboard setup")
	case err != nil:
		return newCheck("Config dir", CheckFail, err.Error(), "")
	case !info.IsDir():
		return newCheck("Config dir", CheckFail, rt.store.Dir()+" is not a directory", "")
	}
	if err := security.CheckOwnerOnly(rt.store.Dir(), 0700); err != nil {
		return permCheck("Config dir", rt.store.Dir(), 0700, err)
	}
	return newCheck("Config dir", CheckPass, rt.store.Dir(), "")
}

func (rt *runtime) checkConfigFile() HealthCheck {
	switch rt.store.FileState() {
	case configstore.FileMissing:
		return newCheck("Config file", CheckWarn, "no saved config", "Run: switchboard config set-key")
	case configstore.FileCorrupt:
		return newCheck("Config file", CheckFail, "cannot be decrypted on this machine",
			"Run: switchboard config set-key (replaces the file)")
	case configstore.FileUnreadable:
		return newCheck("Config file", CheckFail, "cannot be read", "Check the permissions of "+rt.store.Path())
	}

	if err := security.CheckOwnerOnly(rt.store.Path(), 0600); err != nil {
		return permCheck("Config file", rt.store.Path(), 0600, err)
	}
	return newCheck("Config file", CheckPass, "decrypts on this machine", "")
}

// permCheck warns on access wider than the owner and fails when the check
// itself could not run.
func permCheck(name, path string, want fs.FileMode, err error) HealthCheck {
	if errors.Is(err, security.ErrInsecurePermissions) {
		return newCheck(name, CheckWarn, err.Error(), permFix(path, want))
	}
	return newCheck(name, CheckFail, err.Error(), "")
}

func (rt *runtime) checkAPIKey() HealthCheck {
	switch rt.store.Source() {
	case configstore.SourceEnv:
		return newCheck("API key", CheckPass, "from "+configstore.EnvAPIKey, "")
	case configstore.SourceFile:
		return newCheck("API key", CheckPass, "from the config file", "")
	}
	return newCheck("API key", CheckFail, "not configured",
		"Run: switchboard setup, or set "+configstore.EnvAPIKey)
}

// checkAPI lists models and checks the preferred one among them.
func (rt *runtime) checkAPI(ctx context.Context, offline bool) []HealthCheck {
	if offline {
		return []HealthCheck{
			newCheck("API", CheckSkip, "skipped (--offline)", ""),
			newCheck("Model", CheckSkip, rt.svc.CurrentModel(), ""),
		}
	}
	if !rt.svc.HasAPIConfig() {
		return []HealthCheck{
			newCheck("API", CheckSkip, "skipped (no API key)", ""),
			newCheck("Model", CheckSkip, rt.svc.CurrentModel(), ""),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, rt.settings.API.Timeout())
	defer cancel()

	start := time.Now()
	models, err := rt.svc.AvailableModels(ctx)
	if err != nil {
		fix := ""
		if errors.Is(err, cloud.ErrAuthFailed) {
			fix = "Run: switchboard config set-key"
		}
		return []HealthCheck{
			newCheck("API", CheckFail, err.Error(), fix),
			newCheck("Model", CheckSkip, rt.svc.CurrentModel(), ""),
		}
	}

	api := newCheck("API", CheckPass,
		fmt.Sprintf("%d models in %s", len(models), time.Since(start).Round(time.Millisecond)), "")

	model := rt.svc.CurrentModel()
	found := slices.ContainsFunc(models, func(m cloud.ModelInfo) bool { return m.ID == model })
	if !found {
		return []HealthCheck{api, newCheck("Model", CheckWarn, model+" is not in the model list",
			"Run: switchboard models, then switchboard config set-model <id>")}
	}
	return []HealthCheck{api, newCheck("Model", CheckPass, model, "")}
}

func (rt *runtime) runChecks(ctx context.Context, offline bool) []HealthCheck {
	checks := []HealthCheck{
		rt.checkSettings(),
		rt.checkConfigDir(),
		rt.checkConfigFile(),
		rt.checkAPIKey(),
	}
	return append(checks, rt.checkAPI(ctx, offline)...)
}

// =============================================================================
// DOCTOR COMMAND
// =============================================================================

func printDoctorReport(w io.Writer, r doctorReport) {
	fmt.Fprintln(w, TitleStyle.Render("Switchboard Doctor"))
	fmt.Fprintln(w, RenderSeparator(41))
	for _, c := range r.Checks {
		fmt.Fprintln(w, c.Render())
	}
	fmt.Fprintln(w, RenderSeparator(41))

	parts := []string{fmt.Sprintf("%d passed", r.Passed)}
	if r.Warned > 0 {
		parts = append(parts, WarningStyle.Render(fmt.Sprintf("%d warning", r.Warned)))
	}
	if r.Failed > 0 {
		parts = append(parts, ErrorStyle.Render(fmt.Sprintf("%d failed", r.Failed)))
	}
	fmt.Fprintln(w, DimStyle.Render(strings.Join(parts, ", ")))
}

func doctorCmd(rt *runtime) *cobra.Command {
	var (
		jsonOut bool
		offline bool
	)
	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Check the config store and API access",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := newDoctorReport(rt.runChecks(cmd.Context(), offline))

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := NewJSONResponse("doctor", report).Print(out); err != nil {
					return err
				}
			} else {
				printDoctorReport(out, report)
			}

			if report.Failed > 0 {
				return errChecksFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip checks that contact the API")
	return cmd
}
