// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mcp-switchboard/switchboard/internal/app"
	"github.com/mcp-switchboard/switchboard/internal/cloud"
	"github.com/mcp-switchboard/switchboard/internal/config"
	"github.com/mcp-switchboard/switchboard/internal/configstore"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a missing, corrupt or invalid config
	ExitConfigError = 3
	// ExitAuthError indicates the API rejected the credential
	ExitAuthError = 4
	// ExitNetworkError indicates the API could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates an unknown model
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitInterrupted follows the shell convention for SIGINT
	ExitInterrupted = 130
)

// UsageError marks bad arguments so they map to ExitUsageError.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func usageErrorf(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// GetExitCode maps an error to a process exit code by its sentinel.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	var ttyErr *TTYRequiredError
	var validationErrs config.ValidateErrors

	switch {
	case errors.As(err, &usageErr), errors.As(err, &ttyErr),
		errors.Is(err, app.ErrEmptyAPIKey), errors.Is(err, app.ErrEmptyModel), errors.Is(err, app.ErrEmptyMessage):
		return ExitUsageError
	case errors.Is(err, app.ErrNoAPIKey), errors.Is(err, configstore.ErrNotFound),
		errors.Is(err, configstore.ErrCorrupt), errors.Is(err, configstore.ErrIO),
		errors.Is(err, configstore.ErrEncryption), errors.As(err, &validationErrs):
		return ExitConfigError
	case errors.Is(err, cloud.ErrAuthFailed), errors.Is(err, cloud.ErrInsufficientCredits):
		return ExitAuthError
	case errors.Is(err, cloud.ErrModelNotFound):
		return ExitNotFoundError
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.Is(err, cloud.ErrRateLimited):
		return ExitNetworkError
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ExitTimeoutError
		}
		return ExitNetworkError
	}
	return ExitGeneralError
}

// hintFor suggests a next step for errors a user can fix.
func hintFor(err error) string {
	switch {
	case errors.Is(err, app.ErrNoAPIKey) && errors.Is(err, configstore.ErrCorrupt):
		return "The config file could not be decrypted. Run 'switchboard config set-key' to replace it."
	case errors.Is(err, app.ErrNoAPIKey):
		return "Run 'switchboard setup' or set " + configstore.EnvAPIKey + "."
	case errors.Is(err, cloud.ErrAuthFailed):
		return "The API key was rejected. Run 'switchboard config set-key' with a valid key."
	case errors.Is(err, cloud.ErrModelNotFound):
		return "Run 'switchboard models' to see available models."
	}
	return ""
}

// DisplayError writes a styled error and hint to w.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, WarningStyle.Render("[Cancelled]"))
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if hint := hintFor(err); hint != "" {
		fmt.Fprintln(w, DimStyle.Render(hint))
	}
}
