// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the switchboard command line.
//
// Commands are built with cobra. The root command's pre-run hook loads the
// TOML settings, creates the logrus logger (stderr, with credential
// redaction), opens the encrypted config store and wires the app.Service
// every subcommand uses.
//
// # Commands
//
//   - config: status, path, show, set-key, set-model, reset, watch
//   - setup: Bubble Tea form for entering an API key
//   - models: list models available to the key
//   - ask: one-shot question with streamed answer
//   - chat: liner-based REPL that follows config changes
//   - doctor: health checks for the config store and API access
//   - version: build information
//
// # Output
//
// Replies and command results go to stdout. Logs, prompts and progress go
// to stderr, so piping a reply never captures anything else. Colors follow
// NO_COLOR, FORCE_COLOR and TTY detection.
package cli
