// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the non-secret switchboard settings.
//
// Settings live in settings.toml next to the encrypted config file. The API
// key is deliberately absent: it belongs to the configstore package.
//
// # Configuration Precedence
//
//   - Command-line flags (applied by the CLI)
//   - Environment variables (SWITCHBOARD_*)
//   - settings.toml
//   - Built-in defaults
//
// # Usage
//
//	path, _ := config.DefaultPath()
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timeout := cfg.API.Timeout()
package config
