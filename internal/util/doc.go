// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across switchboard.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe writes (temp file, fsync, rename in the
//     same directory)
//
// String Utilities:
//   - TruncateRunes, TruncateWidth: UTF-8 and display-width safe truncation
//   - SanitizeSecret: normalize pasted credentials
//
// # Usage
//
//	// Write a secret-bearing file with owner-only permissions
//	err := util.AtomicWriteFile(path, data, 0600, 0700)
//
//	// Fit a model name into a table column
//	cell := util.TruncateWidth(name, 40)
package util
