// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app ties the encrypted config store to the Together.ai client.
//
// Service holds no credential of its own. Each call resolves the key from
// the store (environment first, then the encrypted file), so the CLI and
// any other front end see the same state.
package app
