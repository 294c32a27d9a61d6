// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package configstore persists the Together.ai credential and model
// preference in an encrypted, machine-bound file.
//
// # File Format
//
// The file lives at <user config dir>/mcp-switchboard/config.json (override
// the directory with SWITCHBOARD_CONFIG_DIR). It holds standard padded
// base64 of nonce(12) || ciphertext || tag(16), sealed with AES-256-GCM. The
// plaintext is JSON:
//
//	{"together_ai_api_key": "...", "preferred_model": "..." | null}
//
// Writes go to a temp file in the same directory, are fsynced, then renamed
// over the target, so a crash leaves either the old or the new file.
//
// # Credential Resolution
//
// A non-empty TOGETHERAI_API_KEY takes precedence over the file and is
// never written to it. Update, SetAPIKey and SetPreferredModel only ever
// read the disk copy.
//
// # Known Limitations
//
//   - The key is SHA-256 of "<user>:<host>" plus a fixed string. It binds
//     the file to one account on one machine. Anyone able to read the file
//     and guess those names can decrypt it.
//   - Writes are serialized within a process only. Two processes saving at
//     once do not corrupt the file, but the last rename wins.
//   - Renaming the user or host makes existing files undecryptable; they
//     load as ErrCorrupt and SetAPIKey replaces them.
//
// # Usage
//
//	store, err := configstore.Open()
//	if !store.HasConfig() {
//	    // prompt for a key
//	    err = store.SetAPIKey(key)
//	}
//	cfg, err := store.Load()
package configstore
