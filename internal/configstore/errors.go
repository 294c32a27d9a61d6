// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package configstore

import "errors"

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates there is no env override and no config file
	ErrNotFound = errors.New("config not found")
	// ErrCorrupt indicates the config file exists but cannot be decoded,
	// decrypted or parsed (tampering, foreign machine, truncation)
	ErrCorrupt = errors.New("config file is corrupt")
	// ErrIO indicates a filesystem failure while reading or writing
	ErrIO = errors.New("config I/O failure")
	// ErrEncryption indicates the cipher failed while sealing a config
	ErrEncryption = errors.New("config encryption failed")
)
