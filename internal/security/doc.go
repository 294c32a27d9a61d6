// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the cryptographic primitives behind the
// encrypted config store.
//
// # Algorithms
//
//   - AES-256-GCM authenticated encryption (12-byte random nonce, 16-byte tag)
//   - SHA-256 machine-bound key derivation
//   - SHA-256 fingerprints for displaying credentials without revealing them
//
// # Key Derivation
//
// The key is SHA-256 over "<user>:<host>" followed by a fixed context
// string. There is no salt and no work factor. Anyone who can read the
// config file and knows the user and host names can derive the key, so the
// scheme only binds the file to one account on one machine. It is not a
// defense against a local attacker.
//
// # Usage
//
//	key := security.DeriveMachineKey(security.CurrentIdentity())
//	defer security.ZeroBytes(key)
//
//	blob, err := security.Seal(key, plaintext)
//	plaintext, err = security.Open(key, blob)
package security
