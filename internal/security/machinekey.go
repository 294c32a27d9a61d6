// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/sha256"
	"os"
)

// KeyContext is appended to the identity before hashing. Changing it makes
// every existing config file unreadable.
const KeyContext = "mcp-switchboard-config-key"

// UnknownIdentity is used for a user or host name that cannot be determined.
const UnknownIdentity = "unknown"

// Swapped out in tests.
var (
	lookupEnv = os.LookupEnv
	hostname  = os.Hostname
)

// Identity is the user/host pair a config file is bound to.
type Identity struct {
	User string
	Host string
}

// String returns the identity in the form fed to the key hash.
func (id Identity) String() string {
	return id.User + ":" + id.Host
}

// CurrentIdentity reads the user from $USER and the host from the OS.
// An unset $USER or a failed hostname lookup becomes "unknown". Values that
// are set are used as-is, empty ones included.
func CurrentIdentity() Identity {
	id := Identity{User: UnknownIdentity, Host: UnknownIdentity}

	if user, ok := lookupEnv("USER"); ok {
		id.User = user
	}
	if host, err := hostname(); err == nil {
		id.Host = host
	}
	return id
}

// DeriveMachineKey returns the 32-byte AES-256 key for id.
// Callers own the returned slice and should ZeroBytes it when done.
func DeriveMachineKey(id Identity) []byte {
	h := sha256.New()
	h.Write([]byte(id.String()))
	h.Write([]byte(KeyContext))
	return h.Sum(nil)
}
