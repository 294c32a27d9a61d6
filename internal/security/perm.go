// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"io/fs"
)

// ErrInsecurePermissions is wrapped by CheckOwnerOnly when someone other
// than the owner can reach the path.
var ErrInsecurePermissions = errors.New("access is not limited to the owner")

// CheckOwnerOnly verifies that path is private to its owner.
//
// On Unix the permission bits must be no wider than want (0600 for a file,
// 0700 for a directory). On Windows the mode bits carry no meaning, so the
// DACL is checked instead: no grant to Everyone, Users or Authenticated
// Users, and an owner that is the current user, Administrators or SYSTEM.
func CheckOwnerOnly(path string, want fs.FileMode) error {
	return checkOwnerOnly(path, want)
}
