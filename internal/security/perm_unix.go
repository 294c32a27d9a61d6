//go:build !windows

// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"io/fs"
	"os"
)

func checkOwnerOnly(path string, want fs.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&^want != 0 {
		return fmt.Errorf("%w: mode %04o is wider than %04o", ErrInsecurePermissions, perm, want)
	}
	return nil
}
