//go:build !windows

// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckOwnerOnly_Modes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.Mkdir(dir, 0700))
	file := filepath.Join(dir, "config.enc")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	tests := []struct {
		name   string
		path   string
		mode   fs.FileMode
		want   fs.FileMode
		secure bool
	}{
		{"file owner only", file, 0600, 0600, true},
		{"file narrower", file, 0400, 0600, true},
		{"file group readable", file, 0640, 0600, false},
		{"file world readable", file, 0644, 0600, false},
		{"dir owner only", dir, 0700, 0700, true},
		{"dir world listable", dir, 0755, 0700, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.Chmod(tt.path, tt.mode))
			t.Cleanup(func() { os.Chmod(tt.path, 0700) })

			err := CheckOwnerOnly(tt.path, tt.want)
			if tt.secure {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInsecurePermissions)
			require.Contains(t, err.Error(), "wider than")
		})
	}
}

func TestCheckOwnerOnly_Missing(t *testing.T) {
	err := CheckOwnerOnly(filepath.Join(t.TempDir(), "nope"), 0600)
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.NotErrorIs(t, err, ErrInsecurePermissions)
}
