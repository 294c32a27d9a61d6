// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	data := []byte("hello, world!")

	require.NoError(t, AtomicWriteFile(path, data, 0644, 0700))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, content)
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "deep", "test.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("test data"), 0644, 0700))

	_, err := os.Stat(path)
	require.NoError(t, err, "file should exist")
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("initial"), 0644, 0700))
	require.NoError(t, AtomicWriteFile(path, []byte("updated"), 0644, 0700))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "updated", string(content))
}

func TestAtomicWriteFile_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	for i := 0; i < 5; i++ {
		require.NoError(t, AtomicWriteFile(path, []byte("payload"), 0600, 0700))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the target file should remain")
	require.Equal(t, "config.json", entries[0].Name())
}

func TestAtomicWriteFile_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permission bits are not enforced on Windows")
	}

	dir := filepath.Join(t.TempDir(), "app")
	path := filepath.Join(dir, "secret.bin")

	require.NoError(t, AtomicWriteFile(path, []byte("s3cr3t"), 0600, 0700))

	fileInfo, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), fileInfo.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

// TestAtomicWriteFile_FailedRenameKeepsOriginal simulates a crash between the
// temp write and the rename.
func TestAtomicWriteFile_FailedRenameKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, AtomicWriteFile(path, []byte("original"), 0600, 0700))

	renameFile = func(string, string) error { return errors.New("simulated crash") }
	t.Cleanup(func() { renameFile = os.Rename })

	err := AtomicWriteFile(path, []byte("replacement that never lands"), 0600, 0700)
	require.Error(t, err)
	require.Contains(t, err.Error(), "simulated crash")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "original", string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), TempPrefix(path)), "temp file %s left behind", e.Name())
	}
}

func TestAtomicWriteFile_ParentIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	err := AtomicWriteFile(filepath.Join(blocker, "config.json"), []byte("data"), 0600, 0700)
	require.Error(t, err)
}

func TestTempPrefix(t *testing.T) {
	require.Equal(t, ".config.json.tmp-", TempPrefix("/a/b/config.json"))
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 0, ""},
		{"héllo wörld", 6, "hél..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, TruncateRunes(tt.in, tt.max), "TruncateRunes(%q, %d)", tt.in, tt.max)
	}
}

func TestTruncateWidth(t *testing.T) {
	require.Equal(t, "short", TruncateWidth("short", 10))
	require.Equal(t, "meta-ll...", TruncateWidth("meta-llama/Llama-3", 10))
	require.Equal(t, "", TruncateWidth("anything", 0))

	// Each CJK rune is two columns wide.
	got := TruncateWidth("模型名称很长", 7)
	require.LessOrEqual(t, StringWidth(got), 7)
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestPadWidth(t *testing.T) {
	require.Equal(t, "ab   ", PadWidth("ab", 5))
	require.Equal(t, 6, StringWidth(PadWidth("模型", 6)))
}

func TestSanitizeSecret(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "tok_abc123", "tok_abc123"},
		{"surrounding whitespace", "  tok_abc123\n", "tok_abc123"},
		{"fullwidth characters", "ｔｏｋ＿ａｂｃ１２３", "tok_abc123"},
		{"zero width space", "tok_\u200babc123", "tok_abc123"},
		{"byte order mark", "\ufefftok_abc123", "tok_abc123"},
		{"embedded tab", "tok_abc\t123", "tok_abc123"},
		{"only whitespace", " \t\r\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeSecret(tt.in))
		})
	}
}
