// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package configstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcp-switchboard/switchboard/internal/security"
)

func waitEvent(t *testing.T, events <-chan WatchEvent) WatchEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "watch channel closed early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return WatchEvent{}
	}
}

func TestStore_WatchSeesOtherWriters(t *testing.T) {
	orig := watchDebounce
	watchDebounce = 20 * time.Millisecond
	t.Cleanup(func() { watchDebounce = orig })

	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx)
	require.NoError(t, err)

	// A second store on the same directory stands in for another process.
	other := New(s.Dir(), WithIdentity(testIdentity))
	require.NoError(t, other.SetAPIKey("tok_abc123"))

	ev := waitEvent(t, events)
	require.Equal(t, WatchChanged, ev.Kind)
	require.True(t, s.HasConfig())

	require.NoError(t, other.Clear())
	// Drain until the removal shows up; an extra change event may arrive
	// first depending on how the platform reports the rename.
	for ev.Kind != WatchRemoved {
		ev = waitEvent(t, events)
	}
	require.False(t, s.HasConfig())
}

func TestStore_WatchIgnoresOtherFiles(t *testing.T) {
	orig := watchDebounce
	watchDebounce = 20 * time.Millisecond
	t.Cleanup(func() { watchDebounce = orig })

	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx)
	require.NoError(t, err)

	other := New(s.Dir(), WithIdentity(security.Identity{User: "x", Host: "y"}))
	other.path = filepath.Join(s.Dir(), "settings.toml")
	require.NoError(t, other.Save(StoredConfig{APIKey: "unrelated"}))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStore_WatchClosesOnCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := s.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestWatchKind_String(t *testing.T) {
	require.Equal(t, "changed", WatchChanged.String())
	require.Equal(t, "removed", WatchRemoved.String())
	require.Equal(t, "unknown", WatchKind(42).String())
}
