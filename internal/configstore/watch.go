// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package configstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events a single save produces.
var watchDebounce = 150 * time.Millisecond

// WatchKind describes the state of the config file after a change.
type WatchKind int

const (
	// WatchChanged means the file exists with new contents.
	WatchChanged WatchKind = iota
	// WatchRemoved means the file no longer exists.
	WatchRemoved
)

func (k WatchKind) String() string {
	switch k {
	case WatchChanged:
		return "changed"
	case WatchRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// WatchEvent is emitted when any process changes the config file.
type WatchEvent struct {
	Kind WatchKind
	Time time.Time
}

// Watch reports changes to the config file made by this or any other
// process. The directory is watched rather than the file so atomic renames
// are seen. The channel is closed when ctx is done or the watcher fails.
func (s *Store) Watch(ctx context.Context) (<-chan WatchEvent, error) {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, s.dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: create watcher: %w", ErrIO, err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: watch %s: %w", ErrIO, s.dir, err)
	}

	out := make(chan WatchEvent, 1)
	go s.watchLoop(ctx, w, out)

	s.log.WithField("dir", s.dir).Debug("config watcher started")
	return out, nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher, out chan<- WatchEvent) {
	defer close(out)
	defer w.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != FileName {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			ev := WatchEvent{Kind: s.fileState(), Time: time.Now()}
			s.log.WithField("kind", ev.Kind.String()).Debug("config file changed")
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("config watcher error")
		}
	}
}

func (s *Store) fileState() WatchKind {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return WatchRemoved
	}
	return WatchChanged
}
