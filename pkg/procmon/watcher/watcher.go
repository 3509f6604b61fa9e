// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package watcher delivers asynchronous notifications on the package
// database file and the application interpreter binary. A goroutine
// drains fsnotify.Watcher.Events and posts Event values on a channel the
// trace loop's select drains alongside its ptrace wait, so neither blocks
// the other.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/antoxa-hide/procmon/pkg/procmon/logger"
)

// Kind identifies what triggered an Event.
type Kind int

const (
	// PackageDBChanged fires on each fsnotify Write event on the package
	// database file. fsnotify reports no separate close-after-write, so it
	// can fire while the file is still being written.
	PackageDBChanged Kind = iota
	// InterpreterAccessed fires on any event fsnotify reports for a watched
	// interpreter path (write, create, remove, rename, chmod); it is the
	// trigger to re-scan for new spawners. fsnotify's watch mask has no
	// access or open event, so reading or executing the binary does not
	// fire it.
	InterpreterAccessed
)

// Event is a single watcher notification.
type Event struct {
	Kind Kind
}

// Watcher watches the directory containing the package database (for
// writes to the file named by the package database path's base name) and
// one or two interpreter binary paths (for any event fsnotify reports on
// them).
type Watcher struct {
	fsw *fsnotify.Watcher
	log logger.Logger

	packageDBDir  string
	packageDBName string
	interpreters  map[string]struct{}

	Events chan Event
}

// New creates a Watcher. packageDBPath is the full path to packages.xml;
// interpreterPaths is one or two paths (app_process, or the app_process32/
// app_process64 pair) to watch for access.
func New(packageDBPath string, interpreterPaths []string, log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("init inotify: %w", err)
	}

	w := &Watcher{
		fsw:           fsw,
		log:           log,
		packageDBDir:  filepath.Dir(packageDBPath),
		packageDBName: filepath.Base(packageDBPath),
		interpreters:  make(map[string]struct{}, len(interpreterPaths)),
		Events:        make(chan Event, 16),
	}
	for _, p := range interpreterPaths {
		w.interpreters[p] = struct{}{}
	}

	if err := fsw.Add(w.packageDBDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch package db dir %s: %w", w.packageDBDir, err)
	}
	for p := range w.interpreters {
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch interpreter %s: %w", p, err)
		}
	}

	return w, nil
}

// Run drains fsnotify events until ctx is cancelled, translating each into
// a higher-level Event and posting it on w.Events. Spurious events (a write
// to an unrelated file in the watched directory) are dropped without being
// posted — "the handler must be careful to drain only as much as is
// readable... if nothing is readable the event is spurious".
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.Events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Write == fsnotify.Write &&
		filepath.Dir(ev.Name) == w.packageDBDir && filepath.Base(ev.Name) == w.packageDBName {
		w.post(Event{Kind: PackageDBChanged})
		return
	}
	// fsnotify's default Linux mask does not carry a standalone
	// close-after-write flag or IN_ACCESS; any remaining event on a
	// watched interpreter path is treated as the access trigger.
	if _, ok := w.interpreters[ev.Name]; ok {
		w.post(Event{Kind: InterpreterAccessed})
	}
}

func (w *Watcher) post(ev Event) {
	select {
	case w.Events <- ev:
	default:
		w.log.Debugf("watcher event channel full, dropping %v", ev.Kind)
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
