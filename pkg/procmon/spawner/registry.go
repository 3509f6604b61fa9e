// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

// Package spawner tracks the zygote-like spawner processes the trace loop
// has attached to, keyed by PID, together with the mount-namespace identity
// observed at attach time.
package spawner

import (
	"strings"
	"sync"

	"github.com/antoxa-hide/procmon/pkg/procmon/logger"
	"github.com/antoxa-hide/procmon/pkg/procmon/proctable"
	"github.com/antoxa-hide/procmon/pkg/procmon/ptrace"
)

// Registry holds the currently traced spawners and their mount-namespace
// identity. Every PID in the map is being traced with fork/vfork/exit
// stop events enabled; a PID leaves the map iff it exits or the trace
// link breaks.
type Registry struct {
	mu       sync.Mutex
	spawners map[int]proctable.MountNS

	proc proctable.Reader
	log  logger.Logger

	// prefixes are the command-line prefixes that identify a spawner
	// (normally just "zygote", but the 32/64-bit interpreter split means
	// "zygote32"/"zygote64" variants must match too).
	prefixes []string
}

// New returns an empty Registry. proc is the process-table reader to use
// (proctable.Default outside of tests). prefixes are the zygote-identifying
// command-line prefixes.
func New(proc proctable.Reader, log logger.Logger, prefixes []string) *Registry {
	return &Registry{
		spawners: make(map[int]proctable.MountNS),
		proc:     proc,
		log:      log,
		prefixes: prefixes,
	}
}

func (r *Registry) matchesPrefix(cmdline string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(cmdline, p) {
			return true
		}
	}
	return false
}

// DiscoverAll enumerates every process whose command line matches a
// configured spawner prefix and whose parent is PID 1, registering each.
// Idempotent: re-discovering an already-registered spawner just refreshes
// its mount-namespace identity.
func (r *Registry) DiscoverAll(pids []int) []int {
	var registered []int
	for _, pid := range pids {
		cmdline, ok := r.proc.Commandline(pid)
		if !ok || !r.matchesPrefix(cmdline) {
			continue
		}
		ppid, ok := r.proc.Parent(pid)
		if !ok || ppid != 1 {
			continue
		}
		if err := r.Register(pid); err != nil {
			r.log.Debugf("spawner %d: register failed: %v", pid, err)
			continue
		}
		registered = append(registered, pid)
	}
	return registered
}

// Register attaches to pid with fork/vfork/exit stop events enabled,
// following the attachment protocol:
//  1. stat its mount namespace (abort silently if unavailable)
//  2. ptrace-attach
//  3. wait for the initial stop
//  4. set trace options
//  5. resume
//
// If pid is already known, only its mount-namespace identity is refreshed
// (a spawner may re-exec in place without a new PID appearing first).
//
// Register issues PTRACE_ATTACH and must only ever be called from the
// single OS-thread-locked goroutine that also runs the trace loop's
// wait4 call: the kernel binds a tracee to the specific thread that
// attached to it, so a Register call from any other goroutine would
// attach it to a thread that never observes its stops.
func (r *Registry) Register(pid int) error {
	ns, ok := r.proc.MountNS(pid)
	if !ok {
		return nil // process vanished or ns link unavailable; not an error
	}

	r.mu.Lock()
	_, known := r.spawners[pid]
	if known {
		r.spawners[pid] = ns
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := ptrace.Attach(pid); err != nil {
		return err
	}
	if _, err := ptrace.WaitFor(pid); err != nil {
		return err
	}
	if err := ptrace.SetOptions(pid, ptrace.SpawnerOptions); err != nil {
		return err
	}
	if err := ptrace.Cont(pid, 0); err != nil {
		return err
	}

	r.mu.Lock()
	r.spawners[pid] = ns
	r.mu.Unlock()

	r.log.Debugf("registered spawner pid=%d ns=%+v", pid, ns)
	return nil
}

// OnExit removes pid from the registry. No detach is needed: the kernel
// has already severed the trace link by the time an EXIT event fires.
func (r *Registry) OnExit(pid int) {
	r.mu.Lock()
	delete(r.spawners, pid)
	r.mu.Unlock()
}

// IsSpawner reports whether pid is a currently registered spawner.
func (r *Registry) IsSpawner(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.spawners[pid]
	return ok
}

// NSMatches reports whether ns equals any registered spawner's
// mount-namespace identity.
func (r *Registry) NSMatches(ns proctable.MountNS) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spawnerNS := range r.spawners {
		if spawnerNS == ns {
			return true
		}
	}
	return false
}

// Len reports the number of registered spawners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spawners)
}

// InjectForTest registers pid with ns directly, bypassing the ptrace
// attach protocol. Exported (rather than living in a _test.go file) so
// the trace package's tests, which assemble a Registry through spawner.New,
// can seed it without a real tracee.
func (r *Registry) InjectForTest(pid int, ns proctable.MountNS) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawners[pid] = ns
}
