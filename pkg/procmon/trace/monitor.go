// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

// Package trace implements the central single-threaded tracing supervisor:
// it discovers and attaches to spawners, receives fork/clone/exec
// notifications, classifies children against the rule table, and hands
// matches off to the external agent.
package trace

import (
	"context"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/atomic"

	"github.com/antoxa-hide/procmon/pkg/procmon/agent"
	"github.com/antoxa-hide/procmon/pkg/procmon/logger"
	"github.com/antoxa-hide/procmon/pkg/procmon/proctable"
	"github.com/antoxa-hide/procmon/pkg/procmon/ptrace"
	"github.com/antoxa-hide/procmon/pkg/procmon/rules"
	"github.com/antoxa-hide/procmon/pkg/procmon/spawner"
	"github.com/antoxa-hide/procmon/pkg/procmon/watcher"
)

// Monitor is the trace loop. AttachSet/DetachSet and the spawner registry
// are only ever touched from the tracer goroutine started by Run; the rule
// store is refreshed from Run's own goroutine on watcher events, under the
// store's own lock. The watcher goroutine only ever posts read-only events
// down a channel, never touches shared state directly.
//
// Every ptrace(2) call this package issues — Attach (via the spawner
// registry's Register), Cont, Detach, SetOptions, GetEventMsg, and the
// wait4 that observes their results — is a per-OS-thread relationship:
// the kernel only delivers a tracee's stop notifications to, and only
// honors follow-up ptrace requests from, the specific OS thread that
// attached to it. Run therefore runs its whole ptrace/wait4 loop, plus
// any spawner registration triggered by a watcher event, on a single
// goroutine locked to one OS thread for the trace loop's entire
// lifetime; nothing else in this package is allowed to call into
// pkg/procmon/ptrace or spawner.Registry.Register directly.
type Monitor struct {
	proc     proctable.Reader
	rules    *rules.Store
	spawners *spawner.Registry
	watcher  *watcher.Watcher
	launcher agent.Launcher
	log      logger.Logger

	spawnerPrefixes []string
	packageDBPath   string

	attached  AttachSet
	detaching DetachSet

	eventSeq *atomic.Uint64
}

// Config bundles everything Run needs to assemble a Monitor.
type Config struct {
	Proc            proctable.Reader
	Rules           *rules.Store
	Spawners        *spawner.Registry
	Watcher         *watcher.Watcher
	Launcher        agent.Launcher
	Log             logger.Logger
	SpawnerPrefixes []string
	PackageDBPath   string
}

// New assembles a Monitor from cfg, defaulting unset fields to the real
// process table / a fresh empty rule store, so callers in tests only need
// to set what they're exercising.
func New(cfg Config) *Monitor {
	if cfg.Proc == nil {
		cfg.Proc = proctable.Default
	}
	if cfg.Rules == nil {
		cfg.Rules = rules.NewStore()
	}
	if cfg.Spawners == nil {
		cfg.Spawners = spawner.New(cfg.Proc, cfg.Log, cfg.SpawnerPrefixes)
	}
	return &Monitor{
		proc:            cfg.Proc,
		rules:           cfg.Rules,
		spawners:        cfg.Spawners,
		watcher:         cfg.Watcher,
		launcher:        cfg.Launcher,
		log:             cfg.Log,
		spawnerPrefixes: cfg.SpawnerPrefixes,
		packageDBPath:   cfg.PackageDBPath,
		eventSeq:        atomic.NewUint64(0),
	}
}

// Run starts the tracer goroutine and blocks until ctx is cancelled. The
// tracer goroutine repeatedly waits for any traced descendant to change
// state, interleaved with spawner-registration jobs submitted from
// watcher events, all on one OS thread for the reasons documented on
// Monitor.
func (m *Monitor) Run(ctx context.Context) error {
	jobs := make(chan func(), 8)
	tracerDone := make(chan struct{})
	go func() {
		defer close(tracerDone)
		m.runTracer(ctx, jobs)
	}()

	var watcherEvents <-chan watcher.Event
	if m.watcher != nil {
		watcherEvents = m.watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			<-tracerDone
			return ctx.Err()

		case ev, ok := <-watcherEvents:
			if !ok {
				watcherEvents = nil
				continue
			}
			m.handleWatcherEvent(ctx, ev, jobs)

		case <-tracerDone:
			return nil
		}
	}
}

// runTracer locks the calling goroutine to its current OS thread for as
// long as the trace loop runs, then owns every ptrace/wait4 call for the
// rest of that lifetime: the blocking wait, the dispatch it feeds
// (Cont/Detach/SetOptions/GetEventMsg), and any spawner registration
// (Attach) submitted as a job from the watcher-event handler. Locking
// once here and never unlocking until return is what keeps the kernel's
// per-thread tracer identity stable across the whole run.
func (m *Monitor) runTracer(ctx context.Context, jobs <-chan func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	m.rescanSpawners() // find existing spawners before the first wait

	for {
		select {
		case <-ctx.Done():
			m.terminate()
			return
		case job := <-jobs:
			job()
			continue
		default:
		}

		pid, status, err := ptrace.WaitBlocking()
		if err != nil {
			if err == syscall.ECHILD {
				// true quiescence: wait for a registration job, a short
				// timeout, or shutdown before retrying, rather than
				// busy-looping on wait4.
				select {
				case <-ctx.Done():
					m.terminate()
					return
				case job := <-jobs:
					job()
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			m.log.Debugf("wait error: %v", err)
			continue
		}
		m.dispatch(ctx, pid, status)
	}
}

// handleWatcherEvent runs on Run's own goroutine. Rule-table refresh
// touches no ptrace state and is safe here directly; spawner rediscovery
// does issue PTRACE_ATTACH (via Register) and so is submitted as a job
// for the tracer goroutine to run on its locked OS thread.
func (m *Monitor) handleWatcherEvent(ctx context.Context, ev watcher.Event, jobs chan<- func()) {
	switch ev.Kind {
	case watcher.PackageDBChanged:
		if err := m.rules.RefreshFromPackageDB(m.packageDBPath); err != nil {
			m.log.Errorf("refresh package db: %v", err)
		}
		submitJob(ctx, jobs, m.rescanSpawners)
	case watcher.InterpreterAccessed:
		submitJob(ctx, jobs, m.rescanSpawners)
	}
}

// submitJob hands fn to the tracer goroutine without waiting for it to
// run, dropping it silently if ctx is already cancelled.
func submitJob(ctx context.Context, jobs chan<- func(), fn func()) {
	select {
	case jobs <- fn:
	case <-ctx.Done():
	}
}

// rescanSpawners must only be called from the tracer goroutine: it calls
// through to spawner.Registry.Register, which issues PTRACE_ATTACH.
func (m *Monitor) rescanSpawners() {
	pids, err := m.proc.AllPIDs()
	if err != nil {
		m.log.Debugf("rescan spawners: %v", err)
		return
	}
	registered := m.spawners.DiscoverAll(pids)
	for _, pid := range registered {
		m.log.Debugf("rediscovered spawner pid=%d", pid)
	}
}

func (m *Monitor) terminate() {
	m.log.Debugf("trace loop terminating")
}
