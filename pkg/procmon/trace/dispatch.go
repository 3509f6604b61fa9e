// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

package trace

import (
	"context"
	"syscall"

	"github.com/antoxa-hide/procmon/pkg/procmon/ptrace"
)

// dispatch classifies a single woken (pid, status) pair and decides
// whether it needs attaching, detaching, or further event-specific handling.
func (m *Monitor) dispatch(ctx context.Context, pid int, status syscall.WaitStatus) {
	// Rule 1: not a ptrace-stop, or pid already scheduled for detach.
	if !status.Stopped() || m.detaching.Has(pid) {
		m.detachUnconditional(pid)
		return
	}

	event := ptrace.EventOf(status)

	switch {
	case status.StopSignal() == syscall.SIGTRAP && event != ptrace.EventNone:
		m.dispatchEvent(ctx, pid, event)

	case status.StopSignal() == syscall.SIGSTOP:
		// the child's first stop after being attached: arm it so its
		// first clone produces a stop we can act on.
		if err := ptrace.SetOptions(pid, ptrace.ChildOptions); err != nil {
			m.log.Debugf("setoptions %d: %v", pid, err)
		}
		if err := ptrace.Cont(pid, 0); err != nil {
			m.log.Debugf("cont %d: %v", pid, err)
		}

	default:
		// not caused by us; the tracee isn't misbehaving, we merely
		// transport the signal.
		sig := int(status.StopSignal())
		if err := ptrace.Cont(pid, sig); err != nil {
			m.log.Debugf("cont %d with signal %d: %v", pid, sig, err)
		}
	}
}

func (m *Monitor) dispatchEvent(ctx context.Context, pid int, event ptrace.Event) {
	if m.spawners.IsSpawner(pid) {
		m.dispatchSpawnerEvent(pid, event)
		return
	}
	m.dispatchChildEvent(ctx, pid, event)
}

func (m *Monitor) dispatchSpawnerEvent(pid int, event ptrace.Event) {
	switch event {
	case ptrace.EventFork, ptrace.EventVFork:
		msg, err := ptrace.GetEventMsg(pid)
		if err != nil {
			m.log.Debugf("geteventmsg for spawner %d: %v", pid, err)
			return
		}
		m.attached.Add(int(msg))
		if err := ptrace.Cont(pid, 0); err != nil {
			m.log.Debugf("cont spawner %d: %v", pid, err)
		}
	case ptrace.EventExit:
		m.spawners.OnExit(pid)
		m.detachUnconditional(pid)
	default:
		m.detachUnconditional(pid)
	}
}

func (m *Monitor) dispatchChildEvent(ctx context.Context, pid int, event ptrace.Event) {
	switch event {
	case ptrace.EventClone:
		if m.attached.Has(pid) {
			m.attached.Remove(pid)
			m.checkPID(ctx, pid) // always detaches; resume decision is internal
			return
		}
		if err := ptrace.Cont(pid, 0); err != nil {
			m.log.Debugf("cont unattached clone %d: %v", pid, err)
		}
	case ptrace.EventExec, ptrace.EventExit:
		m.detachUnconditional(pid)
	default:
		m.detachUnconditional(pid)
	}
}
