// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

package trace

import (
	"syscall"

	"github.com/antoxa-hide/procmon/pkg/procmon/ptrace"
)

// detachPlain detaches pid without delivering a signal, then fans out the
// detach across its thread group: every successful classification,
// target or not, must release the whole thread group, not just pid.
func (m *Monitor) detachPlain(pid int) {
	m.attached.Remove(pid)
	m.detaching.Remove(pid)
	if err := ptrace.Detach(pid, 0); err != nil {
		m.log.Debugf("detach %d: %v", pid, err)
	}
	m.detachThreads(pid)
}

// detachTarget detaches pid leaving it stopped (SIGSTOP delivered), for a
// classified target about to be handed to the external agent.
func (m *Monitor) detachTarget(pid int) {
	m.attached.Remove(pid)
	m.detaching.Remove(pid)
	if err := ptrace.Detach(pid, int(syscall.SIGSTOP)); err != nil {
		m.log.Debugf("detach-with-stop %d: %v", pid, err)
	}
	m.detachThreads(pid)
}

// detachThreads fans a detach out across a thread group: for every thread
// TID != pid in the tracee's thread group, detach it immediately if a
// non-blocking wait shows it's already waitable, otherwise request an
// async stop and let the main loop's DetachSet rule finish the job.
func (m *Monitor) detachThreads(pid int) {
	tids, err := m.proc.Threads(pid)
	if err != nil {
		return
	}
	for _, tid := range tids {
		if tid == pid {
			continue
		}
		waitable, err := ptrace.TryWait(tid)
		if err == nil && waitable {
			if derr := ptrace.Detach(tid, 0); derr != nil {
				m.log.Debugf("detach thread %d: %v", tid, derr)
			}
			continue
		}
		m.detaching.Add(tid)
		if err := syscall.Tgkill(pid, tid, syscall.SIGSTOP); err != nil {
			m.log.Debugf("tgkill %d/%d: %v", pid, tid, err)
		}
	}
}

// detachUnconditional is rule (1) of the main loop's event classification:
// a status change that isn't a ptrace-stop, or a PID already marked for
// detach, is detached immediately with no signal and no further processing.
// A spawner detached here is also dropped from the registry, so that a
// later rescan attaches to it again instead of only refreshing its entry.
func (m *Monitor) detachUnconditional(pid int) {
	m.attached.Remove(pid)
	m.detaching.Remove(pid)
	m.spawners.OnExit(pid)
	if err := ptrace.Detach(pid, 0); err != nil {
		m.log.Debugf("unconditional detach %d: %v", pid, err)
	}
}
