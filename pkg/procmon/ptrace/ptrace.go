// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

// Package ptrace wraps the handful of raw ptrace(2) operations the trace
// loop needs: attach/detach, continue (with or without a pending signal),
// trace-option setup for fork/vfork/clone/exec/exit stops, and fetching the
// new-child PID off a fork-class event. There is no third-party wrapper for
// these primitives in the Go ecosystem beyond golang.org/x/sys/unix and the
// stdlib syscall package itself, so this layer is a thin pass-through rather
// than a reimplementation of anything a library already provides.
package ptrace

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// TraceOptions are the PTRACE_SETOPTIONS bits used by this monitor for
// a spawner (fork/vfork/exit) or for a freshly attached child (clone/exec/exit).
const (
	SpawnerOptions = unix.PTRACE_O_TRACEFORK | unix.PTRACE_O_TRACEVFORK | unix.PTRACE_O_TRACEEXIT
	ChildOptions   = unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEEXEC | unix.PTRACE_O_TRACEEXIT
)

// Event is the ptrace-stop event code carried by a SIGTRAP group-stop,
// extracted from bits 16-23 of the wait status.
type Event int

const (
	EventNone  Event = 0
	EventFork  Event = unix.PTRACE_EVENT_FORK
	EventVFork Event = unix.PTRACE_EVENT_VFORK
	EventClone Event = unix.PTRACE_EVENT_CLONE
	EventExec  Event = unix.PTRACE_EVENT_EXEC
	EventExit  Event = unix.PTRACE_EVENT_EXIT
)

// EventOf extracts the ptrace event code from a wait status, or EventNone
// if the stop did not carry one (i.e. WSTOPSIG != SIGTRAP, or no high bits
// set). Mirrors the WEVENT(status) = (status & 0xff0000) >> 16 macro.
func EventOf(ws syscall.WaitStatus) Event {
	if !ws.Stopped() || ws.StopSignal() != syscall.SIGTRAP {
		return EventNone
	}
	return Event((int(ws) & 0xff0000) >> 16)
}

// Attach issues PTRACE_ATTACH on pid.
func Attach(pid int) error {
	if err := syscall.PtraceAttach(pid); err != nil {
		return fmt.Errorf("ptrace attach %d: %w", pid, err)
	}
	return nil
}

// SetOptions issues PTRACE_SETOPTIONS on pid.
func SetOptions(pid int, options int) error {
	if err := syscall.PtraceSetOptions(pid, options); err != nil {
		return fmt.Errorf("ptrace setoptions %d: %w", pid, err)
	}
	return nil
}

// Cont resumes pid, optionally redelivering sig (0 for none).
func Cont(pid int, sig int) error {
	if err := syscall.PtraceCont(pid, sig); err != nil {
		return fmt.Errorf("ptrace cont %d: %w", pid, err)
	}
	return nil
}

// Detach releases pid from ptrace, optionally leaving it stopped by sig
// (syscall.SIGSTOP) or resuming it cleanly (sig 0).
func Detach(pid int, sig int) error {
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, uintptr(syscall.PTRACE_DETACH), uintptr(pid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return fmt.Errorf("ptrace detach %d: %w", pid, errno)
	}
	return nil
}

// GetEventMsg fetches the PTRACE_GETEVENTMSG payload: the new child PID on
// a FORK/VFORK/CLONE event.
func GetEventMsg(pid int) (uint, error) {
	msg, err := syscall.PtraceGetEventMsg(pid)
	if err != nil {
		return 0, fmt.Errorf("ptrace geteventmsg %d: %w", pid, err)
	}
	return msg, nil
}

// WaitBlocking waits for a status change of any tracee in any thread group
// (thread-group-inclusive, per spec: "Main wait contract"). It blocks until
// a child changes state or there are no children to wait for (ECHILD).
// Used by the trace loop's OS-thread-locked tracer goroutine, which also
// dispatches every result it returns.
func WaitBlocking() (pid int, status syscall.WaitStatus, err error) {
	pid, err = syscall.Wait4(-1, &status, unix.WALL, nil)
	return pid, status, err
}

// TryWait performs a non-blocking wait on a single tid, used by the
// thread-fan-out detach to decide whether a thread is already waitable.
func TryWait(tid int) (waitable bool, err error) {
	var status syscall.WaitStatus
	pid, err := syscall.Wait4(tid, &status, unix.WALL|unix.WNOHANG, nil)
	if err != nil {
		return false, err
	}
	return pid == tid, nil
}

// WaitFor blocks for a status change of a single pid, used to observe the
// initial SIGSTOP right after PTRACE_ATTACH.
func WaitFor(pid int) (status syscall.WaitStatus, err error) {
	_, err = syscall.Wait4(pid, &status, unix.WALL, nil)
	return status, err
}
