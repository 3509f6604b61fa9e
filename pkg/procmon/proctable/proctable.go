// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

// Package proctable provides best-effort, read-only lookups against the
// process filesystem: parent PID, command line, owning UID, and mount
// namespace identity. Every lookup tolerates a process vanishing mid-query;
// a missing result is reported via the second return value, never an error.
package proctable

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MountNS identifies a mount namespace by the (device, inode) pair of its
// /proc/<pid>/ns/mnt link. Two processes share a mount namespace iff their
// MountNS values are equal.
type MountNS struct {
	Dev uint64
	Ino uint64
}

// Reader looks up process metadata. FS is the concrete implementation
// against the real filesystem; tests substitute an FS pointed at a fake
// tree, or a hand-rolled fake, via this interface.
type Reader interface {
	Parent(pid int) (int, bool)
	Commandline(pid int) (string, bool)
	UID(pid int) (int, bool)
	MountNS(pid int) (MountNS, bool)
	Threads(pid int) ([]int, error)
	AllPIDs() ([]int, error)
}

// FS is a Reader backed by a real (or faked, in tests) procfs mount.
type FS struct {
	// Root is the procfs mount point, normally "/proc". Overridable so
	// tests can point it at a t.TempDir() tree instead of the real procfs.
	Root string
}

// Default is the Reader used outside of tests.
var Default Reader = FS{Root: "/proc"}

func (fs FS) root() string {
	if fs.Root == "" {
		return "/proc"
	}
	return fs.Root
}

func (fs FS) path(elem ...string) string {
	return filepath.Join(append([]string{fs.root()}, elem...)...)
}

// Parent reads the fourth whitespace-delimited field of /proc/<pid>/stat,
// which is the parent PID. The second field (comm) may itself contain
// whitespace if the process renamed itself with spaces, so the comm field
// is skipped by locating the closing ')' of its parenthesized form rather
// than by naive field splitting.
func (fs FS) Parent(pid int) (int, bool) {
	data, err := os.ReadFile(fs.path(strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, false
	}
	line := string(data)
	close := strings.LastIndexByte(line, ')')
	if close < 0 || close+2 >= len(line) {
		return 0, false
	}
	fields := strings.Fields(line[close+2:])
	// fields[0] is state, fields[1] is ppid
	if len(fields) < 2 {
		return 0, false
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return ppid, true
}

// Commandline returns the canonical process name: the first NUL-terminated
// token of /proc/<pid>/cmdline.
func (fs FS) Commandline(pid int) (string, bool) {
	data, err := os.ReadFile(fs.path(strconv.Itoa(pid), "cmdline"))
	if err != nil || len(data) == 0 {
		return "", false
	}
	if i := strings.IndexByte(string(data), 0); i >= 0 {
		return string(data[:i]), true
	}
	return string(data), true
}

// UID returns the owning UID of the /proc/<pid> directory inode.
func (fs FS) UID(pid int) (int, bool) {
	info, err := os.Stat(fs.path(strconv.Itoa(pid)))
	if err != nil {
		return 0, false
	}
	uid, ok := uidFromFileInfo(info)
	if !ok {
		return 0, false
	}
	return uid, true
}

// MountNS stats /proc/<pid>/ns/mnt and returns its (device, inode) pair.
func (fs FS) MountNS(pid int) (MountNS, bool) {
	info, err := os.Stat(fs.path(strconv.Itoa(pid), "ns", "mnt"))
	if err != nil {
		return MountNS{}, false
	}
	ns, ok := mountNSFromFileInfo(info)
	if !ok {
		return MountNS{}, false
	}
	return ns, true
}

// AllPIDs lists every numeric entry directly under the procfs root, i.e.
// every currently visible PID.
func (fs FS) AllPIDs() ([]int, error) {
	entries, err := os.ReadDir(fs.root())
	if err != nil {
		return nil, fmt.Errorf("read procfs root: %w", err)
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Threads lists the TIDs under /proc/<pid>/task.
func (fs FS) Threads(pid int) ([]int, error) {
	entries, err := os.ReadDir(fs.path(strconv.Itoa(pid), "task"))
	if err != nil {
		return nil, fmt.Errorf("read task dir for pid %d: %w", pid, err)
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}

// Parent, Commandline, UID, MountNS, Threads on Default for callers that
// don't need dependency injection.

// ParentOf is a convenience wrapper around Default.Parent.
func ParentOf(pid int) (int, bool) { return Default.Parent(pid) }

// CommandlineOf is a convenience wrapper around Default.Commandline.
func CommandlineOf(pid int) (string, bool) { return Default.Commandline(pid) }

// UIDOf is a convenience wrapper around Default.UID.
func UIDOf(pid int) (int, bool) { return Default.UID(pid) }

// MountNSOf is a convenience wrapper around Default.MountNS.
func MountNSOf(pid int) (MountNS, bool) { return Default.MountNS(pid) }

// IterThreads is a convenience wrapper around Default.Threads.
func IterThreads(pid int) ([]int, error) { return Default.Threads(pid) }

// AllPIDsOf is a convenience wrapper around Default.AllPIDs.
func AllPIDsOf() ([]int, error) { return Default.AllPIDs() }
