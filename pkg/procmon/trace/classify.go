// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

package trace

import (
	"context"
	"strings"
)

// verdict is the result of classifying a candidate tracee.
type verdict int

const (
	verdictNotTarget verdict = iota
	verdictTarget
)

// checkPID classifies a non-spawner PID against the rule table. It always
// issues the appropriate detach (plain, or detach-with-delivered-SIGSTOP)
// before returning; no path leaves a classified PID still attached.
func (m *Monitor) checkPID(ctx context.Context, pid int) verdict {
	cmdline, ok := m.proc.Commandline(pid)
	if !ok {
		// process vanished mid-query: not an error, just not a target.
		m.detachPlain(pid)
		return verdictNotTarget
	}

	if m.isSpawnerCmdline(cmdline) {
		m.detachPlain(pid)
		return verdictNotTarget
	}

	uid, ok := m.proc.UID(pid)
	if !ok {
		m.detachPlain(pid)
		return verdictNotTarget
	}

	names := m.rules.Lookup(uid % 100000)
	if names == nil {
		m.detachPlain(pid)
		return verdictNotTarget
	}
	if _, wanted := names[cmdline]; !wanted {
		m.detachPlain(pid)
		return verdictNotTarget
	}

	ns, ok := m.proc.MountNS(pid)
	if !ok {
		m.detachPlain(pid)
		return verdictNotTarget
	}
	if m.spawners.NSMatches(ns) {
		// the kernel hasn't placed the child in its own mount namespace
		// yet; the spawner will eventually unshare and we'll be called
		// again on a later event.
		m.detachPlain(pid)
		return verdictNotTarget
	}

	m.log.Infof("target found: pid=%d uid=%d cmdline=%q", pid, uid, cmdline)
	m.detachTarget(pid)

	launcher := m.launcher
	if launcher != nil {
		if err := launcher.Launch(ctx, pid); err != nil {
			m.log.Errorf("agent launch for target %d failed: %v", pid, err)
		}
	}
	return verdictTarget
}

func (m *Monitor) isSpawnerCmdline(cmdline string) bool {
	for _, p := range m.spawnerPrefixes {
		if strings.HasPrefix(cmdline, p) {
			return true
		}
	}
	return false
}
