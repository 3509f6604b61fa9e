// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

package proctable

import (
	"os"
	"syscall"
)

func uidFromFileInfo(info os.FileInfo) (int, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return int(st.Uid), true
}

func mountNSFromFileInfo(info os.FileInfo) (MountNS, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return MountNS{}, false
	}
	return MountNS{Dev: st.Dev, Ino: st.Ino}, true
}
