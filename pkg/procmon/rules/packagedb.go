// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package rules

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const packageLinePrefix = "<package "

// parsePackagesXML performs a lenient, line-oriented scan of the package
// database: a record is any line starting with "<package " followed by
// key="value" attributes and a terminating '>'. Only name, userId and
// sharedUserId are consumed; unknown keys are skipped, and a malformed
// record terminates parsing of that record only, never the whole file.
//
// Every record's attributes are scanned to completion before concluding,
// rather than stopping at the first matched key: stopping early would miss
// a sharedUserId attribute following userId (or vice versa) in the same
// record. onMatch is called once per uid found in a record whose name
// matched byPackage, with the full list of process names for that package.
func parsePackagesXML(path string, byPackage map[string][]string, onMatch func(uid int, processes []string)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open package database: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, packageLinePrefix) {
			continue
		}
		parsePackageRecord(line, byPackage, onMatch)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan package database: %w", err)
	}
	return nil
}

func parsePackageRecord(line string, byPackage map[string][]string, onMatch func(uid int, processes []string)) {
	body := strings.TrimSuffix(strings.TrimPrefix(line, packageLinePrefix), ">")

	var processes []string
	var uids []int

	rest := body
	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return // malformed: abandon this record entirely
		}
		key := rest[:eq]
		rest = rest[eq+1:]
		if !strings.HasPrefix(rest, "\"") {
			return
		}
		rest = rest[1:]
		closeIdx := strings.IndexByte(rest, '"')
		if closeIdx < 0 {
			return
		}
		value := rest[:closeIdx]
		rest = rest[closeIdx+1:]

		switch key {
		case "name":
			processes = byPackage[value]
		case "userId", "sharedUserId":
			if uid, err := strconv.Atoi(value); err == nil {
				uids = append(uids, uid)
			}
		}
	}

	if len(processes) == 0 {
		return
	}
	for _, uid := range uids {
		onMatch(uid, processes)
	}
}
