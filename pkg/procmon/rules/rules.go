// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package rules holds the (package, process) rule table and the derived
// UID -> {process name} map rebuilt from the package database on refresh.
package rules

import "sync"

// Rule pairs the package name a rule was configured for with the exact
// command-line first token the spawned process will present.
type Rule struct {
	Package string
	Process string
}

// Store holds the rule set and the UidProcessMap derived from joining it
// against the package database. Safe for concurrent use: the trace loop's
// tracer goroutine calls Lookup while watcher-triggered refreshes run on
// the monitor's Run goroutine.
type Store struct {
	mu         sync.Mutex
	rules      []Rule
	uidProcMap map[int]map[string]struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{uidProcMap: make(map[int]map[string]struct{})}
}

// SetRules replaces the rule set wholesale. The UidProcessMap is not
// recomputed here: it is only ever derived from a package database read,
// via RefreshFromPackageDB.
func (s *Store) SetRules(rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]Rule(nil), rules...)
}

// Rules returns a copy of the current rule set.
func (s *Store) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rule(nil), s.rules...)
}

// Lookup returns the set of process names registered for uid (already
// reduced modulo 100000 by the caller), or nil if none are registered.
func (s *Store) Lookup(uid int) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uidProcMap[uid]
}

// RefreshFromPackageDB parses the package database at path and rebuilds
// the UidProcessMap in full, atomically under the store's lock. Records
// not mentioning a package this store has a rule for are ignored. A
// malformed record terminates parsing of that record only; the file is
// still fully consumed.
func (s *Store) RefreshFromPackageDB(path string) error {
	s.mu.Lock()
	rules := append([]Rule(nil), s.rules...)
	s.mu.Unlock()

	byPackage := make(map[string][]string, len(rules))
	for _, r := range rules {
		byPackage[r.Package] = append(byPackage[r.Package], r.Process)
	}

	newMap := make(map[int]map[string]struct{})
	err := parsePackagesXML(path, byPackage, func(uid int, processes []string) {
		set := newMap[uid]
		if set == nil {
			set = make(map[string]struct{})
			newMap[uid] = set
		}
		for _, p := range processes {
			set[p] = struct{}{}
		}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.uidProcMap = newMap
	s.mu.Unlock()
	return nil
}
