// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config loads the process monitor's runtime configuration: the
// package database path, interpreter binary paths, agent handoff target,
// and the rule table.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	// PackageDBPath is the path to the package database, normally
	// /data/system/packages.xml.
	PackageDBPath string `mapstructure:"package_db_path"`

	// InterpreterPaths is the candidate 32/64-bit interpreter pair to
	// watch for access. Not every device has both: resolve the paths
	// that actually exist with ResolveInterpreterPaths before use.
	InterpreterPaths []string `mapstructure:"interpreter_paths"`

	// InterpreterFallbackPath is watched instead when none of
	// InterpreterPaths exist on this device (the single-app_process
	// layout, rather than the 32/64 split).
	InterpreterFallbackPath string `mapstructure:"interpreter_fallback_path"`

	// SpawnerPrefixes are the command-line prefixes that identify a
	// zygote-like spawner (normally just "zygote").
	SpawnerPrefixes []string `mapstructure:"spawner_prefixes"`

	// Rules is the (package, process) rule table.
	Rules []RuleConfig `mapstructure:"rules"`

	// AgentMode selects the handoff strategy: "exec" spawns a one-shot
	// worker per target, "socket" notifies a resident agent daemon.
	AgentMode string `mapstructure:"agent_mode"`

	// AgentBinaryPath is the one-shot worker binary, used when AgentMode
	// is "exec".
	AgentBinaryPath string `mapstructure:"agent_binary_path"`

	// AgentSocketAddr is the resident agent's control socket address,
	// used when AgentMode is "socket".
	AgentSocketAddr string `mapstructure:"agent_socket_addr"`

	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// RuleConfig is the on-disk shape of a single hide rule.
type RuleConfig struct {
	Package string `mapstructure:"package"`
	Process string `mapstructure:"process"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("package_db_path", "/data/system/packages.xml")
	v.SetDefault("interpreter_paths", []string{"/system/bin/app_process32", "/system/bin/app_process64"})
	v.SetDefault("interpreter_fallback_path", "/system/bin/app_process")
	v.SetDefault("spawner_prefixes", []string{"zygote"})
	v.SetDefault("agent_mode", "exec")
	v.SetDefault("agent_binary_path", "/system/bin/magiskhide_agent")
	v.SetDefault("agent_socket_addr", "/dev/socket/procmon_agent")
	v.SetDefault("verbose", false)
}

// ResolveInterpreterPaths narrows candidates to the paths that exist on
// this device, falling back to fallback (watched alone) when none of
// candidates are present. A device shipping only a single app_process
// binary would otherwise leave every candidate unresolved and the
// watcher with nothing valid to watch.
func ResolveInterpreterPaths(candidates []string, fallback string) []string {
	var present []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return []string{fallback}
	}
	return present
}

// Load reads path (a YAML file) into a Config, applying defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}
