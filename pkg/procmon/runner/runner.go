// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

// Package runner assembles the config, rule store, spawner registry,
// watcher, agent launcher, and trace monitor into a single running daemon,
// and owns the signal-based graceful shutdown path.
package runner

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/antoxa-hide/procmon/pkg/procmon/agent"
	"github.com/antoxa-hide/procmon/pkg/procmon/config"
	"github.com/antoxa-hide/procmon/pkg/procmon/logger"
	"github.com/antoxa-hide/procmon/pkg/procmon/proctable"
	"github.com/antoxa-hide/procmon/pkg/procmon/rules"
	"github.com/antoxa-hide/procmon/pkg/procmon/spawner"
	"github.com/antoxa-hide/procmon/pkg/procmon/trace"
	"github.com/antoxa-hide/procmon/pkg/procmon/watcher"
)

// Run loads configPath, wires up every component, and blocks until ctx is
// cancelled or a SIGINT/SIGTERM arrives, at which point it shuts down the
// watcher and trace loop and returns.
func Run(ctx context.Context, configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Verbose = true
	}
	log := logger.Logger{Verbose: cfg.Verbose}

	store := rules.NewStore()
	var ruleSet []rules.Rule
	for _, r := range cfg.Rules {
		ruleSet = append(ruleSet, rules.Rule{Package: r.Package, Process: r.Process})
	}
	store.SetRules(ruleSet)
	if err := store.RefreshFromPackageDB(cfg.PackageDBPath); err != nil {
		log.Errorf("initial package db read failed, starting with an empty rule map: %v", err)
	}

	spawners := spawner.New(proctable.Default, log, cfg.SpawnerPrefixes)

	interpreterPaths := config.ResolveInterpreterPaths(cfg.InterpreterPaths, cfg.InterpreterFallbackPath)
	w, err := watcher.New(cfg.PackageDBPath, interpreterPaths, log)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	defer w.Close()

	launcher, err := newLauncher(*cfg, log)
	if err != nil {
		return err
	}

	monitor := trace.New(trace.Config{
		Proc:            proctable.Default,
		Rules:           store,
		Spawners:        spawners,
		Watcher:         w,
		Launcher:        launcher,
		Log:             log,
		SpawnerPrefixes: cfg.SpawnerPrefixes,
		PackageDBPath:   cfg.PackageDBPath,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- monitor.Run(ctx)
	}()
	go w.Run(ctx)

	if err := <-errCh; err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func newLauncher(cfg config.Config, log logger.Logger) (agent.Launcher, error) {
	switch cfg.AgentMode {
	case "", "exec":
		return agent.ExecLauncher{BinaryPath: cfg.AgentBinaryPath, Log: log}, nil
	case "socket":
		return agent.SocketLauncher{Addr: cfg.AgentSocketAddr, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown agent_mode %q", cfg.AgentMode)
	}
}
