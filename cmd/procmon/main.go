// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux
// +build linux

// Command procmon runs the process birth monitor: it attaches to zygote-like
// spawners, classifies their children against a rule table, and hands
// matching targets off to an out-of-band agent before they execute any code.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antoxa-hide/procmon/pkg/procmon/runner"
)

var configPath string
var verboseFlag bool

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "procmon",
		Short: "Trace zygote-like spawners and hand off matching children to an out-of-band agent",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trace loop until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner.Run(cmd.Context(), configPath, verboseFlag)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "/etc/procmon/procmon.yaml", "path to the YAML configuration file")
	runCmd.Flags().BoolVar(&verboseFlag, "verbose", false, "enable debug logging (overrides the config file's verbose setting)")

	root.AddCommand(runCmd)
	return root
}
