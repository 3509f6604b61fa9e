// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package logger holds the minimal leveled logger used by the process
// monitor. It intentionally does not reach for the agent-wide logging
// stack: the monitor is a single dedicated goroutine and only ever needs
// debug/info/error lines gated by a verbose flag.
package logger

import (
	"fmt"
	"os"
	"time"
)

// Logger is a lightweight, verbosity-gated logger. The zero value logs
// at info/warn/error level only; set Verbose to also emit debug lines.
type Logger struct {
	Verbose bool
}

func (l Logger) write(level string, format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s [%s] procmon: %s\n", time.Now().Format(time.RFC3339), level, line)
}

// Debugf logs a debug line, only if Verbose is set.
func (l Logger) Debugf(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.write("debug", format, args...)
}

// Infof logs an info line.
func (l Logger) Infof(format string, args ...interface{}) {
	l.write("info", format, args...)
}

// Warnf logs a warning line.
func (l Logger) Warnf(format string, args ...interface{}) {
	l.write("warn", format, args...)
}

// Errorf logs an error line.
func (l Logger) Errorf(format string, args ...interface{}) {
	l.write("error", format, args...)
}
