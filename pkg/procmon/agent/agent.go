// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package agent implements the monitor's side of the handoff contract: once
// a target has been identified, stopped, and detached, a worker takes over
// responsibility for resuming it. Two launch strategies are supported: spawn
// a fresh one-shot process with the PID as its only input, or notify an
// already-resident agent daemon over a control socket.
package agent

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/antoxa-hide/procmon/pkg/procmon/logger"
)

// Launcher hands a stopped target PID off to the out-of-band agent. The
// monitor's contract with the implementation is: the target is stopped and
// no longer traced by the monitor at the moment Launch is called.
type Launcher interface {
	Launch(ctx context.Context, pid int) error
}

// Handoff is the msgpack-encoded notification SocketLauncher sends to a
// resident agent; only PID and Timestamp are filled in. ExecLauncher does
// not use it: a one-shot worker receives only the PID as its argument.
type Handoff struct {
	PID       int    `msgpack:"pid"`
	Package   string `msgpack:"package,omitempty"`
	Process   string `msgpack:"process,omitempty"`
	Timestamp int64  `msgpack:"timestamp"`
}

// ExecLauncher spawns a fresh agent process per target, passing the PID as
// its sole argument.
type ExecLauncher struct {
	BinaryPath string
	Log        logger.Logger
}

// Launch starts BinaryPath with the target PID as its only argument and
// does not wait for it to exit: the agent is a detached, independent
// worker from this point on.
func (l ExecLauncher) Launch(ctx context.Context, pid int) error {
	cmd := exec.CommandContext(context.Background(), l.BinaryPath, fmt.Sprintf("%d", pid))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn agent for pid %d: %w", pid, err)
	}
	l.Log.Debugf("spawned agent pid=%d for target=%d", cmd.Process.Pid, pid)
	go cmd.Wait() // reap; we deliberately do not care about its exit status
	return nil
}

// SocketLauncher notifies a long-running agent daemon over a unix domain
// socket, msgpack-encoding the Handoff as a length-prefixed frame.
type SocketLauncher struct {
	Addr    string
	Network string // "unix" or "tcp"
	Log     logger.Logger
}

// Launch dials Addr (retrying briefly, since the agent daemon may still be
// starting up) and sends a length-prefixed msgpack-encoded Handoff.
func (l SocketLauncher) Launch(ctx context.Context, pid int) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial agent socket: %w", err)
	}
	defer conn.Close()

	data, err := msgpack.Marshal(&Handoff{PID: pid, Timestamp: time.Now().UnixNano()})
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}

	if err := sendFramed(conn, data); err != nil {
		return fmt.Errorf("send handoff for pid %d: %w", pid, err)
	}
	l.Log.Debugf("handed off target=%d to resident agent at %s", pid, l.Addr)
	return nil
}

func (l SocketLauncher) dial(ctx context.Context) (net.Conn, error) {
	network := l.Network
	if network == "" {
		network = "unix"
	}
	var conn net.Conn
	err := retry.Do(func() error {
		d := net.Dialer{}
		c, err := d.DialContext(ctx, network, l.Addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, retry.Context(ctx), retry.Delay(200*time.Millisecond), retry.Attempts(10))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func sendFramed(conn net.Conn, data []byte) error {
	var size [4]byte
	size[0] = byte(len(data))
	size[1] = byte(len(data) >> 8)
	size[2] = byte(len(data) >> 16)
	size[3] = byte(len(data) >> 24)
	if _, err := conn.Write(size[:]); err != nil {
		return fmt.Errorf("write size: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
