// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// RunOptions controls a single launcher invocation.
type RunOptions struct {
	// MountLocalDevice asks the device bridge to release host devices
	// before the launcher starts. The argv must already carry the device
	// mounts.
	MountLocalDevice bool

	// DryRun prints the command line without running it.
	DryRun bool

	// Quiet suppresses printing the command line.
	Quiet bool
}

// Runner executes launcher command lines.
type Runner struct {
	// Stdin, Stdout and Stderr are forwarded to the launcher. Nil
	// selects the process's own streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Output receives the printed command line. Nil selects Stdout.
	Output io.Writer

	// Logger for runner operations. Defaults to slog.Default().
	Logger *slog.Logger

	// DeviceBridge releases host devices for MountLocalDevice runs. Nil
	// selects NewDeviceBridge().
	DeviceBridge *DeviceBridge

	// KillGrace is how long a cancelled launcher has to exit after
	// SIGTERM before it is killed. Zero selects ten seconds.
	KillGrace time.Duration
}

// Run prints and executes argv, waiting for it to exit. A non-zero exit
// is returned as *LauncherError carrying the launcher's exit code.
func (r *Runner) Run(ctx context.Context, argv []string, opts RunOptions) error {
	if len(argv) == 0 {
		return fmt.Errorf("command is required")
	}

	if opts.MountLocalDevice {
		bridge := r.DeviceBridge
		if bridge == nil {
			bridge = NewDeviceBridge()
		}
		if bridge.Logger == nil {
			bridge.Logger = r.logger()
		}
		if err := bridge.Yield(ctx); err != nil {
			return err
		}
	}

	if !opts.Quiet {
		fmt.Fprintln(r.output(), strings.Join(argv, " "))
	}
	if opts.DryRun {
		return nil
	}

	cmd := r.Command(ctx, argv)
	r.logger().Debug("starting launcher", "path", argv[0], "args", len(argv)-1)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("launcher interrupted: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				code = 1
			}
			return &LauncherError{Command: argv, Code: code}
		}
		return fmt.Errorf("running launcher: %w", err)
	}
	return nil
}

// Command creates the exec.Cmd for argv. The launcher runs in its own
// process group, and cancelling ctx signals the whole group.
func (r *Runner) Command(ctx context.Context, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = r.Stdin
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// The launcher passes the build its environment via --env. Its own
	// environment stays minimal so nothing else is visible in
	// /proc/<pid>/environ from inside the sandbox.
	cmd.Env = []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"TERM=" + os.Getenv("TERM"),
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = r.KillGrace
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 10 * time.Second
	}
	return cmd
}

func (r *Runner) output() io.Writer {
	if r.Output != nil {
		return r.Output
	}
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
