// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// DefaultDeviceServerPattern matches the host adb server, which holds
// USB devices open and would keep an adb server inside the sandbox from
// reaching them.
var DefaultDeviceServerPattern = regexp.MustCompile(`(^|/)adb\b.*\bfork-server\b`)

// DeviceBridge stops host processes that would compete with the sandbox
// for locally attached devices.
type DeviceBridge struct {
	// Pattern is matched against each process's command line, with
	// arguments joined by spaces.
	Pattern *regexp.Regexp

	// ProcRoot is the proc filesystem to scan. Defaults to "/proc".
	ProcRoot string

	// Confirm asks whether the described processes may be stopped.
	// Defaults to TerminalConfirm on standard input.
	Confirm func(prompt string) (bool, error)

	// Signal stops one process. Defaults to sending SIGTERM.
	Signal func(pid int) error

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewDeviceBridge returns a bridge that stops a running adb server after
// confirmation on the terminal.
func NewDeviceBridge() *DeviceBridge {
	return &DeviceBridge{
		Pattern:  DefaultDeviceServerPattern,
		ProcRoot: "/proc",
		Confirm:  TerminalConfirm(os.Stdin, os.Stderr),
		Signal:   terminate,
	}
}

// HostProcess is a process found by a DeviceBridge scan.
type HostProcess struct {
	PID         int
	CommandLine string
}

// Yield stops every matching host process, after asking. Declining is
// a *HostPreconditionError. Finding no process is not an error.
func (b *DeviceBridge) Yield(ctx context.Context) error {
	processes, err := b.Scan()
	if err != nil {
		return err
	}
	if len(processes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var prompt strings.Builder
	prompt.WriteString("The following host processes hold local devices and must be stopped:\n")
	for _, process := range processes {
		fmt.Fprintf(&prompt, "  %d  %s\n", process.PID, process.CommandLine)
	}
	prompt.WriteString("Stop them?")

	confirm := b.Confirm
	if confirm == nil {
		confirm = TerminalConfirm(os.Stdin, os.Stderr)
	}
	approved, err := confirm(prompt.String())
	if err != nil {
		return fmt.Errorf("confirming device bridge shutdown: %w", err)
	}
	if !approved {
		return &HostPreconditionError{
			Reason: fmt.Sprintf("%d host process(es) hold local devices and were not stopped", len(processes)),
		}
	}

	signal := b.Signal
	if signal == nil {
		signal = terminate
	}
	var errs []error
	for _, process := range processes {
		b.logger().Info("stopping host process", "pid", process.PID, "command", process.CommandLine)
		if err := signal(process.PID); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("stopping pid %d: %w", process.PID, err))
		}
	}
	return errors.Join(errs...)
}

// Scan lists processes whose command lines match Pattern, ordered by
// PID. Processes that exit during the scan are skipped.
func (b *DeviceBridge) Scan() ([]HostProcess, error) {
	procRoot := b.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	pattern := b.Pattern
	if pattern == nil {
		pattern = DefaultDeviceServerPattern
	}

	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("scanning processes: %w", err)
	}

	self := os.Getpid()
	var processes []HostProcess
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		data, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "cmdline"))
		if err != nil || len(data) == 0 {
			continue
		}
		commandLine := strings.Join(strings.FieldsFunc(string(data), func(r rune) bool { return r == 0 }), " ")
		if pattern.MatchString(commandLine) {
			processes = append(processes, HostProcess{PID: pid, CommandLine: commandLine})
		}
	}
	sort.Slice(processes, func(i, j int) bool { return processes[i].PID < processes[j].PID })
	return processes, nil
}

func (b *DeviceBridge) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

// TerminalConfirm returns a confirmer that asks a yes/no question on
// out and reads the answer from in. When in is not a terminal nobody
// can answer, so it declines without reading.
func TerminalConfirm(in *os.File, out io.Writer) func(string) (bool, error) {
	return func(prompt string) (bool, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return false, nil
		}
		return promptYesNo(in, out, prompt)
	}
}

// promptYesNo writes prompt and reads one line. Only an explicit yes
// approves.
func promptYesNo(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch string(bytes.ToLower(bytes.TrimSpace(line))) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
