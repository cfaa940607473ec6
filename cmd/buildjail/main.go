// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildjail/lib/process"
	"github.com/bureau-foundation/buildjail/lib/version"
	"github.com/bureau-foundation/buildjail/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := dispatch(ctx, os.Args[1], os.Args[2:], os.Stdout)
	stop()

	if err != nil {
		if hint := remediation(err); hint != "" {
			fmt.Fprintf(os.Stderr, "error: %v\n%s\n", err, hint)
			os.Exit(1)
		}
	}
	process.Exit(err)
}

func dispatch(ctx context.Context, command string, args []string, stdout io.Writer) error {
	switch command {
	case "run":
		return runCmd(ctx, args, stdout)
	case "compose":
		return composeCmd(args, stdout)
	case "targets":
		return targetsCmd(args, stdout)
	case "inspect":
		return inspectCmd(args, stdout)
	case "validate":
		return validateCmd(args, stdout)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "buildjail %s\n", version.Full())
		return nil
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `buildjail - Run builds in a sandbox over an overlay-composed source tree

USAGE
    buildjail <command> [flags] [-- <command>...]

COMMANDS
    run       Compose the source tree and run a command in the sandbox
    compose   Compose the source tree and print the resulting mounts
    targets   List the build targets an overlay config defines
    inspect   Print the manifest of a kept scratch directory
    validate  Check the launcher, source tree and configuration
    version   Show version

EXAMPLES
    # Build a target with its overlays
    buildjail run --source-dir ~/aosp --target aosp_arm64 -- m droid

    # See the launcher command line without running it
    buildjail run --source-dir ~/aosp --target aosp_arm64 --dry-run -- m droid

    # Show what a target's source tree is made of
    buildjail compose --source-dir ~/aosp --target aosp_arm64

ENVIRONMENT
    BUILDJAIL_CONFIG       Tool configuration file
    BUILDJAIL_ENVIRONMENT  Override the configured environment (development, ci, release)
    BUILDJAIL_DEBUG        Enable debug logging
`)
}

// newFlagSet creates a subcommand flag set that reports errors instead
// of exiting.
func newFlagSet(name string, usage string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SortFlags = false
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "buildjail %s - %s\n\nFLAGS\n", name, usage)
		flagSet.PrintDefaults()
	}
	return flagSet
}

// parseFlags parses args, treating a help request as success.
func parseFlags(flagSet *pflag.FlagSet, args []string) (help bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// remediation returns advice for errors the user can act on.
func remediation(err error) string {
	var (
		conflict     *sandbox.ConflictError
		capacity     *sandbox.CapacityError
		configErr    *sandbox.ConfigError
		precondition *sandbox.HostPreconditionError
		launcherErr  *sandbox.LauncherError
	)
	switch {
	case errors.As(err, &launcherErr):
		return ""
	case errors.As(err, &conflict):
		return "hint: two overlays (or an overlay and a view) provide the same path; " +
			"remove it from one of them or mark the directory as a project"
	case errors.As(err, &capacity):
		return "hint: an overlay forces file-by-file mounting of a large tree; " +
			"mark the directory as a project or raise overlay.max_mounts"
	case errors.As(err, &configErr):
		return "hint: run `buildjail targets` and `buildjail validate` to check the configuration"
	case errors.As(err, &precondition):
		return "hint: stop the host device server yourself (adb kill-server) or run without --mount-local-device"
	}
	return ""
}
