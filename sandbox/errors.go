// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"strings"
)

// ConflictError reports a mount whose destination would hide non-empty
// content already provided by an earlier mount.
type ConflictError struct {
	// Source is the source of the mount that was rejected.
	Source string

	// Destination is where the rejected mount would have been placed.
	Destination string

	// Existing is the path (inside an earlier mount's source) whose
	// content the rejected mount would have hidden.
	Existing string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s could not be mounted at %s because it conflicts with %s",
		e.Source, e.Destination, e.Existing)
}

// CapacityError reports that inserting a mount would exceed the
// configured maximum mount count. This indicates a pathological overlay
// layout (one that forces file-by-file mounting of a large tree), not a
// transient condition.
type CapacityError struct {
	Limit       int
	Destination string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("mounting %s would exceed the limit of %d bind mounts", e.Destination, e.Limit)
}

// ConfigError reports malformed or inconsistent input detected before
// any mount is attempted: an unknown target, a view path that does not
// exist, an absolute meta directory.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// configErrorf builds a ConfigError with a formatted reason.
func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// LauncherError reports that the sandbox launcher exited non-zero. The
// build inside the sandbox failing is a legitimate outcome, so this is
// never retried; the launcher's code is propagated as the process exit
// status.
type LauncherError struct {
	Command []string
	Code    int
}

func (e *LauncherError) Error() string {
	return fmt.Sprintf("command exited with code %d: %s", e.Code, strings.Join(e.Command, " "))
}

// ExitCode returns the launcher's exit status.
func (e *LauncherError) ExitCode() int { return e.Code }

// HostPreconditionError reports that a host-side requirement for the
// sandbox was not met, such as the operator declining to stop a host
// daemon that would conflict with the one inside the sandbox.
type HostPreconditionError struct {
	Reason string
}

func (e *HostPreconditionError) Error() string {
	return e.Reason
}
