// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which buildjail binary is running.
//
// Release builds inject [GitCommit], [GitDirty] and [BuildTime] with
// -ldflags -X. Other builds fall back to the vcs.* settings the Go
// toolchain records in the binary, and to "unknown" when there are none
// (go test, builds outside a checkout). [Version] is set by hand for
// releases.
package version
