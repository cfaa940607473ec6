// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for buildjail. These
// functions centralize the raw I/O that happens before the structured
// logger exists or after an unrecoverable error in main():
//
//   - Fatal error reporting to stderr.
//   - Process exit that propagates a child's exit code, so that a failed
//     build inside the sandbox surfaces the launcher's own status.
package process
