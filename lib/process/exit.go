// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that carry a process exit status.
type ExitCoder interface {
	error
	ExitCode() int
}

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Exit terminates the process for err. A nil err exits 0. An error
// wrapping an [ExitCoder] exits with that code without printing, since
// the child already reported its own failure. Anything else goes
// through [Fatal].
func Exit(err error) {
	os.Exit(ExitCode(err, os.Stderr))
}

// ExitCode returns the exit status for err, writing the message for
// non-ExitCoder errors to w. Split out from Exit for testing.
func ExitCode(err error, w io.Writer) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if errors.As(err, &coder) && coder.ExitCode() > 0 {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
