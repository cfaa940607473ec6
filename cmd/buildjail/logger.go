// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger creates the command logger. When stderr is a terminal it
// writes human-readable text; when stderr is piped or redirected (CI
// build logs) it writes JSON. BUILDJAIL_DEBUG raises the level to debug.
func newLogger(command string) *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("BUILDJAIL_DEBUG") != "" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler).With("command", command)
}
