// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Buildjail runs builds inside an nsjail sandbox whose source tree is
// composed from a base checkout and a target's overlays using only bind
// mounts. It provides run (compose and launch), compose (print the
// mount set), targets (list overlay targets), inspect (read the manifest
// of a kept scratch directory) and validate (check the host and the
// configuration).
package main
