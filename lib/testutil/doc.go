// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for buildjail packages.
//
// Most buildjail tests operate on small synthetic source trees: a base
// checkout with a handful of projects, one or two overlay trees, an out
// directory. [Tree] lays such a tree out under a temporary directory from
// a compact path list, so that each test states its fixture in a few
// lines instead of a page of os.MkdirAll calls.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no buildjail-internal dependencies.
package testutil
