// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package overlaydef parses and validates overlay definitions: which
// overlay trees a build target layers over the base checkout, and which
// filesystem views (explicit source → destination path remaps) it applies
// afterwards.
//
// Definitions are authored either as YAML or as JSONC (JSON extended with
// comments and trailing commas); [ReadFile] picks the format from the file
// extension. Both decode into the same document shape:
//
//	targets:
//	  unittest:
//	    overlays: [unittest1, unittest2]
//	    views: [unittest]
//	views:
//	  unittest:
//	    - source: overlays/unittest1/from_file
//	      destination: to_file
//
// The raw document never leaves this package. [Parse] converts it into a
// [Config] of explicit [Target] and [View] records with ordered slices, and
// rejects structural problems (unknown view references, absolute or
// escaping paths) before any caller sees it.
package overlaydef
