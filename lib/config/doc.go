// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for buildjail.
//
// Configuration is loaded from a single file named by a --config flag
// or the BUILDJAIL_CONFIG environment variable (via [Load]), or from an
// explicit path (via [LoadFile]). With neither, [Default] applies. There
// is no automatic file search.
//
// The configuration file supports environment-specific sections
// (development, ci, release) that override base values when
// [Config].Environment matches. BUILDJAIL_ENVIRONMENT selects the
// environment without editing the file. CI and release default to
// never stopping host device servers, since nobody is present to
// confirm, and release never keeps scratch directories.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded.
//
// Key exports:
//
//   - [Config] -- master struct with Launcher, Mounts, Overlay, DeviceBridge
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other buildjail packages.
package config
