// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs builds inside an nsjail sandbox whose source tree
// is assembled from a base checkout and any number of overlay trees
// using only bind mounts.
//
// [Composer] walks the overlays in priority order, base last, and fills a
// [BindMountSet]: the ordered destination-to-source mapping the sandbox
// will see. Directories that no higher-priority overlay touches are
// mounted whole. Directories that another overlay, a whiteout or a
// materialized symlink has partially claimed are descended into and
// mounted file by file. Project directories (those holding a .git
// marker) are never split: the first overlay to provide a project owns
// it. Build output directories of the base are reserved and mounted
// read-write. Symlinks to directories, which a bind mount cannot
// express, are recreated in a per-composition scratch directory that
// also hides the destination. [Composition.Close] removes it.
//
// [BindMountSet] rejects a mount whose destination conflicts with one
// already present. An exact match conflicts unless the earlier source is
// an empty directory; a mount below an earlier one conflicts only if the
// earlier source already has something at that path. [Allowlist] decides
// which sources are mounted read-write.
//
// [NsjailBuilder] turns a composition and the launch options into the
// nsjail argument vector, and [Runner] executes it with signal
// forwarding to the launcher's process group. [DeviceBridge] stops a
// host device server before local devices are exposed to the sandbox.
// [Validator] performs pre-flight checks and [Capabilities] probes the
// host.
//
// Errors are typed so callers can tell user-fixable configuration
// problems ([ConfigError], [ConflictError], [CapacityError],
// [HostPreconditionError]) from a build that ran and failed
// ([LauncherError]).
package sandbox
