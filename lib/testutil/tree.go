// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Tree creates the given entries under root and returns root. Each
// entry is a slash-separated path relative to root:
//
//   - "a/b/" (trailing slash) creates a directory.
//   - "a/b/file" creates a regular file whose content is its own path.
//   - "a/link -> target" creates a symlink named a/link pointing at
//     target (verbatim, so relative targets stay relative).
//
// Parent directories are created as needed.
//
//	base := testutil.Tree(t, t.TempDir(),
//	    "build/make/core/main.mk",
//	    "frameworks/base/.git/",
//	    "out/",
//	)
func Tree(t testing.TB, root string, entries ...string) string {
	t.Helper()

	for _, entry := range entries {
		if name, target, ok := strings.Cut(entry, " -> "); ok {
			Symlink(t, target, filepath.Join(root, filepath.FromSlash(name)))
			continue
		}

		path := filepath.Join(root, filepath.FromSlash(entry))
		if strings.HasSuffix(entry, "/") {
			Mkdir(t, path)
			continue
		}
		WriteFile(t, path, entry)
	}
	return root
}

// Mkdir creates path and any missing parents.
func Mkdir(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("creating directory %s: %v", path, err)
	}
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	Mkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// Symlink creates a symlink at path pointing to target, creating the
// parent directory of path.
func Symlink(t testing.TB, target, path string) {
	t.Helper()
	Mkdir(t, filepath.Dir(path))
	if err := os.Symlink(target, path); err != nil {
		t.Fatalf("creating symlink %s -> %s: %v", path, target, err)
	}
}
