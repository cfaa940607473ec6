// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTree(t *testing.T) {
	root := Tree(t, t.TempDir(),
		"empty/",
		"a/b/file",
		"a/link -> b",
	)

	info, err := os.Stat(filepath.Join(root, "empty"))
	if err != nil || !info.IsDir() {
		t.Fatalf("empty/ not created as directory: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(root, "a", "b", "file"))
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if string(content) != "a/b/file" {
		t.Errorf("file content = %q, want %q", content, "a/b/file")
	}

	target, err := os.Readlink(filepath.Join(root, "a", "link"))
	if err != nil {
		t.Fatalf("reading link: %v", err)
	}
	if target != "b" {
		t.Errorf("link target = %q, want %q", target, "b")
	}
}
