// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/buildjail/lib/testutil"
)

func TestAllowlistReadWrite(t *testing.T) {
	allowlist := NewAllowlist("build/make", "/abs/tools/")

	tests := []struct {
		source string
		root   string
		want   bool
	}{
		{"/tree/build/make", "/tree", true},
		{"/other/build/make", "/other", true},
		{"/tree/build/make/core", "/tree", false},
		{"/tree/build", "/tree", false},
		{"/abs/tools", "/tree", true},
		{"/outside/build/make", "/tree", false},
	}
	for _, test := range tests {
		if got := allowlist.ReadWrite(test.source, test.root); got != test.want {
			t.Errorf("ReadWrite(%q, %q) = %v, want %v", test.source, test.root, got, test.want)
		}
	}
}

func TestAllowlistNilAndEmpty(t *testing.T) {
	var absent *Allowlist
	if !absent.ReadWrite("/tree/anything", "/tree") {
		t.Error("nil allow-list should permit read-write")
	}
	if absent.Len() != 0 {
		t.Errorf("nil Len() = %d, want 0", absent.Len())
	}

	empty := NewAllowlist()
	if empty.ReadWrite("/tree/anything", "/tree") {
		t.Error("empty allow-list should make everything read-only")
	}
}

func TestParseAllowlist(t *testing.T) {
	allowlist, err := ParseAllowlist(strings.NewReader(`
# Paths the build may write to.
build/make

  external/zlib
`))
	if err != nil {
		t.Fatalf("ParseAllowlist: %v", err)
	}
	if allowlist.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", allowlist.Len())
	}
	if !allowlist.ReadWrite("/tree/external/zlib", "/tree") {
		t.Error("trimmed entry not honored")
	}
}

func TestReadAllowlist(t *testing.T) {
	directory := t.TempDir()

	allowlist, err := ReadAllowlist(filepath.Join(directory, "missing"))
	if err != nil {
		t.Fatalf("ReadAllowlist(missing): %v", err)
	}
	if allowlist != nil {
		t.Error("missing file should yield a nil allow-list")
	}

	path := filepath.Join(directory, "rw_whitelist")
	testutil.WriteFile(t, path, "device/google\n")
	allowlist, err = ReadAllowlist(path)
	if err != nil {
		t.Fatalf("ReadAllowlist: %v", err)
	}
	if !allowlist.ReadWrite("/tree/device/google", "/tree") {
		t.Error("listed path not read-write")
	}
}
