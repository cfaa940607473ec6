// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/buildjail/lib/testutil"
)

func TestManifestRoundTrip(t *testing.T) {
	base := testutil.Tree(t, t.TempDir(), "Makefile", "build/core.mk")
	composer := testComposer(t)
	composer.KeepScratch = true
	composition := compose(t, composer, ComposeOptions{BaseDir: base, DestinationDir: "/src"})

	argv := []string{"nsjail", "--", "make"}
	manifest, err := composition.Manifest("aosp_arm64", argv)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if err := WriteManifest(filepath.Join(composition.ScratchDir, ManifestName), manifest); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	// Reading the scratch directory finds the manifest inside it.
	read, err := ReadManifest(composition.ScratchDir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if read.Target != "aosp_arm64" || read.BaseDir != base || read.DestinationDir != "/src" {
		t.Errorf("manifest header = %+v", read)
	}
	if len(read.Mounts) != composition.Mounts.Len() {
		t.Fatalf("manifest has %d mounts, want %d", len(read.Mounts), composition.Mounts.Len())
	}
	for i, entry := range composition.Mounts.Entries() {
		got := read.Mounts[i]
		if got.Destination != entry.Destination || got.Source != entry.Source || got.ReadOnly != entry.ReadOnly {
			t.Errorf("mount %d = %+v, want %+v", i, got, entry)
		}
	}

	fingerprint, err := composition.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if read.Fingerprint != fingerprint.String() {
		t.Errorf("fingerprint = %s, want %s", read.Fingerprint, fingerprint)
	}
	if len(read.Argv) != 3 || read.Argv[2] != "make" {
		t.Errorf("argv = %v", read.Argv)
	}
}

func TestReadManifestMissing(t *testing.T) {
	if _, err := ReadManifest(t.TempDir()); err == nil {
		t.Error("ReadManifest succeeded on a directory without a manifest")
	}
}
