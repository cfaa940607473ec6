// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

// ManifestName is the file a kept scratch directory records its
// composition in.
const ManifestName = "manifest.cbor"

// Manifest records a composition and the command line that ran over it,
// so a kept scratch directory can be inspected after the build.
type Manifest struct {
	Target         string          `cbor:"target,omitempty"`
	BaseDir        string          `cbor:"base_dir"`
	OverlayDirs    []string        `cbor:"overlay_dirs"`
	DestinationDir string          `cbor:"destination_dir"`
	ScratchDir     string          `cbor:"scratch_dir"`
	Fingerprint    string          `cbor:"fingerprint"`
	Mounts         []ManifestMount `cbor:"mounts"`
	Argv           []string        `cbor:"argv,omitempty"`
}

// ManifestMount is one mount in insertion order.
type ManifestMount struct {
	Destination string `cbor:"destination"`
	Source      string `cbor:"source"`
	ReadOnly    bool   `cbor:"read_only,omitempty"`
}

// Manifest describes the composition.
func (c *Composition) Manifest(target string, argv []string) (*Manifest, error) {
	fingerprint, err := c.Fingerprint()
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{
		Target:         target,
		BaseDir:        c.BaseDir,
		OverlayDirs:    append([]string(nil), c.OverlayDirs...),
		DestinationDir: c.DestinationDir,
		ScratchDir:     c.ScratchDir,
		Fingerprint:    fingerprint.String(),
		Argv:           append([]string(nil), argv...),
	}
	for _, entry := range c.Mounts.Entries() {
		manifest.Mounts = append(manifest.Mounts, ManifestMount{
			Destination: entry.Destination,
			Source:      entry.Source,
			ReadOnly:    entry.ReadOnly,
		})
	}
	return manifest, nil
}

// WriteManifest writes manifest to path.
func WriteManifest(path string, manifest *Manifest) error {
	data, err := codec.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a manifest from path. A directory is taken to be a
// kept scratch directory holding ManifestName.
func ReadManifest(path string) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ManifestName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var manifest Manifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	return &manifest, nil
}
