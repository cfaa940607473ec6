// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MountPoints are the fixed locations inside the sandbox where the build's
// directories appear.
type MountPoints struct {
	// Source is where the composed source tree is mounted.
	Source string

	// Out is where the build output directory is mounted.
	Out string

	// Dist is where the distribution directory is mounted. It is also
	// exported to the build as DIST_DIR.
	Dist string

	// Meta is where the build metadata root is mounted.
	Meta string
}

// DefaultMountPoints returns the standard sandbox layout.
func DefaultMountPoints() MountPoints {
	return MountPoints{
		Source: "/src",
		Out:    "/src/out",
		Dist:   "/dist",
		Meta:   "/meta",
	}
}

// DefaultChrootDirs are the host directories, relative to the chroot,
// that are bound read-only into the sandbox when they exist.
var DefaultChrootDirs = []string{
	"bin",
	"sbin",
	"etc/alternatives",
	"etc/default",
	"etc/perl",
	"etc/ssl",
	"etc/xml",
	"lib",
	"lib32",
	"lib64",
	"libx32",
	"usr",
	"var/lib/dpkg",
}

// DeviceMounts expose attached USB devices to the sandbox.
var DeviceMounts = []string{
	"/dev/bus/usb",
	"/sys/bus/usb/devices",
	"/sys/dev",
	"/sys/devices",
}

// LaunchOptions holds options for building a launcher command line.
type LaunchOptions struct {
	// Launcher is the launcher executable. Defaults to "nsjail".
	Launcher string

	// ConfigFile is the launcher's own configuration file, if any.
	ConfigFile string

	// Command is the command to run inside the sandbox.
	Command []string

	// SourceDir is the base source checkout.
	SourceDir string

	// Mounts is the composed source tree. When nil, SourceDir is
	// mounted directly at the source mount point.
	Mounts *BindMountSet

	// OutDir is the build output directory. Optional. When set, it
	// replaces any composed mount at the out mount point.
	OutDir string

	// DistDir is the distribution directory. Optional.
	DistDir string

	// MetaRootDir is the build metadata root. Optional.
	MetaRootDir string

	// MetaAndroidDir is the path, relative to the metadata mount, where
	// the source and out trees are mounted a second time. Must be
	// relative.
	MetaAndroidDir string

	// BuildID is exported as BUILD_NUMBER when set.
	BuildID string

	// Env are extra KEY=VALUE pairs, exported in order.
	Env []string

	// MaxCPUs caps the CPUs the sandbox may use. Zero means unlimited.
	MaxCPUs int

	// Quiet suppresses the launcher's own logging.
	Quiet bool

	// Chroot is the host directory the system directories are taken
	// from. Defaults to "/".
	Chroot string

	// MountLocalDevice binds the host's USB device trees.
	MountLocalDevice bool

	// ReadWriteBinds and ReadOnlyBinds are extra mounts in
	// "source[:dest]" form. The destination defaults to the source.
	ReadWriteBinds []string
	ReadOnlyBinds  []string

	// ExtraArgs are passed to the launcher before the command.
	ExtraArgs []string
}

// NsjailBuilder builds nsjail command lines.
type NsjailBuilder struct {
	// MountPoints are the sandbox-side locations of the build
	// directories.
	MountPoints MountPoints

	// ChrootDirs are the system directories bound read-only.
	ChrootDirs []string

	args []string
}

// NewNsjailBuilder creates a builder with the default mount points and
// system directories.
func NewNsjailBuilder() *NsjailBuilder {
	return &NsjailBuilder{
		MountPoints: DefaultMountPoints(),
		ChrootDirs:  DefaultChrootDirs,
	}
}

// Build constructs the launcher argv. The result is a pure function of
// the options and of which chroot directories exist on the host.
func (b *NsjailBuilder) Build(opts LaunchOptions) ([]string, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	if opts.SourceDir == "" {
		return nil, fmt.Errorf("source directory is required")
	}
	if filepath.IsAbs(opts.MetaAndroidDir) {
		return nil, configErrorf("meta android directory %q must be relative to the meta root", opts.MetaAndroidDir)
	}

	sourceDir, err := filepath.Abs(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("resolving source directory: %w", err)
	}
	outDir, err := absoluteIfSet(opts.OutDir)
	if err != nil {
		return nil, fmt.Errorf("resolving out directory: %w", err)
	}
	distDir, err := absoluteIfSet(opts.DistDir)
	if err != nil {
		return nil, fmt.Errorf("resolving dist directory: %w", err)
	}
	metaRootDir, err := absoluteIfSet(opts.MetaRootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving meta root directory: %w", err)
	}

	launcher := opts.Launcher
	if launcher == "" {
		launcher = "nsjail"
	}
	b.args = []string{launcher}
	if opts.ConfigFile != "" {
		b.args = append(b.args, "--config", opts.ConfigFile)
	}

	// Environment.
	if opts.BuildID != "" {
		b.args = append(b.args, "--env", "BUILD_NUMBER="+opts.BuildID)
	}
	if distDir != "" {
		b.args = append(b.args, "--env", "DIST_DIR="+b.MountPoints.Dist)
	}
	for _, variable := range opts.Env {
		b.args = append(b.args, "--env", variable)
	}

	// Resource and logging options.
	if opts.MaxCPUs > 0 {
		b.args = append(b.args, "--max_cpus", fmt.Sprint(opts.MaxCPUs))
	}
	if opts.Quiet {
		b.args = append(b.args, "--quiet")
	}

	b.addChrootMounts(opts.Chroot)

	// Source tree. An explicit out directory replaces the composed one.
	if opts.Mounts != nil {
		for _, entry := range opts.Mounts.Entries() {
			if outDir != "" && entry.Destination == filepath.Clean(b.MountPoints.Out) {
				continue
			}
			b.bind(entry.Source, entry.Destination, entry.ReadOnly)
		}
	} else {
		b.bind(sourceDir, b.MountPoints.Source, false)
	}

	// Build output.
	if outDir != "" {
		b.bind(outDir, b.MountPoints.Out, false)
	}
	if distDir != "" {
		b.bind(distDir, b.MountPoints.Dist, false)
	}

	// Build metadata, with the source and out trees exposed again
	// beneath it.
	if metaRootDir != "" {
		b.bind(metaRootDir, b.MountPoints.Meta, false)
		metaAndroid := filepath.Join(b.MountPoints.Meta, opts.MetaAndroidDir)
		b.bind(sourceDir, metaAndroid, false)
		if outDir != "" {
			b.bind(outDir, filepath.Join(metaAndroid, "out"), false)
		}
	}

	if opts.MountLocalDevice {
		for _, device := range DeviceMounts {
			b.bind(device, device, false)
		}
	}

	if err := b.addExtraBinds(opts.ReadWriteBinds, false); err != nil {
		return nil, err
	}
	if err := b.addExtraBinds(opts.ReadOnlyBinds, true); err != nil {
		return nil, err
	}

	b.args = append(b.args, opts.ExtraArgs...)
	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)

	return b.args, nil
}

// bind appends one bind mount in nsjail's "source:dest" syntax.
func (b *NsjailBuilder) bind(source, destination string, readOnly bool) {
	flag := "--bindmount"
	if readOnly {
		flag = "--bindmount_ro"
	}
	b.args = append(b.args, flag, source+":"+destination)
}

// addChrootMounts binds the system directories that exist under chroot.
func (b *NsjailBuilder) addChrootMounts(chroot string) {
	if chroot == "" {
		chroot = "/"
	}
	for _, directory := range b.ChrootDirs {
		source := filepath.Join(chroot, directory)
		if _, err := os.Stat(source); err != nil {
			continue
		}
		b.bind(source, "/"+directory, true)
	}
}

// addExtraBinds adds user-specified mounts.
func (b *NsjailBuilder) addExtraBinds(specs []string, readOnly bool) error {
	for _, spec := range specs {
		source, destination, err := parseBindSpec(spec)
		if err != nil {
			return err
		}
		b.bind(source, destination, readOnly)
	}
	return nil
}

// parseBindSpec parses a bind specification in format "source[:dest]".
// Paths are assumed not to contain colons.
func parseBindSpec(spec string) (source, destination string, err error) {
	parts := strings.Split(spec, ":")
	switch {
	case len(parts) > 2 || parts[0] == "":
		return "", "", configErrorf("invalid bind spec %q: must be source[:dest]", spec)
	case len(parts) == 2 && parts[1] != "":
		return parts[0], parts[1], nil
	default:
		return parts[0], parts[0], nil
	}
}

func absoluteIfSet(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return filepath.Abs(path)
}
