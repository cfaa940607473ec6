// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/buildjail/lib/codec"
	"github.com/bureau-foundation/buildjail/lib/config"
	"github.com/bureau-foundation/buildjail/lib/overlaydef"
	"github.com/bureau-foundation/buildjail/sandbox"
)

// composeCmd implements the "compose" command: it composes the source
// tree and prints each mount in insertion order.
func composeCmd(args []string, stdout io.Writer) error {
	var flags composeFlags
	flagSet := newFlagSet("compose", "Compose the source tree and print the resulting mounts")
	flags.addFlags(flagSet)
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}

	session, err := flags.compose(newLogger("compose"))
	if err != nil {
		return err
	}
	defer session.close(flags.target, nil)

	for _, entry := range session.composition.Mounts.Entries() {
		mode := "rw"
		if entry.ReadOnly {
			mode = "ro"
		}
		fmt.Fprintf(stdout, "%s %s <- %s\n", mode, entry.Destination, entry.Source)
	}

	fingerprint, err := session.composition.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "\n%d mounts, fingerprint %s\n", session.composition.Mounts.Len(), fingerprint)
	return nil
}

// targetsCmd implements the "targets" command.
func targetsCmd(args []string, stdout io.Writer) error {
	var (
		configPath    string
		sourceDir     string
		overlayConfig string
	)
	flagSet := newFlagSet("targets", "List the build targets an overlay config defines")
	flagSet.StringVar(&configPath, "config", "", "tool configuration file (default $BUILDJAIL_CONFIG)")
	flagSet.StringVarP(&sourceDir, "source-dir", "s", ".", "base source checkout")
	flagSet.StringVar(&overlayConfig, "overlay-config", "", "overlay definition (default from tool config, relative to the source dir)")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if overlayConfig == "" {
		absolute, err := filepath.Abs(sourceDir)
		if err != nil {
			return fmt.Errorf("resolving source directory: %w", err)
		}
		overlayConfig = config.SourceRelative(absolute, cfg.Overlay.ConfigFile)
	}

	definition, err := overlaydef.ReadFileIfExists(overlayConfig)
	if err != nil {
		return err
	}
	if definition == nil {
		return &sandbox.ConfigError{Reason: fmt.Sprintf("no overlay definition at %s", overlayConfig)}
	}

	for _, name := range definition.TargetNames() {
		target, _ := definition.Target(name)
		fmt.Fprintln(stdout, name)
		if len(target.Overlays) > 0 {
			fmt.Fprintf(stdout, "    overlays: %s\n", strings.Join(target.Overlays, ", "))
		}
		if len(target.Views) > 0 {
			fmt.Fprintf(stdout, "    views:    %s\n", strings.Join(target.Views, ", "))
		}
	}
	return nil
}

// inspectCmd implements the "inspect" command. It reads the manifest a
// kept scratch directory records.
func inspectCmd(args []string, stdout io.Writer) error {
	var diagnostic bool
	flagSet := newFlagSet("inspect", "Print the manifest of a kept scratch directory")
	flagSet.BoolVar(&diagnostic, "diag", false, "print the raw CBOR diagnostic notation")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: buildjail inspect [--diag] <scratch-dir|manifest>")
	}
	path := flagSet.Arg(0)

	if diagnostic {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, sandbox.ManifestName)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading manifest: %w", err)
		}
		notation, err := codec.Diagnose(data)
		if err != nil {
			return fmt.Errorf("decoding manifest %s: %w", path, err)
		}
		fmt.Fprintln(stdout, notation)
		return nil
	}

	manifest, err := sandbox.ReadManifest(path)
	if err != nil {
		return err
	}

	if manifest.Target != "" {
		fmt.Fprintf(stdout, "Target:       %s\n", manifest.Target)
	}
	fmt.Fprintf(stdout, "Base:         %s\n", manifest.BaseDir)
	for _, overlay := range manifest.OverlayDirs {
		if overlay == manifest.BaseDir {
			continue
		}
		fmt.Fprintf(stdout, "Overlay:      %s\n", overlay)
	}
	fmt.Fprintf(stdout, "Destination:  %s\n", manifest.DestinationDir)
	fmt.Fprintf(stdout, "Scratch:      %s\n", manifest.ScratchDir)
	fmt.Fprintf(stdout, "Fingerprint:  %s\n", manifest.Fingerprint)
	if len(manifest.Argv) > 0 {
		fmt.Fprintf(stdout, "Command:      %s\n", strings.Join(manifest.Argv, " "))
	}
	fmt.Fprintf(stdout, "\nMounts (%d):\n", len(manifest.Mounts))
	for _, mount := range manifest.Mounts {
		mode := "rw"
		if mount.ReadOnly {
			mode = "ro"
		}
		fmt.Fprintf(stdout, "  %s %s <- %s\n", mode, mount.Destination, mount.Source)
	}
	return nil
}

// validateCmd implements the "validate" command.
func validateCmd(args []string, stdout io.Writer) error {
	var (
		configPath     string
		sourceDir      string
		target         string
		overlayConfig  string
		allowlist      string
		launcher       string
		launcherConfig string
		chroot         string
	)
	flagSet := newFlagSet("validate", "Check the launcher, source tree and configuration")
	flagSet.StringVar(&configPath, "config", "", "tool configuration file (default $BUILDJAIL_CONFIG)")
	flagSet.StringVarP(&sourceDir, "source-dir", "s", ".", "base source checkout")
	flagSet.StringVarP(&target, "target", "t", "", "build target to check")
	flagSet.StringVar(&overlayConfig, "overlay-config", "", "overlay definition (default from tool config)")
	flagSet.StringVar(&allowlist, "allowlist", "", "read/write allow-list (default from tool config)")
	flagSet.StringVar(&launcher, "launcher", "", "launcher executable (default from tool config)")
	flagSet.StringVar(&launcherConfig, "launcher-config", "", "launcher configuration file (default from tool config)")
	flagSet.StringVar(&chroot, "chroot", "", "system directory root (default from tool config)")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid tool configuration: %w", err)
	}

	absolute, err := filepath.Abs(sourceDir)
	if err != nil {
		return fmt.Errorf("resolving source directory: %w", err)
	}

	validator := sandbox.NewValidator()
	validator.ValidateAll(sandbox.ValidateOptions{
		Launcher:       firstNonEmpty(launcher, cfg.Launcher.Path),
		LauncherConfig: firstNonEmpty(launcherConfig, cfg.Launcher.ConfigFile),
		SourceDir:      absolute,
		OverlayConfig:  firstNonEmpty(overlayConfig, config.SourceRelative(absolute, cfg.Overlay.ConfigFile)),
		Target:         target,
		Allowlist:      firstNonEmpty(allowlist, config.SourceRelative(absolute, cfg.Overlay.AllowlistFile)),
		Chroot:         firstNonEmpty(chroot, cfg.Launcher.Chroot),
	})
	validator.PrintResults(stdout)

	if validator.HasErrors() {
		return fmt.Errorf("validation failed")
	}
	return nil
}
