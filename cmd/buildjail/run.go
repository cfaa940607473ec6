// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildjail/lib/config"
	"github.com/bureau-foundation/buildjail/lib/overlaydef"
	"github.com/bureau-foundation/buildjail/sandbox"
)

// composeFlags are shared by every command that composes a source tree.
type composeFlags struct {
	configPath    string
	sourceDir     string
	target        string
	overlayConfig string
	allowlist     string
	whiteout      []string
	keepScratch   bool
}

func (f *composeFlags) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "tool configuration file (default $BUILDJAIL_CONFIG)")
	flagSet.StringVarP(&f.sourceDir, "source-dir", "s", ".", "base source checkout")
	flagSet.StringVarP(&f.target, "target", "t", "", "build target whose overlays and views to apply")
	flagSet.StringVar(&f.overlayConfig, "overlay-config", "", "overlay definition (default from tool config, relative to the source dir)")
	flagSet.StringVar(&f.allowlist, "allowlist", "", "read/write allow-list (default from tool config)")
	flagSet.StringArrayVar(&f.whiteout, "whiteout", nil, "source directory never to overlay, repeatable")
	flagSet.BoolVar(&f.keepScratch, "keep-scratch", false, "keep the scratch directory and its manifest after the build")
}

// session is a loaded configuration with its composed source tree.
type session struct {
	config      *config.Config
	sourceDir   string
	composition *sandbox.Composition
	keepScratch bool
	logger      *slog.Logger
}

// compose loads the tool configuration and composes the source tree.
func (f *composeFlags) compose(logger *slog.Logger) (*session, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tool configuration: %w", err)
	}

	sourceDir, err := filepath.Abs(f.sourceDir)
	if err != nil {
		return nil, fmt.Errorf("resolving source directory: %w", err)
	}

	definition, err := f.definition(cfg, sourceDir)
	if err != nil {
		return nil, &sandbox.ConfigError{Reason: "loading overlay definition", Err: err}
	}
	if definition == nil && f.target != "" {
		logger.Warn("no overlay definition found; composing the base tree alone", "target", f.target)
	}

	allowlistPath := f.allowlist
	if allowlistPath == "" {
		allowlistPath = config.SourceRelative(sourceDir, cfg.Overlay.AllowlistFile)
	}
	var allowlist *sandbox.Allowlist
	if allowlistPath != "" {
		allowlist, err = sandbox.ReadAllowlist(allowlistPath)
		if err != nil {
			return nil, &sandbox.ConfigError{Reason: "loading read/write allow-list", Err: err}
		}
	}

	composer := sandbox.NewComposer(logger)
	composer.MaxMounts = cfg.Overlay.MaxMounts
	composer.ScratchRoot = cfg.Overlay.ScratchRoot
	keepScratch := f.keepScratch || cfg.KeepScratchEnabled()
	composer.KeepScratch = keepScratch

	composition, err := composer.ComposeTarget(definition, f.target, sandbox.ComposeOptions{
		BaseDir:        sourceDir,
		DestinationDir: cfg.Mounts.Source,
		Whiteout:       f.whiteout,
		Allowlist:      allowlist,
	})
	if err != nil {
		return nil, err
	}

	return &session{
		config:      cfg,
		sourceDir:   sourceDir,
		composition: composition,
		keepScratch: keepScratch,
		logger:      logger,
	}, nil
}

func (f *composeFlags) definition(cfg *config.Config, sourceDir string) (*overlaydef.Config, error) {
	if f.overlayConfig != "" {
		return overlaydef.ReadFile(f.overlayConfig)
	}
	return overlaydef.ReadFileIfExists(config.SourceRelative(sourceDir, cfg.Overlay.ConfigFile))
}

// close records a manifest in a kept scratch directory and releases the
// composition.
func (s *session) close(target string, argv []string) {
	if s.keepScratch && s.composition.ScratchDir != "" {
		manifest, err := s.composition.Manifest(target, argv)
		if err == nil {
			err = sandbox.WriteManifest(filepath.Join(s.composition.ScratchDir, sandbox.ManifestName), manifest)
		}
		if err != nil {
			s.logger.Warn("failed to record manifest", "error", err)
		}
	}
	if err := s.composition.Close(); err != nil {
		s.logger.Warn("failed to release composition", "error", err)
	}
}

// runFlags are the launcher options of the run command.
type runFlags struct {
	composeFlags

	outDir           string
	distDir          string
	metaRootDir      string
	metaAndroidDir   string
	buildID          string
	env              []string
	maxCPUs          int
	quiet            bool
	dryRun           bool
	launcher         string
	launcherConfig   string
	chroot           string
	readWriteBinds   []string
	readOnlyBinds    []string
	mountLocalDevice bool
}

func (f *runFlags) addFlags(flagSet *pflag.FlagSet) {
	f.composeFlags.addFlags(flagSet)
	flagSet.StringVar(&f.outDir, "out-dir", "", "build output directory, mounted at the out mount point in place of the source tree's out")
	flagSet.StringVar(&f.distDir, "dist-dir", "", "distribution directory, mounted at the dist mount point and exported as DIST_DIR")
	flagSet.StringVar(&f.metaRootDir, "meta-root-dir", "", "build metadata root, mounted at the meta mount point")
	flagSet.StringVar(&f.metaAndroidDir, "meta-android-dir", "android", "path under the meta mount point where the source tree appears again")
	flagSet.StringVar(&f.buildID, "build-id", "", "exported to the build as BUILD_NUMBER")
	flagSet.StringArrayVarP(&f.env, "env", "e", nil, "KEY=VALUE exported to the build, repeatable")
	flagSet.IntVar(&f.maxCPUs, "max-cpus", 0, "CPUs the sandbox may use (default from tool config, 0 for all)")
	flagSet.BoolVarP(&f.quiet, "quiet", "q", false, "do not print the command line and silence the launcher")
	flagSet.BoolVar(&f.dryRun, "dry-run", false, "print the command line without running it")
	flagSet.StringVar(&f.launcher, "launcher", "", "launcher executable (default from tool config)")
	flagSet.StringVar(&f.launcherConfig, "launcher-config", "", "launcher configuration file (default from tool config)")
	flagSet.StringVar(&f.chroot, "chroot", "", "directory system directories are taken from (default from tool config)")
	flagSet.StringArrayVar(&f.readWriteBinds, "bindmount", nil, "extra read-write mount source[:dest], repeatable")
	flagSet.StringArrayVar(&f.readOnlyBinds, "bindmount-ro", nil, "extra read-only mount source[:dest], repeatable")
	flagSet.BoolVar(&f.mountLocalDevice, "mount-local-device", false, "expose USB devices, stopping a host adb server first")
}

// runCmd implements the "run" command.
func runCmd(ctx context.Context, args []string, stdout io.Writer) error {
	var flags runFlags
	flagSet := newFlagSet("run", "Compose the source tree and run a command in the sandbox")
	flags.addFlags(flagSet)
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	command := flagSet.Args()
	if len(command) == 0 {
		command = []string{"/bin/bash"}
	}

	logger := newLogger("run")
	session, err := flags.compose(logger)
	if err != nil {
		return err
	}

	argv, err := flags.argv(session, command)
	if err != nil {
		session.close(flags.target, nil)
		return err
	}

	runner := &sandbox.Runner{
		Stdout:       stdout,
		Logger:       logger,
		DeviceBridge: deviceBridge(session.config, logger),
	}
	err = runner.Run(ctx, argv, sandbox.RunOptions{
		MountLocalDevice: flags.mountLocalDevice,
		DryRun:           flags.dryRun,
		Quiet:            flags.quiet,
	})
	session.close(flags.target, argv)
	return err
}

// argv builds the launcher command line for a composed session.
func (f *runFlags) argv(s *session, command []string) ([]string, error) {
	cfg := s.config

	launcher := firstNonEmpty(f.launcher, cfg.Launcher.Path)
	if resolved, err := sandbox.LauncherPath(launcher); err == nil {
		launcher = resolved
	} else if !f.dryRun {
		return nil, &sandbox.ConfigError{Reason: "locating sandbox launcher", Err: err}
	}

	maxCPUs := f.maxCPUs
	if maxCPUs == 0 {
		maxCPUs = cfg.Launcher.MaxCPUs
	}

	builder := sandbox.NewNsjailBuilder()
	builder.MountPoints = sandbox.MountPoints{
		Source: cfg.Mounts.Source,
		Out:    cfg.Mounts.Out,
		Dist:   cfg.Mounts.Dist,
		Meta:   cfg.Mounts.Meta,
	}
	return builder.Build(sandbox.LaunchOptions{
		Launcher:         launcher,
		ConfigFile:       firstNonEmpty(f.launcherConfig, cfg.Launcher.ConfigFile),
		Command:          command,
		SourceDir:        s.sourceDir,
		Mounts:           s.composition.Mounts,
		OutDir:           f.outDir,
		DistDir:          f.distDir,
		MetaRootDir:      f.metaRootDir,
		MetaAndroidDir:   f.metaAndroidDir,
		BuildID:          f.buildID,
		Env:              f.env,
		MaxCPUs:          maxCPUs,
		Quiet:            f.quiet,
		Chroot:           firstNonEmpty(f.chroot, cfg.Launcher.Chroot),
		MountLocalDevice: f.mountLocalDevice,
		ReadWriteBinds:   f.readWriteBinds,
		ReadOnlyBinds:    f.readOnlyBinds,
		ExtraArgs:        cfg.Launcher.ExtraArgs,
	})
}

// deviceBridge applies the configured confirmation policy.
func deviceBridge(cfg *config.Config, logger *slog.Logger) *sandbox.DeviceBridge {
	bridge := sandbox.NewDeviceBridge()
	bridge.Logger = logger
	if cfg.DeviceBridge.Pattern != "" {
		bridge.Pattern = regexp.MustCompile(cfg.DeviceBridge.Pattern)
	}
	switch cfg.DeviceBridge.Confirm {
	case config.ConfirmAlways:
		bridge.Confirm = func(string) (bool, error) { return true, nil }
	case config.ConfirmNever:
		bridge.Confirm = func(string) (bool, error) { return false, nil }
	}
	return bridge
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
