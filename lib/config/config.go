// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment represents where builds run.
type Environment string

const (
	// Development is for interactive builds on a workstation.
	Development Environment = "development"
	// CI is for unattended continuous-integration builds.
	CI Environment = "ci"
	// Release is for release builds, where sources must stay immutable
	// unless explicitly allowed.
	Release Environment = "release"
)

// Confirmation policies for the device bridge.
const (
	ConfirmPrompt = "prompt"
	ConfirmAlways = "always"
	ConfirmNever  = "never"
)

// Config is the buildjail tool configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Launcher configures the sandbox launcher.
	Launcher LauncherConfig `yaml:"launcher"`

	// Mounts configures where build directories appear in the sandbox.
	Mounts MountsConfig `yaml:"mounts"`

	// Overlay configures source tree composition.
	Overlay OverlayConfig `yaml:"overlay"`

	// DeviceBridge configures handing local devices to the sandbox.
	DeviceBridge DeviceBridgeConfig `yaml:"device_bridge"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	CI          *ConfigOverrides `yaml:"ci,omitempty"`
	Release     *ConfigOverrides `yaml:"release,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Launcher     *LauncherConfig     `yaml:"launcher,omitempty"`
	Mounts       *MountsConfig       `yaml:"mounts,omitempty"`
	Overlay      *OverlayConfig      `yaml:"overlay,omitempty"`
	DeviceBridge *DeviceBridgeConfig `yaml:"device_bridge,omitempty"`
}

// LauncherConfig configures the sandbox launcher.
type LauncherConfig struct {
	// Path is the launcher executable, a bare name or a path.
	// Default: nsjail
	Path string `yaml:"path"`

	// ConfigFile is the launcher's own configuration file.
	ConfigFile string `yaml:"config_file"`

	// Chroot is the directory system directories are bound from.
	// Default: /
	Chroot string `yaml:"chroot"`

	// MaxCPUs caps the sandbox's CPUs. Zero means unlimited.
	MaxCPUs int `yaml:"max_cpus"`

	// ExtraArgs are passed to the launcher on every run.
	ExtraArgs []string `yaml:"extra_args"`
}

// MountsConfig configures mount points inside the sandbox.
type MountsConfig struct {
	Source string `yaml:"source"`
	Out    string `yaml:"out"`
	Dist   string `yaml:"dist"`
	Meta   string `yaml:"meta"`
}

// OverlayConfig configures source tree composition.
type OverlayConfig struct {
	// ConfigFile is the overlay definition, relative to the source
	// directory unless absolute. A missing file means no overlays.
	// Default: overlays/overlays.yaml
	ConfigFile string `yaml:"config_file"`

	// AllowlistFile lists sources that may be mounted read-write,
	// relative to the source directory unless absolute. A missing file
	// means everything is read-write.
	AllowlistFile string `yaml:"allowlist_file"`

	// ScratchRoot is where scratch directories are created.
	// Default: the system temporary directory.
	ScratchRoot string `yaml:"scratch_root"`

	// MaxMounts bounds the composed mount count.
	// Default: 10000
	MaxMounts int `yaml:"max_mounts"`

	// KeepScratch leaves scratch directories, with a manifest, after
	// the build.
	KeepScratch *bool `yaml:"keep_scratch,omitempty"`
}

// DeviceBridgeConfig configures stopping host device servers.
type DeviceBridgeConfig struct {
	// Pattern matches the command lines of host processes to stop.
	// Default: the adb server.
	Pattern string `yaml:"pattern"`

	// Confirm is the confirmation policy: prompt, always or never.
	// Default: prompt (development), never (ci, release)
	Confirm string `yaml:"confirm"`
}

// Default returns the default configuration.
func Default() *Config {
	keep := false
	return &Config{
		Environment: Development,
		Launcher: LauncherConfig{
			Path:   "nsjail",
			Chroot: "/",
		},
		Mounts: MountsConfig{
			Source: "/src",
			Out:    "/src/out",
			Dist:   "/dist",
			Meta:   "/meta",
		},
		Overlay: OverlayConfig{
			ConfigFile:  filepath.Join("overlays", "overlays.yaml"),
			MaxMounts:   10000,
			KeepScratch: &keep,
		},
		DeviceBridge: DeviceBridgeConfig{
			Pattern: `(^|/)adb\b.*\bfork-server\b`,
			Confirm: ConfirmPrompt,
		},
	}
}

// Load loads configuration from path, or from the BUILDJAIL_CONFIG
// environment variable when path is empty. With neither, the defaults
// apply. BUILDJAIL_ENVIRONMENT, when set, overrides the file's
// environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("BUILDJAIL_CONFIG")
	}
	if path == "" {
		cfg := Default()
		cfg.finish()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.finish()
	return cfg, nil
}

func (c *Config) finish() {
	if environment := os.Getenv("BUILDJAIL_ENVIRONMENT"); environment != "" {
		c.Environment = Environment(environment)
	}
	c.applyEnvironmentOverrides()
	c.expandVariables()
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case CI:
		overrides = c.CI
		// Nobody is at the terminal to answer.
		if overrides == nil {
			overrides = &ConfigOverrides{
				DeviceBridge: &DeviceBridgeConfig{Confirm: ConfirmNever},
			}
		}
	case Release:
		overrides = c.Release
		if overrides == nil {
			keep := false
			overrides = &ConfigOverrides{
				Overlay:      &OverlayConfig{KeepScratch: &keep},
				DeviceBridge: &DeviceBridgeConfig{Confirm: ConfirmNever},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Launcher != nil {
		if overrides.Launcher.Path != "" {
			c.Launcher.Path = overrides.Launcher.Path
		}
		if overrides.Launcher.ConfigFile != "" {
			c.Launcher.ConfigFile = overrides.Launcher.ConfigFile
		}
		if overrides.Launcher.Chroot != "" {
			c.Launcher.Chroot = overrides.Launcher.Chroot
		}
		if overrides.Launcher.MaxCPUs != 0 {
			c.Launcher.MaxCPUs = overrides.Launcher.MaxCPUs
		}
		if overrides.Launcher.ExtraArgs != nil {
			c.Launcher.ExtraArgs = overrides.Launcher.ExtraArgs
		}
	}

	if overrides.Mounts != nil {
		if overrides.Mounts.Source != "" {
			c.Mounts.Source = overrides.Mounts.Source
		}
		if overrides.Mounts.Out != "" {
			c.Mounts.Out = overrides.Mounts.Out
		}
		if overrides.Mounts.Dist != "" {
			c.Mounts.Dist = overrides.Mounts.Dist
		}
		if overrides.Mounts.Meta != "" {
			c.Mounts.Meta = overrides.Mounts.Meta
		}
	}

	if overrides.Overlay != nil {
		if overrides.Overlay.ConfigFile != "" {
			c.Overlay.ConfigFile = overrides.Overlay.ConfigFile
		}
		if overrides.Overlay.AllowlistFile != "" {
			c.Overlay.AllowlistFile = overrides.Overlay.AllowlistFile
		}
		if overrides.Overlay.ScratchRoot != "" {
			c.Overlay.ScratchRoot = overrides.Overlay.ScratchRoot
		}
		if overrides.Overlay.MaxMounts != 0 {
			c.Overlay.MaxMounts = overrides.Overlay.MaxMounts
		}
		if overrides.Overlay.KeepScratch != nil {
			c.Overlay.KeepScratch = overrides.Overlay.KeepScratch
		}
	}

	if overrides.DeviceBridge != nil {
		if overrides.DeviceBridge.Pattern != "" {
			c.DeviceBridge.Pattern = overrides.DeviceBridge.Pattern
		}
		if overrides.DeviceBridge.Confirm != "" {
			c.DeviceBridge.Confirm = overrides.DeviceBridge.Confirm
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Launcher.Path = expandVars(c.Launcher.Path, vars)
	c.Launcher.ConfigFile = expandVars(c.Launcher.ConfigFile, vars)
	c.Launcher.Chroot = expandVars(c.Launcher.Chroot, vars)
	c.Overlay.ConfigFile = expandVars(c.Overlay.ConfigFile, vars)
	c.Overlay.AllowlistFile = expandVars(c.Overlay.AllowlistFile, vars)
	c.Overlay.ScratchRoot = expandVars(c.Overlay.ScratchRoot, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != CI && c.Environment != Release {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Launcher.Path == "" {
		errs = append(errs, fmt.Errorf("launcher.path is required"))
	}
	if c.Launcher.MaxCPUs < 0 {
		errs = append(errs, fmt.Errorf("launcher.max_cpus must not be negative"))
	}

	for _, mountPoint := range []struct{ name, path string }{
		{"mounts.source", c.Mounts.Source},
		{"mounts.out", c.Mounts.Out},
		{"mounts.dist", c.Mounts.Dist},
		{"mounts.meta", c.Mounts.Meta},
	} {
		if !filepath.IsAbs(mountPoint.path) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", mountPoint.name, mountPoint.path))
		}
	}

	if c.Overlay.MaxMounts <= 0 {
		errs = append(errs, fmt.Errorf("overlay.max_mounts must be positive"))
	}

	if c.DeviceBridge.Pattern != "" {
		if _, err := regexp.Compile(c.DeviceBridge.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("device_bridge.pattern: %w", err))
		}
	}
	confirmValues := []string{ConfirmPrompt, ConfirmAlways, ConfirmNever}
	if !contains(confirmValues, c.DeviceBridge.Confirm) {
		errs = append(errs, fmt.Errorf("device_bridge.confirm must be one of: %s", strings.Join(confirmValues, ", ")))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// KeepScratchEnabled reports whether scratch directories are kept.
func (c *Config) KeepScratchEnabled() bool {
	return c.Overlay.KeepScratch != nil && *c.Overlay.KeepScratch
}

// SourceRelative resolves path against sourceDir unless it is empty or
// absolute.
func SourceRelative(sourceDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(sourceDir, path)
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
