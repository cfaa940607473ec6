// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/buildjail/lib/overlaydef"
)

// ValidationResult holds the result of a validation check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // True if this is a warning, not an error.
}

// Validator performs pre-flight validation for sandbox execution.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		results: make([]ValidationResult, 0),
	}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any validation failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message})
}

func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message, Warning: true})
}

func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: false, Message: message})
	v.errors++
}

// ValidateOptions names everything a build run depends on.
type ValidateOptions struct {
	Launcher       string
	LauncherConfig string
	SourceDir      string
	OverlayConfig  string
	Target         string
	Allowlist      string
	Chroot         string
}

// ValidateAll runs all validation checks for a build run.
func (v *Validator) ValidateAll(opts ValidateOptions) {
	v.ValidateLauncher(opts.Launcher)
	v.ValidateLauncherConfig(opts.LauncherConfig)
	v.ValidateUserNamespaces()
	v.ValidateSourceDirectory(opts.SourceDir)
	v.ValidateOverlayDefinition(opts.OverlayConfig, opts.Target, opts.SourceDir)
	v.ValidateAllowlist(opts.Allowlist)
	v.ValidateChroot(opts.Chroot)
}

// ValidateLauncher checks that the launcher is installed and executable.
func (v *Validator) ValidateLauncher(launcher string) {
	path, err := LauncherPath(launcher)
	if err != nil {
		v.fail("launcher", err.Error())
		return
	}
	v.pass("launcher", fmt.Sprintf("available: %s", path))
}

// ValidateLauncherConfig checks that the launcher's configuration file,
// if one is named, is a readable file.
func (v *Validator) ValidateLauncherConfig(path string) {
	if path == "" {
		v.warn("launcher_config", "no launcher config file (launcher defaults apply)")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		v.fail("launcher_config", fmt.Sprintf("cannot access %s: %v", path, err))
		return
	}
	if info.IsDir() {
		v.fail("launcher_config", fmt.Sprintf("%s is a directory", path))
		return
	}
	v.pass("launcher_config", fmt.Sprintf("exists: %s", path))
}

// ValidateUserNamespaces checks that user namespaces are enabled.
func (v *Validator) ValidateUserNamespaces() {
	if err := userNamespacesAllowed(); err != nil {
		v.fail("userns", fmt.Sprintf("unprivileged user namespaces unavailable: %v", err))
		return
	}
	v.pass("userns", "user namespaces enabled")
}

// ValidateSourceDirectory checks that the source checkout exists.
func (v *Validator) ValidateSourceDirectory(sourceDir string) {
	if sourceDir == "" {
		v.fail("source", "source directory path is required")
		return
	}

	absPath, err := filepath.Abs(sourceDir)
	if err != nil {
		v.fail("source", fmt.Sprintf("cannot resolve path: %v", err))
		return
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			v.fail("source", fmt.Sprintf("does not exist: %s", absPath))
		} else {
			v.fail("source", fmt.Sprintf("cannot access: %v", err))
		}
		return
	}
	if !info.IsDir() {
		v.fail("source", fmt.Sprintf("not a directory: %s", absPath))
		return
	}

	v.pass("source", fmt.Sprintf("exists: %s", absPath))
}

// ValidateOverlayDefinition parses the overlay configuration and, when a
// target is named, checks that it resolves and that its overlay
// directories and view sources exist under sourceDir.
func (v *Validator) ValidateOverlayDefinition(path, target, sourceDir string) {
	if path == "" {
		v.warn("overlays", "no overlay config (base tree only)")
		return
	}
	definition, err := overlaydef.ReadFileIfExists(path)
	if err != nil {
		v.fail("overlays", err.Error())
		return
	}
	if definition == nil {
		v.warn("overlays", fmt.Sprintf("%s not found (base tree only)", path))
		return
	}
	v.pass("overlays", fmt.Sprintf("parsed %s: %d target(s)", path, len(definition.Targets)))

	if target == "" {
		return
	}
	resolved, err := definition.Target(target)
	if err != nil {
		v.fail("target", err.Error())
		return
	}

	missing := 0
	for _, name := range resolved.Overlays {
		directory := filepath.Join(sourceDir, "overlays", name)
		if info, err := os.Stat(directory); err != nil || !info.IsDir() {
			v.fail("target", fmt.Sprintf("overlay %q: %s is not a directory", name, directory))
			missing++
		}
	}
	views, err := definition.ViewPaths(target)
	if err != nil {
		v.fail("target", err.Error())
		return
	}
	for _, mapping := range views {
		source := filepath.Join(sourceDir, mapping.Source)
		if _, err := os.Stat(source); err != nil {
			v.fail("target", fmt.Sprintf("view source %s: %v", source, err))
			missing++
		}
	}
	if missing == 0 {
		v.pass("target", fmt.Sprintf("%s: %d overlay(s), %d view path(s)", target, len(resolved.Overlays), len(views)))
	}
}

// ValidateAllowlist checks that the read/write allow-list, if named, is
// readable.
func (v *Validator) ValidateAllowlist(path string) {
	if path == "" {
		v.pass("allowlist", "none (all sources read-write)")
		return
	}
	allowlist, err := ReadAllowlist(path)
	if err != nil {
		v.fail("allowlist", err.Error())
		return
	}
	if allowlist == nil {
		v.warn("allowlist", fmt.Sprintf("%s not found (all sources read-write)", path))
		return
	}
	v.pass("allowlist", fmt.Sprintf("%s: %d read-write path(s)", path, allowlist.Len()))
}

// ValidateChroot checks that the chroot exists and reports which system
// directories it provides.
func (v *Validator) ValidateChroot(chroot string) {
	if chroot == "" {
		chroot = "/"
	}
	info, err := os.Stat(chroot)
	if err != nil || !info.IsDir() {
		v.fail("chroot", fmt.Sprintf("not a directory: %s", chroot))
		return
	}
	present := 0
	for _, directory := range DefaultChrootDirs {
		if _, err := os.Stat(filepath.Join(chroot, directory)); err == nil {
			present++
		}
	}
	if present == 0 {
		v.warn("chroot", fmt.Sprintf("%s provides no system directories", chroot))
		return
	}
	v.pass("chroot", fmt.Sprintf("%s: %d of %d system directories", chroot, present, len(DefaultChrootDirs)))
}

// PrintResults writes validation results to a writer.
func (v *Validator) PrintResults(w io.Writer) {
	for _, r := range v.results {
		var prefix string
		if r.Passed {
			if r.Warning {
				prefix = "⚠"
			} else {
				prefix = "✓"
			}
		} else {
			prefix = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, r.Name, r.Message)
	}

	fmt.Fprintln(w)
	if v.HasErrors() {
		fmt.Fprintf(w, "Validation failed with %d error(s)\n", v.errors)
	} else {
		fmt.Fprintln(w, "Ready to run sandbox")
	}
}
