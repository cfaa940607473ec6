// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Capabilities describes what sandbox features are available on this system.
type Capabilities struct {
	// LauncherAvailable is true if the launcher is installed and
	// executable.
	LauncherAvailable bool

	// LauncherPath is the resolved launcher path if available.
	LauncherPath string

	// UserNamespacesEnabled is true unless the kernel forbids
	// unprivileged user namespaces.
	UserNamespacesEnabled bool
}

// DetectCapabilities checks what sandbox features are available for the
// named launcher.
func DetectCapabilities(launcher string) *Capabilities {
	caps := &Capabilities{}
	if path, err := LauncherPath(launcher); err == nil {
		caps.LauncherAvailable = true
		caps.LauncherPath = path
	}
	caps.UserNamespacesEnabled = userNamespacesAllowed() == nil
	return caps
}

// CanRunSandbox returns true if basic sandbox execution is possible.
func (c *Capabilities) CanRunSandbox() bool {
	return c.LauncherAvailable && c.UserNamespacesEnabled
}

// SkipReason returns a human-readable reason why sandboxing isn't available,
// or empty string if it is available.
func (c *Capabilities) SkipReason() string {
	if !c.LauncherAvailable {
		return "sandbox launcher not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	return ""
}

// launcherDirs are searched, in order, before PATH.
var launcherDirs = []string{
	"/usr/bin",
	"/usr/local/bin",
	"/bin",
}

// LauncherPath resolves launcher to an executable path. A name containing
// a slash is used as given; a bare name is looked up in the standard
// locations and then PATH.
func LauncherPath(launcher string) (string, error) {
	if launcher == "" {
		launcher = "nsjail"
	}

	var candidates []string
	if strings.ContainsRune(launcher, '/') {
		candidates = []string{launcher}
	} else {
		for _, directory := range launcherDirs {
			candidates = append(candidates, filepath.Join(directory, launcher))
		}
		if path, err := exec.LookPath(launcher); err == nil {
			candidates = append(candidates, path)
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := unix.Access(candidate, unix.X_OK); err != nil {
			continue
		}
		return filepath.Abs(candidate)
	}
	return "", fmt.Errorf("%s not found or not executable", launcher)
}

// userNamespacesAllowed checks the Debian-style sysctl that disables
// unprivileged user namespaces. Its absence means they are allowed.
func userNamespacesAllowed() error {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if strings.TrimSpace(string(data)) == "0" {
		return fmt.Errorf("kernel.unprivileged_userns_clone is 0")
	}
	return nil
}
