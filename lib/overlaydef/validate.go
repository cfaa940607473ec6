// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlaydef

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Validate checks a Config for structural issues. Returns a list of
// human-readable issue descriptions, sorted by target then view name.
// An empty list means the definition is valid.
//
// Checks:
//   - Overlay names are single path components (they name a directory
//     under the overlays root).
//   - Every view a target references is defined.
//   - View paths are non-empty, relative, and do not escape their root
//     via "..".
func Validate(config *Config) []string {
	var issues []string

	for _, name := range config.TargetNames() {
		target := config.Targets[name]
		for index, overlay := range target.Overlays {
			if overlay == "" || strings.ContainsRune(overlay, '/') || overlay == "." || overlay == ".." {
				issues = append(issues, fmt.Sprintf(
					"targets[%q].overlays[%d]: %q is not a valid overlay name", name, index, overlay))
			}
		}
		for index, view := range target.Views {
			if _, ok := config.Views[view]; !ok {
				issues = append(issues, fmt.Sprintf(
					"targets[%q].views[%d]: unknown view %q", name, index, view))
			}
		}
	}

	for _, name := range sortedViewNames(config) {
		for index, mapping := range config.Views[name].Paths {
			prefix := fmt.Sprintf("views[%q][%d]", name, index)
			if issue := checkRelative(mapping.Source); issue != "" {
				issues = append(issues, fmt.Sprintf("%s: source %s", prefix, issue))
			}
			if issue := checkRelative(mapping.Destination); issue != "" {
				issues = append(issues, fmt.Sprintf("%s: destination %s", prefix, issue))
			}
		}
	}

	return issues
}

func checkRelative(path string) string {
	if path == "" {
		return "is required"
	}
	if filepath.IsAbs(path) {
		return fmt.Sprintf("%q must be relative", path)
	}
	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Sprintf("%q escapes its root", path)
	}
	return ""
}

func sortedViewNames(config *Config) []string {
	names := make([]string, 0, len(config.Views))
	for name := range config.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
