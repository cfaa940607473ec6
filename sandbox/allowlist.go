// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Allowlist is the set of source paths that may be mounted read-write.
//
// A nil *Allowlist means no allow-list was supplied and every mount is
// read-write, which suits everyday builds. A non-nil but empty Allowlist
// makes every mount read-only, which suits CI and release-signing builds
// that want source immutable except for explicitly approved paths.
type Allowlist struct {
	paths map[string]struct{}
}

// NewAllowlist returns an allow-list of the given paths. Paths may be
// absolute or relative to the overlay (or base) root they live in.
func NewAllowlist(paths ...string) *Allowlist {
	allowlist := &Allowlist{paths: make(map[string]struct{}, len(paths))}
	for _, path := range paths {
		allowlist.paths[filepath.Clean(path)] = struct{}{}
	}
	return allowlist
}

// ReadAllowlist reads a newline-delimited allow-list file. Blank lines
// and lines starting with '#' are ignored. A missing file returns a nil
// Allowlist and no error.
func ReadAllowlist(path string) (*Allowlist, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening read/write allow-list: %w", err)
	}
	defer file.Close()

	allowlist, err := ParseAllowlist(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return allowlist, nil
}

// ParseAllowlist parses allow-list content from r.
func ParseAllowlist(r io.Reader) (*Allowlist, error) {
	var paths []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading read/write allow-list: %w", err)
	}
	return NewAllowlist(paths...), nil
}

// ReadWrite reports whether source, which lives under root, may be
// mounted read-write.
func (a *Allowlist) ReadWrite(source, root string) bool {
	if a == nil {
		return true
	}
	source = filepath.Clean(source)
	if _, ok := a.paths[source]; ok {
		return true
	}
	relative, err := filepath.Rel(root, source)
	if err != nil || relative == ".." || strings.HasPrefix(relative, "../") {
		return false
	}
	_, ok := a.paths[relative]
	return ok
}

// Len returns the number of listed paths. Zero for a nil Allowlist.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.paths)
}
