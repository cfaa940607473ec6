// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

// DefaultMaxMounts bounds a BindMountSet when no explicit limit is given.
const DefaultMaxMounts = 10000

// BindMount is a single bind of Source (an absolute host path) into the
// sandbox.
type BindMount struct {
	Source   string
	ReadOnly bool
}

// MountEntry is one element of a BindMountSet.
type MountEntry struct {
	Destination string
	BindMount
}

// BindMountSet is an insertion-ordered mapping from absolute sandbox
// destination to BindMount. Order is significant: it is replayed verbatim
// as the launcher's mount order, and each Insert is checked against every
// entry already present.
//
// Invariant: for any two entries A and B where A lives strictly under B,
// the path inside B's source that corresponds to A is empty or absent.
//
// A BindMountSet has a single writer. It is not safe for concurrent use.
type BindMountSet struct {
	entries []MountEntry
	index   map[string]int
	limit   int
}

// NewBindMountSet creates an empty set holding at most limit entries.
// A limit <= 0 selects DefaultMaxMounts.
func NewBindMountSet(limit int) *BindMountSet {
	if limit <= 0 {
		limit = DefaultMaxMounts
	}
	return &BindMountSet{
		index: make(map[string]int),
		limit: limit,
	}
}

// Insert adds a mount of source at destination. Both paths are cleaned.
// On conflict it returns a *ConflictError, and on exceeding the limit a
// *CapacityError; in both cases the set is unchanged.
//
// A destination that is already present with an empty directory as its
// source is superseded in place: the new mount takes the old entry's
// position.
func (s *BindMountSet) Insert(destination, source string, readOnly bool) error {
	destination = filepath.Clean(destination)
	source = filepath.Clean(source)

	if existing, conflict := s.Conflict(destination); conflict {
		return &ConflictError{Source: source, Destination: destination, Existing: existing}
	}

	mount := BindMount{Source: source, ReadOnly: readOnly}
	if position, ok := s.index[destination]; ok {
		s.entries[position].BindMount = mount
		return nil
	}

	if len(s.entries) >= s.limit {
		return &CapacityError{Limit: s.limit, Destination: destination}
	}

	s.index[destination] = len(s.entries)
	s.entries = append(s.entries, MountEntry{Destination: destination, BindMount: mount})
	return nil
}

// Conflict reports whether mounting at destination would hide content
// provided by an existing entry, returning the path of that content.
//
// For each existing destination D:
//   - destination == D conflicts with D's source, unless that source is
//     an empty directory.
//   - destination strictly under D conflicts iff the corresponding path
//     inside D's source exists and is non-empty. Empty directories carry
//     nothing worth protecting.
//
// The first conflicting entry in insertion order wins.
func (s *BindMountSet) Conflict(destination string) (string, bool) {
	destination = filepath.Clean(destination)

	for _, entry := range s.entries {
		if destination == entry.Destination {
			if hasContent(entry.Source) {
				return entry.Source, true
			}
			continue
		}

		relative, ok := descendant(destination, entry.Destination)
		if !ok {
			continue
		}
		inSource := filepath.Join(entry.Source, relative)
		if hasContent(inSource) {
			return inSource, true
		}
	}
	return "", false
}

// Len returns the number of entries.
func (s *BindMountSet) Len() int {
	return len(s.entries)
}

// Limit returns the maximum number of entries.
func (s *BindMountSet) Limit() int {
	return s.limit
}

// Get returns the mount at destination.
func (s *BindMountSet) Get(destination string) (BindMount, bool) {
	position, ok := s.index[filepath.Clean(destination)]
	if !ok {
		return BindMount{}, false
	}
	return s.entries[position].BindMount, true
}

// Entries returns a copy of the entries in insertion order.
func (s *BindMountSet) Entries() []MountEntry {
	return append([]MountEntry(nil), s.entries...)
}

// Destinations returns the destinations in insertion order.
func (s *BindMountSet) Destinations() []string {
	destinations := make([]string, len(s.entries))
	for i, entry := range s.entries {
		destinations[i] = entry.Destination
	}
	return destinations
}

// Fingerprint is a BLAKE3 digest of a mount set's destination → source
// mapping.
type Fingerprint [32]byte

// String returns the hex encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

type fingerprintEntry struct {
	Destination string `cbor:"d"`
	Source      string `cbor:"s"`
	ReadOnly    bool   `cbor:"r"`
}

// Fingerprint digests the destination → (source, read-only) mapping,
// ignoring insertion order. normalize, if non-nil, rewrites each source
// first; compositions use it to replace their per-run scratch directory
// with a stable placeholder so that two compositions of the same inputs
// fingerprint identically.
func (s *BindMountSet) Fingerprint(normalize func(string) string) (Fingerprint, error) {
	entries := make([]fingerprintEntry, len(s.entries))
	for i, entry := range s.entries {
		source := entry.Source
		if normalize != nil {
			source = normalize(source)
		}
		entries[i] = fingerprintEntry{Destination: entry.Destination, Source: source, ReadOnly: entry.ReadOnly}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Destination < entries[j].Destination })

	data, err := codec.Marshal(entries)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("encoding mount set: %w", err)
	}
	return Fingerprint(blake3.Sum256(data)), nil
}

// descendant reports whether path lies strictly under ancestor and, if
// so, returns the relative suffix.
func descendant(path, ancestor string) (string, bool) {
	prefix := ancestor
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
		return "", false
	}
	return path[len(prefix):], true
}

// hasContent reports whether path exists and is something other than an
// empty directory. Unreadable directories count as content.
func hasContent(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return true
	}

	directory, err := os.Open(path)
	if err != nil {
		return true
	}
	defer directory.Close()

	_, err = directory.Readdirnames(1)
	return !errors.Is(err, io.EOF)
}
