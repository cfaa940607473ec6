// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/buildjail/lib/overlaydef"
)

// Composer layers overlay source trees over a base checkout and produces
// the bind mounts that present the result at a single destination inside
// the sandbox.
//
// Overlays are processed in priority order, base last. Within each tree,
// a directory that directly contains the project marker is a project: it
// is mounted whole and never split. A directory that cannot be mounted
// whole is split: its files are mounted one by one and its
// subdirectories are visited in turn. A directory is split when a
// project lies beneath it, when an earlier overlay already placed
// something beneath it, or when a later overlay has a directory at the
// same path, so that both trees' content stays visible. Every other
// directory is mounted whole. Content an earlier overlay provides at
// exactly the same path shadows the later copy.
type Composer struct {
	// Logger receives composition progress. Defaults to slog.Default().
	Logger *slog.Logger

	// MaxMounts bounds the number of mounts. Zero selects DefaultMaxMounts.
	MaxMounts int

	// ProjectMarker is the entry whose presence makes a directory a
	// project. Either a directory or a file (git worktrees and
	// submodules use a .git file) qualifies.
	ProjectMarker string

	// RepoMetadataDir is the checkout metadata directory at the top of
	// the base tree. It is always mounted from the base.
	RepoMetadataDir string

	// OutPrefix selects top-level base directories holding build output.
	// They are always mounted from the base, read-write.
	OutPrefix string

	// OverlaysDirName is the top-level base directory holding overlay
	// trees. It is never itself overlaid.
	OverlaysDirName string

	// ScratchRoot is the parent directory for per-composition scratch
	// directories. Empty selects os.TempDir().
	ScratchRoot string

	// KeepScratch leaves the scratch directory in place when the
	// Composition is closed, for inspecting a failed build.
	KeepScratch bool
}

// NewComposer returns a Composer with the default project marker (.git),
// checkout metadata directory (.repo), out prefix (out) and overlays
// directory name (overlays).
func NewComposer(logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		Logger:          logger,
		ProjectMarker:   ".git",
		RepoMetadataDir: ".repo",
		OutPrefix:       "out",
		OverlaysDirName: "overlays",
	}
}

// ComposeOptions describes one composition.
type ComposeOptions struct {
	// BaseDir is the base checkout. It is composed last, below every
	// overlay.
	BaseDir string

	// OverlayDirs are overlay trees in priority order: the first one
	// wins for any path several of them define.
	OverlayDirs []string

	// DestinationDir is the absolute path inside the sandbox where the
	// composed tree appears.
	DestinationDir string

	// Whiteout lists source directories that are never overlaid.
	Whiteout []string

	// Allowlist controls which sources are mounted read-write. Nil
	// means all of them.
	Allowlist *Allowlist

	// Views are path remaps applied after all overlays. Sources are
	// relative to BaseDir, destinations to DestinationDir.
	Views []overlaydef.PathMapping
}

// Composition is the result of a successful Compose. It owns a scratch
// directory that backs the mount hiding DestinationDir and holds
// directory symlinks that cannot be expressed as bind mounts, so it must
// outlive the sandbox process. Call Close after the sandbox exits.
type Composition struct {
	// Mounts is the composed mount set.
	Mounts *BindMountSet

	// ScratchDir is the scratch directory mounted at DestinationDir.
	ScratchDir string

	// BaseDir is the absolute base checkout.
	BaseDir string

	// OverlayDirs are the absolute overlay trees in the order they were
	// composed, base last.
	OverlayDirs []string

	// DestinationDir is where the composed tree appears in the sandbox.
	DestinationDir string

	keep   bool
	logger *slog.Logger
}

// ComposeTarget composes the overlays and views that definition declares
// for target. Overlay names resolve to directories under the base's
// overlays directory. A nil definition composes the base tree alone.
// Unknown targets, unknown views and missing overlay directories are
// reported as *ConfigError before anything is mounted.
func (c *Composer) ComposeTarget(definition *overlaydef.Config, target string, options ComposeOptions) (*Composition, error) {
	if definition == nil {
		return c.Compose(options)
	}

	declared, err := definition.Target(target)
	if err != nil {
		return nil, &ConfigError{Reason: "resolving build target", Err: err}
	}

	for _, name := range declared.Overlays {
		directory := filepath.Join(options.BaseDir, c.OverlaysDirName, name)
		info, err := os.Stat(directory)
		if err != nil || !info.IsDir() {
			return nil, configErrorf("overlay %q of target %q: %s is not a directory", name, target, directory)
		}
		options.OverlayDirs = append(options.OverlayDirs, directory)
	}

	views, err := definition.ViewPaths(target)
	if err != nil {
		return nil, &ConfigError{Reason: "resolving filesystem views", Err: err}
	}
	options.Views = append(options.Views, views...)

	c.logger().Info("resolved build target",
		"target", target,
		"overlays", declared.Overlays,
		"views", declared.Views,
	)
	return c.Compose(options)
}

// Compose builds the mount set for options. Any conflict, capacity or
// configuration error aborts composition and removes the scratch
// directory; no partial result is returned.
func (c *Composer) Compose(options ComposeOptions) (composition *Composition, err error) {
	if options.BaseDir == "" {
		return nil, configErrorf("base directory is required")
	}
	if !filepath.IsAbs(options.DestinationDir) {
		return nil, configErrorf("destination directory %q must be absolute", options.DestinationDir)
	}

	baseDir, err := absoluteDirectory(options.BaseDir)
	if err != nil {
		return nil, &ConfigError{Reason: "base directory", Err: err}
	}
	overlays := make([]string, 0, len(options.OverlayDirs)+1)
	for _, overlay := range options.OverlayDirs {
		directory, err := absoluteDirectory(overlay)
		if err != nil {
			return nil, &ConfigError{Reason: "overlay directory", Err: err}
		}
		overlays = append(overlays, directory)
	}
	overlays = append(overlays, baseDir)

	destination := filepath.Clean(options.DestinationDir)

	// Views are checked before anything is allocated or mounted.
	views := make([]resolvedView, 0, len(options.Views))
	for _, mapping := range options.Views {
		source := filepath.Join(baseDir, mapping.Source)
		info, err := os.Stat(source)
		if err != nil || !(info.IsDir() || info.Mode().IsRegular()) {
			return nil, configErrorf("view source %s must be a file or directory", source)
		}
		views = append(views, resolvedView{
			source:      source,
			destination: filepath.Join(destination, mapping.Destination),
		})
	}

	if c.ScratchRoot != "" {
		if err := os.MkdirAll(c.ScratchRoot, 0o755); err != nil {
			return nil, fmt.Errorf("creating scratch root: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(c.ScratchRoot, "buildjail-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer func() {
		if err != nil {
			if removeErr := os.RemoveAll(scratch); removeErr != nil {
				c.logger().Warn("failed to remove scratch directory", "path", scratch, "error", removeErr)
			}
		}
	}()

	state := &composeState{
		composer:    c,
		logger:      c.logger(),
		mounts:      NewBindMountSet(c.MaxMounts),
		scratch:     scratch,
		destination: destination,
		allowlist:   options.Allowlist,
		whiteout:    make(map[string]bool),
		reserved:    make(map[string]string),
	}

	// Hide whatever the destination held before; everything visible
	// inside it from here on comes from this composition.
	if err := state.mounts.Insert(destination, scratch, false); err != nil {
		return nil, err
	}

	if err := state.mountBuildArtifacts(baseDir); err != nil {
		return nil, err
	}

	for _, path := range options.Whiteout {
		absolute, err := filepath.Abs(path)
		if err != nil {
			return nil, &ConfigError{Reason: "whiteout path", Err: err}
		}
		state.whiteout[absolute] = true
	}
	state.whiteout[filepath.Join(baseDir, c.OverlaysDirName)] = true

	for i, overlay := range overlays {
		if err := state.addOverlay(overlay, overlays[i+1:]); err != nil {
			return nil, err
		}
		state.processed = append(state.processed, overlay)
	}

	for _, view := range views {
		readOnly := !options.Allowlist.ReadWrite(view.source, baseDir)
		if err := state.mounts.Insert(view.destination, view.source, readOnly); err != nil {
			return nil, fmt.Errorf("applying filesystem view: %w", err)
		}
	}

	c.logger().Info("composed sandbox mounts",
		"base", baseDir,
		"overlays", len(overlays)-1,
		"views", len(views),
		"mounts", state.mounts.Len(),
		"materialized_links", len(state.materialized),
	)

	return &Composition{
		Mounts:         state.mounts,
		ScratchDir:     scratch,
		BaseDir:        baseDir,
		OverlayDirs:    overlays,
		DestinationDir: destination,
		keep:           c.KeepScratch,
		logger:         c.logger(),
	}, nil
}

func (c *Composer) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Close removes the scratch directory, unless the Composer was configured
// to keep it.
func (c *Composition) Close() error {
	if c.ScratchDir == "" {
		return nil
	}
	if c.keep {
		c.logger.Info("keeping scratch directory", "path", c.ScratchDir)
		return nil
	}
	if err := os.RemoveAll(c.ScratchDir); err != nil {
		return fmt.Errorf("removing scratch directory: %w", err)
	}
	c.ScratchDir = ""
	return nil
}

// Fingerprint digests the composed mapping with the per-run scratch
// directory replaced by a fixed placeholder, so that composing the same
// inputs twice yields the same fingerprint.
func (c *Composition) Fingerprint() (Fingerprint, error) {
	scratch := c.ScratchDir
	return c.Mounts.Fingerprint(func(source string) string {
		if scratch == "" {
			return source
		}
		if source == scratch {
			return "$SCRATCH"
		}
		if relative, ok := descendant(source, scratch); ok {
			return filepath.Join("$SCRATCH", relative)
		}
		return source
	})
}

type resolvedView struct {
	source      string
	destination string
}

// composeState is the shared accumulator for one Compose call.
type composeState struct {
	composer    *Composer
	logger      *slog.Logger
	mounts      *BindMountSet
	scratch     string
	destination string
	allowlist   *Allowlist

	// whiteout holds source directories that are never walked.
	whiteout map[string]bool

	// reserved maps destinations mounted from base build artifacts to
	// their sources. No overlay may mount at or below them.
	reserved map[string]string

	// processed lists overlays already composed; conflicts with their
	// content mean the current overlay is shadowed, not broken.
	processed []string

	// projects lists destinations mounted as whole projects.
	projects []string

	// materialized lists scratch-relative paths of copied symlinks.
	materialized []string
}

// mountBuildArtifacts mounts the base's out directories and checkout
// metadata read-write and excludes them from overlay walks.
func (s *composeState) mountBuildArtifacts(baseDir string) error {
	outDir := filepath.Join(baseDir, s.composer.OutPrefix)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating out directory: %w", err)
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return fmt.Errorf("reading base directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if name != s.composer.RepoMetadataDir && !strings.HasPrefix(name, s.composer.OutPrefix) {
			continue
		}
		source := filepath.Join(baseDir, name)
		// Stat, not the entry type: out is commonly a symlink to a
		// larger disk.
		info, err := os.Stat(source)
		if err != nil || !info.IsDir() {
			continue
		}

		destination := filepath.Join(s.destination, name)
		if err := s.mounts.Insert(destination, source, false); err != nil {
			return err
		}
		s.whiteout[source] = true
		s.reserved[destination] = source
	}
	return nil
}

// addOverlay composes one overlay tree in two passes: projects first,
// then everything else. later lists the trees still to be composed after
// this one.
func (s *composeState) addOverlay(root string, later []string) error {
	s.logger.Debug("composing overlay", "root", root)

	partial := make(map[string]bool)
	claimed := make(map[string]bool)
	projects := make(map[string]bool)

	// Anything an earlier overlay already placed must not be hidden by
	// a whole-directory mount from this one. Build artifacts are mounted
	// from the base itself and hide nothing.
	for _, entry := range s.mounts.Entries() {
		if _, ok := s.reserved[entry.Destination]; ok {
			continue
		}
		if relative, ok := descendant(entry.Destination, s.destination); ok {
			markAncestors(claimed, root, filepath.Join(root, relative))
		}
	}
	for _, relative := range s.materialized {
		markAncestors(claimed, root, filepath.Join(root, relative))
	}
	for directory := range claimed {
		partial[directory] = true
	}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if s.whiteout[path] {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if !s.isProject(path) {
			if s.directoryInLater(root, path, later) {
				partial[path] = true
				markAncestors(partial, root, path)
			}
			return nil
		}
		if claimed[path] {
			return s.projectConflict(root, path)
		}
		projects[path] = true
		markAncestors(partial, root, path)
		if err := s.mountPath(root, path); err != nil {
			return err
		}
		return filepath.SkipDir
	})
	if err != nil {
		return fmt.Errorf("composing projects of %s: %w", root, err)
	}

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if s.whiteout[path] || projects[path] {
			return filepath.SkipDir
		}
		if !partial[path] {
			if err := s.mountPath(root, path); err != nil {
				return err
			}
			return filepath.SkipDir
		}
		return s.mountPartialDirectory(root, path)
	})
	if err != nil {
		return fmt.Errorf("composing %s: %w", root, err)
	}
	return nil
}

// directoryInLater reports whether a tree composed after root has a real
// directory at path's position.
func (s *composeState) directoryInLater(root, path string, later []string) bool {
	relative, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, tree := range later {
		info, err := os.Lstat(filepath.Join(tree, relative))
		if err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// projectConflict reports a project whose whole-directory mount would
// hide content an earlier overlay placed beneath it.
func (s *composeState) projectConflict(root, project string) error {
	relative, err := filepath.Rel(root, project)
	if err != nil {
		return err
	}
	destination := filepath.Join(s.destination, relative)
	for _, entry := range s.mounts.Entries() {
		if _, ok := s.reserved[entry.Destination]; ok {
			continue
		}
		if _, ok := descendant(entry.Destination, destination); ok {
			return &ConflictError{Source: project, Destination: destination, Existing: entry.Source}
		}
	}
	for _, materialized := range s.materialized {
		if _, ok := descendant(materialized, relative); ok {
			return &ConflictError{Source: project, Destination: destination, Existing: filepath.Join(s.scratch, materialized)}
		}
	}
	return &ConflictError{Source: project, Destination: destination, Existing: destination}
}

// mountPartialDirectory handles the immediate non-directory entries of a
// directory that cannot be mounted whole. Subdirectories are visited by
// the walk itself.
func (s *composeState) mountPartialDirectory(root, directory string) error {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(directory, entry.Name())
		if entry.IsDir() || s.whiteout[path] {
			continue
		}

		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			// A bind mount follows its source, so a symlink to a
			// directory would arrive as a real directory. Build tooling
			// ignores directory symlinks, so they are reproduced as
			// links. Dangling links cannot be mounted at all.
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				if err := s.materialize(root, path); err != nil {
					return err
				}
				continue
			}
			if err := s.mountPath(root, path); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if err := s.mountPath(root, path); err != nil {
				return err
			}
		default:
			s.logger.Debug("skipping special file", "path", path)
		}
	}
	return nil
}

// mountPath mounts source, which lives under root, at the equivalent
// position under the destination. Paths already provided by a
// higher-priority overlay are skipped.
func (s *composeState) mountPath(root, source string) error {
	relative, err := filepath.Rel(root, source)
	if err != nil {
		return err
	}
	destination := filepath.Join(s.destination, relative)

	if reservedSource, ok := s.reservedAt(destination); ok {
		return &ConflictError{Source: source, Destination: destination, Existing: reservedSource}
	}
	if project, ok := s.insideProject(destination); ok {
		s.logger.Debug("path shadowed by project", "source", source, "project", project)
		return nil
	}
	if link, ok := s.insideMaterialized(relative); ok {
		s.logger.Debug("path shadowed by symlink", "source", source, "link", link)
		return nil
	}

	readOnly := !s.allowlist.ReadWrite(source, root)
	err = s.mounts.Insert(destination, source, readOnly)

	var conflict *ConflictError
	if errors.As(err, &conflict) && s.shadowed(conflict.Existing, relative) {
		s.logger.Debug("path shadowed by earlier overlay",
			"source", source,
			"destination", destination,
			"provided_by", conflict.Existing,
		)
		return nil
	}
	if err != nil {
		return err
	}

	if s.isProject(source) {
		s.projects = append(s.projects, destination)
	}
	return nil
}

// materialize copies the symlink at link (under root) into the scratch
// directory without following it.
func (s *composeState) materialize(root, link string) error {
	relative, err := filepath.Rel(root, link)
	if err != nil {
		return err
	}
	destination := filepath.Join(s.destination, relative)
	if _, ok := s.insideMaterialized(relative); ok {
		s.logger.Debug("symlink shadowed by earlier symlink", "link", link)
		return nil
	}
	if existing, conflict := s.mounts.Conflict(destination); conflict {
		if s.shadowed(existing, relative) {
			s.logger.Debug("symlink shadowed by earlier overlay", "link", link, "provided_by", existing)
			return nil
		}
		return &ConflictError{Source: link, Destination: destination, Existing: existing}
	}

	target, err := os.Readlink(link)
	if err != nil {
		return fmt.Errorf("reading symlink: %w", err)
	}
	copyPath := filepath.Join(s.scratch, relative)
	if err := os.MkdirAll(filepath.Dir(copyPath), 0o755); err != nil {
		return fmt.Errorf("creating parent for symlink copy: %w", err)
	}
	if err := os.Symlink(target, copyPath); err != nil {
		return fmt.Errorf("copying symlink %s: %w", link, err)
	}
	s.materialized = append(s.materialized, relative)
	return nil
}

func (s *composeState) isProject(directory string) bool {
	_, err := os.Lstat(filepath.Join(directory, s.composer.ProjectMarker))
	return err == nil
}

// shadowed reports whether existing content is what an earlier overlay,
// or a symlink copied from one, provides at exactly relative.
func (s *composeState) shadowed(existing, relative string) bool {
	for _, overlay := range s.processed {
		if existing == filepath.Join(overlay, relative) {
			return true
		}
	}
	if existing == filepath.Join(s.scratch, relative) {
		for _, materialized := range s.materialized {
			if materialized == relative {
				return true
			}
		}
	}
	return false
}

// insideMaterialized reports whether relative lies beneath a symlink an
// earlier overlay provided.
func (s *composeState) insideMaterialized(relative string) (string, bool) {
	for _, materialized := range s.materialized {
		if _, ok := descendant(relative, materialized); ok {
			return materialized, true
		}
	}
	return "", false
}

func (s *composeState) reservedAt(destination string) (string, bool) {
	if source, ok := s.reserved[destination]; ok {
		return source, true
	}
	for reservedDestination, source := range s.reserved {
		if _, ok := descendant(destination, reservedDestination); ok {
			return source, true
		}
	}
	return "", false
}

func (s *composeState) insideProject(destination string) (string, bool) {
	for _, project := range s.projects {
		if _, ok := descendant(destination, project); ok {
			return project, true
		}
	}
	return "", false
}

// markAncestors records every directory strictly above path, up to and
// including root, as partial.
func markAncestors(partial map[string]bool, root, path string) {
	if path == root {
		return
	}
	if _, ok := descendant(path, root); !ok {
		return
	}
	for directory := filepath.Dir(path); ; directory = filepath.Dir(directory) {
		partial[directory] = true
		if directory == root || directory == filepath.Dir(directory) {
			return
		}
	}
}

func absoluteDirectory(path string) (string, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", absolute)
	}
	return absolute, nil
}
