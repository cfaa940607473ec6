// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlaydef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format selects the document syntax for [Parse].
type Format int

const (
	// FormatYAML is a YAML document.
	FormatYAML Format = iota
	// FormatJSONC is JSON with comments and trailing commas.
	FormatJSONC
)

// ErrUnknownTarget is returned (wrapped) when a target name is not
// defined in the configuration.
var ErrUnknownTarget = errors.New("unknown target")

// Config is a parsed, validated overlay definition.
type Config struct {
	// Targets maps target name to its definition.
	Targets map[string]*Target

	// Views maps view name to its definition.
	Views map[string]*View
}

// Target is one build target's overlay declaration.
type Target struct {
	Name string

	// Overlays lists overlay names in priority order: earlier entries
	// shadow later ones for any path both define.
	Overlays []string

	// Views lists the filesystem views applied after all overlays, in
	// order.
	Views []string
}

// View is a named, ordered set of path remaps.
type View struct {
	Name  string
	Paths []PathMapping
}

// PathMapping binds Source (relative to the base checkout) at
// Destination (relative to the sandbox source mount point).
type PathMapping struct {
	Source      string `yaml:"source" json:"source"`
	Destination string `yaml:"destination" json:"destination"`
}

// document is the on-disk shape shared by both formats.
type document struct {
	Targets map[string]targetDocument `yaml:"targets" json:"targets"`
	Views   map[string][]PathMapping  `yaml:"views" json:"views"`
}

type targetDocument struct {
	Overlays []string `yaml:"overlays" json:"overlays"`
	Views    []string `yaml:"views" json:"views"`
}

// Parse decodes data in the given format and validates the result.
// Unknown fields are rejected so that a misspelled key does not
// silently drop an overlay. An empty document is an empty Config.
func Parse(data []byte, format Format) (*Config, error) {
	var raw document

	switch format {
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing overlay definition: %w", err)
		}
	case FormatJSONC:
		stripped := bytes.TrimSpace(jsonc.ToJSON(data))
		if len(stripped) > 0 {
			decoder := json.NewDecoder(bytes.NewReader(stripped))
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&raw); err != nil {
				return nil, fmt.Errorf("parsing overlay definition: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported overlay definition format %d", format)
	}

	config := fromDocument(&raw)
	if issues := Validate(config); len(issues) > 0 {
		return nil, fmt.Errorf("invalid overlay definition:\n  %s", strings.Join(issues, "\n  "))
	}
	return config, nil
}

// ReadFile reads an overlay definition from disk. Files ending in .json
// or .jsonc are parsed as JSONC; everything else as YAML.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	format := FormatYAML
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		format = FormatJSONC
	}

	config, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// ReadFileIfExists is ReadFile, except that a missing file returns a nil
// Config and no error. A nil Config means "no overlays: mount the base
// tree alone".
func ReadFileIfExists(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return ReadFile(path)
}

func fromDocument(raw *document) *Config {
	config := &Config{
		Targets: make(map[string]*Target, len(raw.Targets)),
		Views:   make(map[string]*View, len(raw.Views)),
	}
	for name, target := range raw.Targets {
		config.Targets[name] = &Target{
			Name:     name,
			Overlays: append([]string(nil), target.Overlays...),
			Views:    append([]string(nil), target.Views...),
		}
	}
	for name, paths := range raw.Views {
		config.Views[name] = &View{
			Name:  name,
			Paths: append([]PathMapping(nil), paths...),
		}
	}
	return config
}

// Target returns the named target. The error wraps [ErrUnknownTarget]
// and lists the defined targets.
func (c *Config) Target(name string) (*Target, error) {
	if target, ok := c.Targets[name]; ok {
		return target, nil
	}
	return nil, fmt.Errorf("%w %q (defined: %s)", ErrUnknownTarget, name, strings.Join(c.TargetNames(), ", "))
}

// TargetNames returns all target names, sorted.
func (c *Config) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ViewPaths returns the concatenated path mappings of every view the
// named target references, in the target's view order.
func (c *Config) ViewPaths(targetName string) ([]PathMapping, error) {
	target, err := c.Target(targetName)
	if err != nil {
		return nil, err
	}

	var paths []PathMapping
	for _, viewName := range target.Views {
		view, ok := c.Views[viewName]
		if !ok {
			return nil, fmt.Errorf("target %q references unknown view %q", targetName, viewName)
		}
		paths = append(paths, view.Paths...)
	}
	return paths, nil
}
