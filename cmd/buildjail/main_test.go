// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/buildjail/lib/testutil"
	"github.com/bureau-foundation/buildjail/sandbox"
)

// testWorkspace creates a source checkout with one overlay target and a
// tool configuration whose scratch root is a temporary directory.
func testWorkspace(t *testing.T) (sourceDir, configPath, scratchRoot string) {
	t.Helper()
	t.Setenv("BUILDJAIL_ENVIRONMENT", "")
	t.Setenv("BUILDJAIL_CONFIG", "")

	sourceDir = testutil.Tree(t, t.TempDir(),
		"Makefile",
		"build/make/core/main.mk",
		"frameworks/base/.git/",
		"frameworks/base/Android.bp",
		"overlays/vendor_a/vendor/a/.git/",
		"overlays/vendor_a/vendor/a/Android.bp",
	)
	testutil.WriteFile(t, filepath.Join(sourceDir, "overlays", "overlays.yaml"), `
targets:
  product_a:
    overlays: [vendor_a]
  plain: {}
`)

	scratchRoot = t.TempDir()
	configPath = filepath.Join(t.TempDir(), "buildjail.yaml")
	testutil.WriteFile(t, configPath, fmt.Sprintf("overlay:\n  scratch_root: %s\n", scratchRoot))
	return sourceDir, configPath, scratchRoot
}

func TestDispatchVersion(t *testing.T) {
	var stdout bytes.Buffer
	if err := dispatch(context.Background(), "version", nil, &stdout); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "buildjail ") {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestDispatchHelp(t *testing.T) {
	var stdout bytes.Buffer
	if err := dispatch(context.Background(), "help", nil, &stdout); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(stdout.String(), "COMMANDS") {
		t.Errorf("help output lacks command list: %q", stdout.String())
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	err := dispatch(context.Background(), "frobnicate", nil, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("expected unknown command error, got %v", err)
	}
}

func TestSubcommandHelp(t *testing.T) {
	for _, command := range []string{"run", "compose", "targets", "inspect", "validate"} {
		t.Run(command, func(t *testing.T) {
			if err := dispatch(context.Background(), command, []string{"--help"}, &bytes.Buffer{}); err != nil {
				t.Errorf("%s --help: %v", command, err)
			}
		})
	}
}

func TestRemediation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "conflict",
			err:  fmt.Errorf("composing: %w", &sandbox.ConflictError{Source: "/a", Destination: "/src/x", Existing: "/b"}),
			want: "mark the directory as a project",
		},
		{
			name: "capacity",
			err:  &sandbox.CapacityError{Limit: 4, Destination: "/src/x"},
			want: "overlay.max_mounts",
		},
		{
			name: "configuration",
			err:  &sandbox.ConfigError{Reason: "unknown target"},
			want: "buildjail targets",
		},
		{
			name: "host precondition",
			err:  &sandbox.HostPreconditionError{Reason: "declined"},
			want: "adb kill-server",
		},
		{
			name: "launcher exit",
			err:  &sandbox.LauncherError{Command: []string{"nsjail"}, Code: 2},
			want: "",
		},
		{
			name: "other",
			err:  errors.New("disk on fire"),
			want: "",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			hint := remediation(test.err)
			if test.want == "" {
				if hint != "" {
					t.Errorf("remediation = %q, want none", hint)
				}
				return
			}
			if !strings.Contains(hint, test.want) {
				t.Errorf("remediation = %q, want it to mention %q", hint, test.want)
			}
		})
	}
}

func TestComposeCommand(t *testing.T) {
	sourceDir, configPath, scratchRoot := testWorkspace(t)

	var stdout bytes.Buffer
	err := composeCmd([]string{"--config", configPath, "--source-dir", sourceDir, "--target", "product_a"}, &stdout)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{
		"rw /src/frameworks/base <- " + filepath.Join(sourceDir, "frameworks", "base"),
		"rw /src/vendor/a <- " + filepath.Join(sourceDir, "overlays", "vendor_a", "vendor", "a"),
		"fingerprint ",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("compose output lacks %q:\n%s", want, output)
		}
	}

	entries, err := os.ReadDir(scratchRoot)
	if err != nil {
		t.Fatalf("reading scratch root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch root holds %d entries after compose, want 0", len(entries))
	}
}

func TestComposeCommandUnknownTarget(t *testing.T) {
	sourceDir, configPath, _ := testWorkspace(t)

	err := composeCmd([]string{"--config", configPath, "--source-dir", sourceDir, "--target", "missing"}, &bytes.Buffer{})
	var configErr *sandbox.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected *sandbox.ConfigError, got %v", err)
	}
}

func TestTargetsCommand(t *testing.T) {
	sourceDir, configPath, _ := testWorkspace(t)

	var stdout bytes.Buffer
	if err := targetsCmd([]string{"--config", configPath, "--source-dir", sourceDir}, &stdout); err != nil {
		t.Fatalf("targets: %v", err)
	}
	want := "plain\nproduct_a\n    overlays: vendor_a\n"
	if stdout.String() != want {
		t.Errorf("targets output = %q, want %q", stdout.String(), want)
	}
}

func TestTargetsCommandWithoutDefinition(t *testing.T) {
	_, configPath, _ := testWorkspace(t)

	err := targetsCmd([]string{"--config", configPath, "--source-dir", t.TempDir()}, &bytes.Buffer{})
	var configErr *sandbox.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected *sandbox.ConfigError, got %v", err)
	}
}

func TestRunDryRun(t *testing.T) {
	sourceDir, configPath, _ := testWorkspace(t)

	var stdout bytes.Buffer
	err := runCmd(context.Background(), []string{
		"--config", configPath,
		"--source-dir", sourceDir,
		"--target", "product_a",
		"--launcher", "buildjail-test-launcher-absent",
		"--build-id", "1234",
		"--dry-run",
		"--", "make", "droid",
	}, &stdout)
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}

	line := strings.TrimSpace(stdout.String())
	if !strings.HasPrefix(line, "buildjail-test-launcher-absent ") {
		t.Errorf("command line does not start with the launcher: %q", line)
	}
	for _, want := range []string{
		"--env BUILD_NUMBER=1234",
		"--bindmount " + filepath.Join(sourceDir, "overlays", "vendor_a", "vendor", "a") + ":/src/vendor/a",
		"-- make droid",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("command line lacks %q:\n%s", want, line)
		}
	}
}

func TestRunMissingLauncher(t *testing.T) {
	sourceDir, configPath, _ := testWorkspace(t)

	err := runCmd(context.Background(), []string{
		"--config", configPath,
		"--source-dir", sourceDir,
		"--launcher", "buildjail-test-launcher-absent",
		"--", "true",
	}, &bytes.Buffer{})
	var configErr *sandbox.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected *sandbox.ConfigError, got %v", err)
	}
}

func TestRunKeepScratchAndInspect(t *testing.T) {
	sourceDir, configPath, scratchRoot := testWorkspace(t)

	err := runCmd(context.Background(), []string{
		"--config", configPath,
		"--source-dir", sourceDir,
		"--target", "product_a",
		"--launcher", "buildjail-test-launcher-absent",
		"--keep-scratch",
		"--dry-run",
		"--quiet",
		"--", "make",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, err := os.ReadDir(scratchRoot)
	if err != nil {
		t.Fatalf("reading scratch root: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("scratch root holds %d entries, want the kept scratch directory", len(entries))
	}
	scratchDir := filepath.Join(scratchRoot, entries[0].Name())

	var stdout bytes.Buffer
	if err := inspectCmd([]string{scratchDir}, &stdout); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	output := stdout.String()
	for _, want := range []string{
		"Target:       product_a",
		"Base:         " + sourceDir,
		"Scratch:      " + scratchDir,
		"/src/vendor/a <- ",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("inspect output lacks %q:\n%s", want, output)
		}
	}

	var diagnostic bytes.Buffer
	if err := inspectCmd([]string{"--diag", scratchDir}, &diagnostic); err != nil {
		t.Fatalf("inspect --diag: %v", err)
	}
	if !strings.Contains(diagnostic.String(), "product_a") {
		t.Errorf("diagnostic output lacks target:\n%s", diagnostic.String())
	}
}

func TestInspectRequiresPath(t *testing.T) {
	if err := inspectCmd(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected usage error without a path")
	}
}

func TestValidateCommandReportsFailures(t *testing.T) {
	sourceDir, configPath, _ := testWorkspace(t)

	var stdout bytes.Buffer
	err := validateCmd([]string{
		"--config", configPath,
		"--source-dir", sourceDir,
		"--target", "product_a",
		"--launcher", "buildjail-test-launcher-absent",
	}, &stdout)
	if err == nil {
		t.Fatal("expected validation failure for an absent launcher")
	}
	output := stdout.String()
	if !strings.Contains(output, "✗ launcher") {
		t.Errorf("output lacks launcher failure:\n%s", output)
	}
	if !strings.Contains(output, "✓ target: product_a") {
		t.Errorf("output lacks target check:\n%s", output)
	}
}
