// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/bureau-foundation/buildjail/lib/testutil"
)

// emptyChroot returns a chroot with none of the system directories, so
// that argv contents do not depend on the host.
func emptyChroot(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

func TestNsjailBuilderFullOrder(t *testing.T) {
	chroot := testutil.Tree(t, t.TempDir(), "bin/", "usr/", "etc/ssl/")

	mounts := NewBindMountSet(0)
	mounts.Insert("/src", "/scratch", false)
	mounts.Insert("/src/external", "/tree/external", true)

	args, err := NewNsjailBuilder().Build(LaunchOptions{
		Launcher:         "/usr/bin/nsjail",
		ConfigFile:       "/etc/nsjail.cfg",
		Command:          []string{"/bin/bash", "-c", "m droid"},
		SourceDir:        "/tree",
		Mounts:           mounts,
		OutDir:           "/tree/out",
		DistDir:          "/dist_host",
		MetaRootDir:      "/meta_host",
		MetaAndroidDir:   "android",
		BuildID:          "P1234",
		Env:              []string{"FOO=bar", "BAZ=qux"},
		MaxCPUs:          8,
		Quiet:            true,
		Chroot:           chroot,
		MountLocalDevice: true,
		ReadWriteBinds:   []string{"/ccache"},
		ReadOnlyBinds:    []string{"/keys:/etc/keys"},
		ExtraArgs:        []string{"--time_limit", "0"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{
		"/usr/bin/nsjail",
		"--config", "/etc/nsjail.cfg",
		"--env", "BUILD_NUMBER=P1234",
		"--env", "DIST_DIR=/dist",
		"--env", "FOO=bar",
		"--env", "BAZ=qux",
		"--max_cpus", "8",
		"--quiet",
		"--bindmount_ro", chroot + "/bin:/bin",
		"--bindmount_ro", chroot + "/etc/ssl:/etc/ssl",
		"--bindmount_ro", chroot + "/usr:/usr",
		"--bindmount", "/scratch:/src",
		"--bindmount_ro", "/tree/external:/src/external",
		"--bindmount", "/tree/out:/src/out",
		"--bindmount", "/dist_host:/dist",
		"--bindmount", "/meta_host:/meta",
		"--bindmount", "/tree:/meta/android",
		"--bindmount", "/tree/out:/meta/android/out",
		"--bindmount", "/dev/bus/usb:/dev/bus/usb",
		"--bindmount", "/sys/bus/usb/devices:/sys/bus/usb/devices",
		"--bindmount", "/sys/dev:/sys/dev",
		"--bindmount", "/sys/devices:/sys/devices",
		"--bindmount", "/ccache:/ccache",
		"--bindmount_ro", "/keys:/etc/keys",
		"--time_limit", "0",
		"--",
		"/bin/bash", "-c", "m droid",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("argv mismatch\n got: %s\nwant: %s", strings.Join(args, " "), strings.Join(want, " "))
	}
}

func TestNsjailBuilderMinimal(t *testing.T) {
	args, err := NewNsjailBuilder().Build(LaunchOptions{
		Command:   []string{"make"},
		SourceDir: "/tree",
		Chroot:    emptyChroot(t),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{"nsjail", "--bindmount", "/tree:/src", "--", "make"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("argv = %v, want %v", args, want)
	}
}

func TestNsjailBuilderOutDirReplacesComposedOut(t *testing.T) {
	mounts := NewBindMountSet(0)
	mounts.Insert("/src", "/tree", false)
	mounts.Insert("/src/out", "/tree/out", false)
	mounts.Insert("/src/out_second", "/tree/out_second", false)

	args, err := NewNsjailBuilder().Build(LaunchOptions{
		Command:   []string{"make"},
		SourceDir: "/tree",
		Mounts:    mounts,
		OutDir:    "/bigdisk/out",
		Chroot:    emptyChroot(t),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{
		"nsjail",
		"--bindmount", "/tree:/src",
		"--bindmount", "/tree/out_second:/src/out_second",
		"--bindmount", "/bigdisk/out:/src/out",
		"--", "make",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("argv = %v, want %v", args, want)
	}

	// Without an explicit out directory the composed one stays.
	args, err = NewNsjailBuilder().Build(LaunchOptions{
		Command:   []string{"make"},
		SourceDir: "/tree",
		Mounts:    mounts,
		Chroot:    emptyChroot(t),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(strings.Join(args, " "), "--bindmount /tree/out:/src/out") {
		t.Errorf("composed out mount missing: %v", args)
	}
}

func TestNsjailBuilderCustomMountPoints(t *testing.T) {
	builder := NewNsjailBuilder()
	builder.MountPoints = MountPoints{Source: "/work", Out: "/work/o", Dist: "/artifacts", Meta: "/info"}

	args, err := builder.Build(LaunchOptions{
		Command:     []string{"make"},
		SourceDir:   "/tree",
		OutDir:      "/tree/out",
		DistDir:     "/dist_host",
		MetaRootDir: "/meta_host",
		Chroot:      emptyChroot(t),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	joined := strings.Join(args, " ")

	for _, fragment := range []string{
		"--env DIST_DIR=/artifacts",
		"--bindmount /tree:/work",
		"--bindmount /tree/out:/work/o",
		"--bindmount /dist_host:/artifacts",
		"--bindmount /meta_host:/info",
		"--bindmount /tree:/info ",
		"--bindmount /tree/out:/info/out",
	} {
		if !strings.Contains(joined, fragment) {
			t.Errorf("argv missing %q: %s", fragment, joined)
		}
	}
}

func TestNsjailBuilderErrors(t *testing.T) {
	tests := []struct {
		name       string
		opts       LaunchOptions
		wantConfig bool
	}{
		{
			name: "missing command",
			opts: LaunchOptions{SourceDir: "/tree"},
		},
		{
			name: "missing source",
			opts: LaunchOptions{Command: []string{"make"}},
		},
		{
			name:       "absolute meta android dir",
			opts:       LaunchOptions{Command: []string{"make"}, SourceDir: "/tree", MetaAndroidDir: "/android"},
			wantConfig: true,
		},
		{
			name:       "malformed bind",
			opts:       LaunchOptions{Command: []string{"make"}, SourceDir: "/tree", ReadWriteBinds: []string{"/a:/b:/c"}},
			wantConfig: true,
		},
		{
			name:       "empty bind source",
			opts:       LaunchOptions{Command: []string{"make"}, SourceDir: "/tree", ReadOnlyBinds: []string{":/b"}},
			wantConfig: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.opts.Chroot = emptyChroot(t)
			_, err := NewNsjailBuilder().Build(test.opts)
			if err == nil {
				t.Fatal("Build succeeded, want error")
			}
			var configErr *ConfigError
			if got := errors.As(err, &configErr); got != test.wantConfig {
				t.Errorf("error %v: ConfigError = %v, want %v", err, got, test.wantConfig)
			}
		})
	}
}

func TestParseBindSpec(t *testing.T) {
	tests := []struct {
		spec        string
		source      string
		destination string
	}{
		{"/ccache", "/ccache", "/ccache"},
		{"/ccache:/cache", "/ccache", "/cache"},
		{"/ccache:", "/ccache", "/ccache"},
	}
	for _, test := range tests {
		source, destination, err := parseBindSpec(test.spec)
		if err != nil {
			t.Errorf("parseBindSpec(%q): %v", test.spec, err)
			continue
		}
		if source != test.source || destination != test.destination {
			t.Errorf("parseBindSpec(%q) = %q, %q; want %q, %q",
				test.spec, source, destination, test.source, test.destination)
		}
	}
}
