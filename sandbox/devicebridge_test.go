// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/bureau-foundation/buildjail/lib/testutil"
)

// fakeProc builds a proc root with one cmdline file per process. Command
// lines use spaces in the map and NULs on disk.
func fakeProc(t *testing.T, processes map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for pid, commandLine := range processes {
		raw := strings.ReplaceAll(commandLine, " ", "\x00") + "\x00"
		testutil.WriteFile(t, filepath.Join(root, pid, "cmdline"), raw)
	}
	testutil.Mkdir(t, filepath.Join(root, "self"))
	testutil.WriteFile(t, filepath.Join(root, "uptime"), "1.0 1.0\n")
	return root
}

func TestDeviceBridgeScan(t *testing.T) {
	bridge := &DeviceBridge{
		ProcRoot: fakeProc(t, map[string]string{
			"4242": "adb -L tcp:5037 fork-server server --reply-fd 4",
			"100":  "/usr/lib/android-sdk/platform-tools/adb -L tcp:5037 fork-server server",
			"200":  "vim adb_fork-server.txt",
			"300":  "bash",
			"400":  "",
		}),
	}

	processes, err := bridge.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []HostProcess{
		{PID: 100, CommandLine: "/usr/lib/android-sdk/platform-tools/adb -L tcp:5037 fork-server server"},
		{PID: 4242, CommandLine: "adb -L tcp:5037 fork-server server --reply-fd 4"},
	}
	if !reflect.DeepEqual(processes, want) {
		t.Errorf("Scan() = %+v, want %+v", processes, want)
	}
}

func TestDeviceBridgeYield(t *testing.T) {
	procRoot := fakeProc(t, map[string]string{
		"4242": "adb -L tcp:5037 fork-server server",
	})

	t.Run("approved", func(t *testing.T) {
		var prompted string
		var signalled []int
		bridge := &DeviceBridge{
			ProcRoot: procRoot,
			Confirm: func(prompt string) (bool, error) {
				prompted = prompt
				return true, nil
			},
			Signal: func(pid int) error {
				signalled = append(signalled, pid)
				return nil
			},
		}
		if err := bridge.Yield(context.Background()); err != nil {
			t.Fatalf("Yield: %v", err)
		}
		if !strings.Contains(prompted, "4242") {
			t.Errorf("prompt does not name the process: %q", prompted)
		}
		if !reflect.DeepEqual(signalled, []int{4242}) {
			t.Errorf("signalled %v, want [4242]", signalled)
		}
	})

	t.Run("declined", func(t *testing.T) {
		bridge := &DeviceBridge{
			ProcRoot: procRoot,
			Confirm:  func(string) (bool, error) { return false, nil },
			Signal: func(pid int) error {
				t.Errorf("signalled pid %d after decline", pid)
				return nil
			},
		}
		err := bridge.Yield(context.Background())
		var precondition *HostPreconditionError
		if !errors.As(err, &precondition) {
			t.Fatalf("Yield error = %v, want *HostPreconditionError", err)
		}
	})

	t.Run("nothing running", func(t *testing.T) {
		bridge := &DeviceBridge{
			ProcRoot: fakeProc(t, map[string]string{"1": "init"}),
			Confirm: func(string) (bool, error) {
				t.Error("asked for confirmation with nothing to stop")
				return false, nil
			},
		}
		if err := bridge.Yield(context.Background()); err != nil {
			t.Fatalf("Yield: %v", err)
		}
	})
}

func TestTerminalConfirmDeclinesWithoutTerminal(t *testing.T) {
	in, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	var out strings.Builder
	approved, err := TerminalConfirm(in, &out)("Stop adb?")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if approved {
		t.Error("approved without a terminal")
	}
	if out.Len() != 0 {
		t.Errorf("prompted without a terminal: %q", out.String())
	}
}

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sure\n", false},
	}
	for _, test := range tests {
		var out strings.Builder
		got, err := promptYesNo(strings.NewReader(test.input), &out, "Stop?")
		if err != nil {
			t.Errorf("promptYesNo(%q): %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("promptYesNo(%q) = %v, want %v", test.input, got, test.want)
		}
		if out.String() != "Stop? [y/N] " {
			t.Errorf("prompt = %q", out.String())
		}
	}
}
