package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMoveRecordingSingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "meeting_abc.wav")
	if err := os.WriteFile(src, []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out", "standup.wav")
	got, err := moveRecording([]string{src}, out)
	if err != nil {
		t.Fatalf("moveRecording failed: %v", err)
	}
	if len(got) != 1 || got[0] != out {
		t.Errorf("expected [%s], got %v", out, got)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestMoveRecordingChunks(t *testing.T) {
	dir := t.TempDir()
	var srcs []string
	for _, name := range []string{"meeting_abc_001.wav", "meeting_abc_002.wav"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("RIFF"), 0644); err != nil {
			t.Fatal(err)
		}
		srcs = append(srcs, p)
	}

	got, err := moveRecording(srcs, filepath.Join(dir, "standup.wav"))
	if err != nil {
		t.Fatalf("moveRecording failed: %v", err)
	}
	want := []string{filepath.Join(dir, "standup_001.wav"), filepath.Join(dir, "standup_002.wav")}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestDevicesFlagsExclusive(t *testing.T) {
	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"devices", "--speakers", "--microphones"})
	defer func() {
		rootCmd.SetArgs(nil)
		onlySpeakers, onlyMicrophones = false, false
		for _, name := range []string{"speakers", "microphones"} {
			devicesCmd.Flags().Lookup(name).Changed = false
		}
	}()

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "none of the others can be") {
		t.Errorf("expected mutually exclusive flag error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "meetscribe dev") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestDevicesWithToneBackend(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"devices", "--backend", "tone"})
	defer func() {
		rootCmd.SetArgs(nil)
		backendName = ""
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("devices failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "0: ") {
		t.Errorf("unexpected listing %q", out.String())
	}
}
