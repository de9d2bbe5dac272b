package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mfeller/tunesyncd/internal/sync"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want int
	}{
		{name: "precheck", err: &sync.StageError{Stage: sync.StagePrecheck, Err: errors.New("x")}, want: exitPrecheck},
		{name: "fetch", err: &sync.StageError{Stage: sync.StageFetch, Err: errors.New("x")}, want: exitFetch},
		{name: "build", err: &sync.StageError{Stage: sync.StageBuild, Err: errors.New("x")}, want: exitBuild},
		{name: "publish", err: &sync.StageError{Stage: sync.StagePublish, Err: errors.New("x")}, want: exitPublish},
		{name: "commit state", err: &sync.StageError{Stage: sync.StageCommitState, Err: errors.New("x")}, want: exitCommitState},
		{name: "fingerprint maps to generic", err: &sync.StageError{Stage: sync.StageFingerprint, Err: errors.New("x")}, want: 1},
		{name: "plain error", err: errors.New("boom"), want: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Errorf("exitCodeFor() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestExitCodesAreDistinct(t *testing.T) {
	codes := []int{exitOK, exitNoChange, exitPrecheck, exitFetch, exitBuild, exitPublish, exitCommitState}
	seen := map[int]bool{}
	for _, c := range codes {
		if seen[c] {
			t.Errorf("exit code %d is not unique", c)
		}
		seen[c] = true
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()

	configContent := []byte(`paths:
  root_dir: "` + tmpDir + `"
  publish_dir: "` + filepath.Join(tmpDir, "public") + `"
tool:
  expected_version: "4.84 January 20 2023 abc2midi"
steps:
  fetch_command: ["scripts/fetch.sh"]
  build_command: ["python3", "build.py"]
`)
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg, err := loadConfig(logger)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg == nil {
		t.Fatal("loadConfig returned nil config")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := loadConfig(logger)
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	t.Helper()
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}
