//go:build integration

package tier1

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mfeller/tunesyncd/internal/abctool"
	"github.com/mfeller/tunesyncd/internal/config"
	"github.com/mfeller/tunesyncd/internal/script"
	"github.com/mfeller/tunesyncd/internal/sync"
)

const toolVersion = "4.84 January 20 2023 abc2midi"

// Harness sets up a complete pipeline root with stand-in executables for the
// converter and the fetch/build steps, so the engine can be exercised
// end-to-end with real process execution but no network or real converter.
type Harness struct {
	t       *testing.T
	Cfg     *config.Config
	BinDir  string
	WorkDir string
}

// NewHarness creates a pipeline root under a temp dir, installs the fake
// converter and step scripts, and returns a ready-to-run configuration.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	workDir := t.TempDir()
	binDir := filepath.Join(workDir, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatalf("failed to create bin dir: %v", err)
	}

	h := &Harness{
		t:       t,
		WorkDir: workDir,
		BinDir:  binDir,
	}

	// Fake converter: prints the pinned version string like abc2midi -ver
	h.InstallScript("abc2midi", fmt.Sprintf("#!/bin/sh\necho '%s'\n", toolVersion))

	h.Cfg = &config.Config{
		Paths: config.PathsConfig{
			RootDir:    workDir,
			PublishDir: filepath.Join(workDir, "public"),
		},
		Tool: config.ToolConfig{
			Path:            filepath.Join(binDir, "abc2midi"),
			VersionFlag:     "-ver",
			ExpectedVersion: toolVersion,
		},
		Steps: config.StepsConfig{
			FetchCommand: []string{filepath.Join(binDir, "fetch.sh")},
			BuildCommand: []string{filepath.Join(binDir, "build.sh")},
		},
		Build: config.BuildConfig{
			DataFile: "folkfriend-non-user-data.json",
			MetaFile: "nud-meta.json",
		},
	}

	return h
}

// InstallScript writes an executable script into the harness bin dir.
func (h *Harness) InstallScript(name, content string) {
	h.t.Helper()
	path := filepath.Join(h.BinDir, name)
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		h.t.Fatalf("failed to install script %s: %v", name, err)
	}
}

// SetFetchContent installs a fetch script reproducing the given files in the
// data dir, simulating an upstream download.
func (h *Harness) SetFetchContent(files map[string]string) {
	h.t.Helper()
	sh := "#!/bin/sh\nset -e\nroot=\"$1\"\nmkdir -p \"$root/data\"\n"
	for name, content := range files {
		sh += fmt.Sprintf("printf '%%s' '%s' > \"$root/data/%s\"\n", content, name)
	}
	h.InstallScript("fetch.sh", sh)
}

// InstallDefaultBuild installs a build script producing both artifacts from
// the fetched snapshot.
func (h *Harness) InstallDefaultBuild() {
	h.t.Helper()
	sh := fmt.Sprintf(`#!/bin/sh
set -e
root="$1"
cat "$root"/data/*.json > "$root/data/%s"
printf '{"v": 2068, "size": 99}' > "$root/data/%s"
`, h.Cfg.Build.DataFile, h.Cfg.Build.MetaFile)
	h.InstallScript("build.sh", sh)
}

// NewEngine builds an engine wired with the real shell-based collaborators.
func (h *Harness) NewEngine() *sync.Engine {
	h.t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tool := abctool.NewShellConverter(h.Cfg.Tool.Path, h.Cfg.Tool.VersionFlag)
	runner := script.NewShellRunner(h.Cfg.Steps.PythonEnv)
	return sync.NewEngine(h.Cfg, tool, runner, nil, logger, nil, false)
}

// PublishedFile reads a file from the publish dir.
func (h *Harness) PublishedFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(h.Cfg.Paths.PublishDir, name))
	return string(data), err
}
