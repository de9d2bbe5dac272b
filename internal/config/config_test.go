package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	content := `
paths:
  root_dir: "/srv/tunesyncd"
  publish_dir: "/srv/tunesyncd/app/public"

tool:
  path: "/usr/local/bin/abc2midi"
  expected_version: "4.84 January 20 2023 abc2midi"

steps:
  fetch_command: ["scripts/fetch-session-data"]
  build_command: ["python3", "src/build_non_user_data.py"]
  python_env: "/srv/tunesyncd/venv"

release:
  enabled: true
  repo_dir: "/srv/tunesyncd/app"
  branch: "master"
`

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify loaded values
	if cfg.Paths.RootDir != "/srv/tunesyncd" {
		t.Errorf("expected root dir /srv/tunesyncd, got %s", cfg.Paths.RootDir)
	}
	if cfg.Tool.Path != "/usr/local/bin/abc2midi" {
		t.Errorf("expected tool path /usr/local/bin/abc2midi, got %s", cfg.Tool.Path)
	}
	if cfg.Release.Branch != "master" {
		t.Errorf("expected release branch master, got %s", cfg.Release.Branch)
	}

	// Defaults applied on unstated fields
	if cfg.Tool.VersionFlag != "-ver" {
		t.Errorf("expected default version flag -ver, got %s", cfg.Tool.VersionFlag)
	}
	if cfg.Build.DataFile != "folkfriend-non-user-data.json" {
		t.Errorf("expected default data file, got %s", cfg.Build.DataFile)
	}
	if cfg.Build.MetaFile != "nud-meta.json" {
		t.Errorf("expected default meta file, got %s", cfg.Build.MetaFile)
	}
	if cfg.Release.Remote != "origin" {
		t.Errorf("expected default remote origin, got %s", cfg.Release.Remote)
	}
}

func validConfig() Config {
	return Config{
		Paths: PathsConfig{
			RootDir:    "/srv/tunesyncd",
			PublishDir: "/srv/tunesyncd/app/public",
		},
		Tool: ToolConfig{
			Path:            "abc2midi",
			VersionFlag:     "-ver",
			ExpectedVersion: "4.84 January 20 2023 abc2midi",
		},
		Steps: StepsConfig{
			FetchCommand: []string{"scripts/fetch"},
			BuildCommand: []string{"scripts/build"},
		},
		Build: BuildConfig{
			DataFile: "folkfriend-non-user-data.json",
			MetaFile: "nud-meta.json",
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing root dir",
			mutate:  func(c *Config) { c.Paths.RootDir = "" },
			wantErr: true,
		},
		{
			name:    "relative root dir",
			mutate:  func(c *Config) { c.Paths.RootDir = "srv/tunesyncd" },
			wantErr: true,
		},
		{
			name:    "missing publish dir",
			mutate:  func(c *Config) { c.Paths.PublishDir = "" },
			wantErr: true,
		},
		{
			name:    "relative publish dir",
			mutate:  func(c *Config) { c.Paths.PublishDir = "public" },
			wantErr: true,
		},
		{
			name:    "missing expected version",
			mutate:  func(c *Config) { c.Tool.ExpectedVersion = "" },
			wantErr: true,
		},
		{
			name:    "missing fetch command",
			mutate:  func(c *Config) { c.Steps.FetchCommand = nil },
			wantErr: true,
		},
		{
			name:    "missing build command",
			mutate:  func(c *Config) { c.Steps.BuildCommand = nil },
			wantErr: true,
		},
		{
			name: "release enabled without repo dir",
			mutate: func(c *Config) {
				c.Release.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "release enabled with relative repo dir",
			mutate: func(c *Config) {
				c.Release.Enabled = true
				c.Release.RepoDir = "app"
			},
			wantErr: true,
		},
		{
			name: "release enabled with repo dir",
			mutate: func(c *Config) {
				c.Release.Enabled = true
				c.Release.RepoDir = "/srv/tunesyncd/app"
			},
		},
		{
			name: "serve enabled without listen addr",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
				c.Serve.GitHubWebhookSecretFile = "/secret"
			},
			wantErr: true,
		},
		{
			name: "serve enabled without secret file",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
				c.Serve.ListenAddr = ":8787"
			},
			wantErr: true,
		},
		{
			name: "serve enabled fully configured",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
				c.Serve.ListenAddr = ":8787"
				c.Serve.GitHubWebhookSecretFile = "/secret"
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := validConfig()

	if got := cfg.DataDir(); got != filepath.Join("/srv/tunesyncd", "data") {
		t.Errorf("unexpected data dir: %s", got)
	}
	if got := cfg.StateDir(); got != filepath.Join("/srv/tunesyncd", "state") {
		t.Errorf("unexpected state dir: %s", got)
	}
	if got := cfg.RecordedFingerprintPath(); got != filepath.Join("/srv/tunesyncd", "state", "checksums") {
		t.Errorf("unexpected recorded fingerprint path: %s", got)
	}
	if got := cfg.CandidateFingerprintPath(); got != filepath.Join("/srv/tunesyncd", "state", "checksums.new") {
		t.Errorf("unexpected candidate fingerprint path: %s", got)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TUNESYNCD_TEST_ROOT", "/srv/from-env")

	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	content := `
paths:
  root_dir: "$TUNESYNCD_TEST_ROOT"
  publish_dir: "$TUNESYNCD_TEST_ROOT/public"
tool:
  expected_version: "4.84 January 20 2023 abc2midi"
steps:
  fetch_command: ["scripts/fetch"]
  build_command: ["scripts/build"]
`
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Paths.RootDir != "/srv/from-env" {
		t.Errorf("expected env-expanded root dir, got %s", cfg.Paths.RootDir)
	}
	if cfg.Paths.PublishDir != "/srv/from-env/public" {
		t.Errorf("expected env-expanded publish dir, got %s", cfg.Paths.PublishDir)
	}
}
