package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tunesyncd configuration
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Tool    ToolConfig    `yaml:"tool"`
	Steps   StepsConfig   `yaml:"steps"`
	Build   BuildConfig   `yaml:"build"`
	Release ReleaseConfig `yaml:"release"`
	Serve   ServeConfig   `yaml:"serve"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	RootDir    string `yaml:"root_dir"`
	PublishDir string `yaml:"publish_dir"`
}

// ToolConfig configures the external notation-to-audio converter precheck
type ToolConfig struct {
	Path            string `yaml:"path"`
	VersionFlag     string `yaml:"version_flag"`
	ExpectedVersion string `yaml:"expected_version"`
}

// StepsConfig configures the external fetch and build steps
type StepsConfig struct {
	FetchCommand []string `yaml:"fetch_command"`
	BuildCommand []string `yaml:"build_command"`
	PythonEnv    string   `yaml:"python_env"`
}

// BuildConfig names the artifact files the build step must produce
type BuildConfig struct {
	DataFile string `yaml:"data_file"`
	MetaFile string `yaml:"meta_file"`
}

// ReleaseConfig configures the post-publish commit/push/deploy step
type ReleaseConfig struct {
	Enabled       bool     `yaml:"enabled"`
	RepoDir       string   `yaml:"repo_dir"`
	Remote        string   `yaml:"remote"`
	Branch        string   `yaml:"branch"`
	DeployCommand []string `yaml:"deploy_command"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.RootDir = os.ExpandEnv(c.Paths.RootDir)
	c.Paths.PublishDir = os.ExpandEnv(c.Paths.PublishDir)
	c.Tool.Path = os.ExpandEnv(c.Tool.Path)
	c.Steps.PythonEnv = os.ExpandEnv(c.Steps.PythonEnv)
	for i, arg := range c.Steps.FetchCommand {
		c.Steps.FetchCommand[i] = os.ExpandEnv(arg)
	}
	for i, arg := range c.Steps.BuildCommand {
		c.Steps.BuildCommand[i] = os.ExpandEnv(arg)
	}
	c.Release.RepoDir = os.ExpandEnv(c.Release.RepoDir)
	for i, arg := range c.Release.DeployCommand {
		c.Release.DeployCommand[i] = os.ExpandEnv(arg)
	}
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Tool.Path == "" {
		c.Tool.Path = "abc2midi"
	}
	if c.Tool.VersionFlag == "" {
		c.Tool.VersionFlag = "-ver"
	}
	if c.Build.DataFile == "" {
		c.Build.DataFile = "folkfriend-non-user-data.json"
	}
	if c.Build.MetaFile == "" {
		c.Build.MetaFile = "nud-meta.json"
	}
	if c.Release.Remote == "" {
		c.Release.Remote = "origin"
	}
	if c.Release.Branch == "" {
		c.Release.Branch = "main"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.Paths.RootDir == "" {
		return fmt.Errorf("paths.root_dir is required")
	}
	if c.Paths.PublishDir == "" {
		return fmt.Errorf("paths.publish_dir is required")
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Paths.RootDir) {
		return fmt.Errorf("paths.root_dir must be an absolute path: %s", c.Paths.RootDir)
	}
	if !filepath.IsAbs(c.Paths.PublishDir) {
		return fmt.Errorf("paths.publish_dir must be an absolute path: %s", c.Paths.PublishDir)
	}

	// Validate tool precheck
	if c.Tool.ExpectedVersion == "" {
		return fmt.Errorf("tool.expected_version is required")
	}

	// Validate external steps
	if len(c.Steps.FetchCommand) == 0 {
		return fmt.Errorf("steps.fetch_command is required")
	}
	if len(c.Steps.BuildCommand) == 0 {
		return fmt.Errorf("steps.build_command is required")
	}

	// Validate release config if enabled
	if c.Release.Enabled {
		if c.Release.RepoDir == "" {
			return fmt.Errorf("release.repo_dir is required when release is enabled")
		}
		if !filepath.IsAbs(c.Release.RepoDir) {
			return fmt.Errorf("release.repo_dir must be an absolute path: %s", c.Release.RepoDir)
		}
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// DataDir returns the directory holding the fetched dataset snapshot
func (c *Config) DataDir() string {
	return filepath.Join(c.Paths.RootDir, "data")
}

// StateDir returns the directory holding the fingerprint state files
func (c *Config) StateDir() string {
	return filepath.Join(c.Paths.RootDir, "state")
}

// RecordedFingerprintPath returns the path of the fingerprint persisted by
// the last successful run
func (c *Config) RecordedFingerprintPath() string {
	return filepath.Join(c.StateDir(), "checksums")
}

// CandidateFingerprintPath returns the path of the fingerprint computed for
// the current run
func (c *Config) CandidateFingerprintPath() string {
	return filepath.Join(c.StateDir(), "checksums.new")
}
