package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// InputGlob matches the raw dataset files the fetch step is expected to
// populate under the data directory.
const InputGlob = "*.json"

// DiscoverInputs returns the raw input files currently present in the data
// directory, sorted by name. A missing directory yields an empty set.
func DiscoverInputs(dataDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, InputGlob))
	if err != nil {
		return nil, fmt.Errorf("invalid input glob: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// VerifyArtifacts checks that every expected build artifact exists in dir.
// A missing artifact after a successful build exit is a build/configuration
// error, never a "no change" condition.
func VerifyArtifacts(dir string, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("build step did not produce expected artifacts: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CommitMessage derives the release commit message from the metadata
// artifact's contents.
func CommitMessage(metaPath string) (string, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata artifact: %w", err)
	}

	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "", fmt.Errorf("metadata artifact %s is empty", metaPath)
	}
	return msg, nil
}
