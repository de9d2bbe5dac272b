package abctool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Converter provides access to the external notation-to-audio converter
type Converter interface {
	// Version reports the converter's version string
	Version(ctx context.Context) (string, error)
}

// ShellConverter implements Converter by invoking the converter binary
type ShellConverter struct {
	path        string
	versionFlag string
}

// NewShellConverter creates a converter client for the given binary
func NewShellConverter(path, versionFlag string) *ShellConverter {
	return &ShellConverter{
		path:        path,
		versionFlag: versionFlag,
	}
}

// Version invokes the converter with its version flag and returns the
// trimmed stdout
func (c *ShellConverter) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.path, c.versionFlag)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s %s: %w", c.path, c.versionFlag, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CheckVersion verifies the converter reports exactly the expected version
// string. Older, newer, and malformed versions are all the same precondition
// failure: the build output depends on the converter's exact behavior, so
// anything but an exact match aborts before any side effect.
func CheckVersion(ctx context.Context, conv Converter, expected string) error {
	got, err := conv.Version(ctx)
	if err != nil {
		return fmt.Errorf("converter version check failed: %w (install the exact release %q, e.g. from the abcMIDI source distribution)", err, expected)
	}

	if got != expected {
		return fmt.Errorf("converter version mismatch: got %q, want exactly %q (install that release, e.g. from the abcMIDI source distribution)", got, expected)
	}

	return nil
}
