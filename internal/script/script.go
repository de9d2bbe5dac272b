package script

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external pipeline step
type Runner interface {
	// Run invokes argv with the pipeline root directory appended as the
	// final argument, blocking until the step exits
	Run(ctx context.Context, argv []string, rootDir string) error
}

// ShellRunner implements Runner by executing the step as a subprocess
type ShellRunner struct {
	pythonEnv string
}

// NewShellRunner creates a runner. pythonEnv may name a virtualenv directory
// to activate for every step; empty means the inherited environment is used
// as-is.
func NewShellRunner(pythonEnv string) *ShellRunner {
	return &ShellRunner{pythonEnv: pythonEnv}
}

// Run executes the step and returns an error carrying the combined output
// on non-zero exit
func (r *ShellRunner) Run(ctx context.Context, argv []string, rootDir string) error {
	if len(argv) == 0 {
		return fmt.Errorf("step command is empty")
	}

	args := append(append([]string{}, argv[1:]...), rootDir)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Dir = rootDir
	cmd.Env = r.environ()

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", argv[0], err, strings.TrimSpace(string(output)))
	}
	return nil
}

// environ returns the process environment, with the configured virtualenv
// activated the same way `source bin/activate` would: VIRTUAL_ENV set and
// the env's bin directory prepended to PATH.
func (r *ShellRunner) environ() []string {
	env := os.Environ()
	if r.pythonEnv == "" {
		return env
	}

	binDir := filepath.Join(r.pythonEnv, "bin")
	result := make([]string, 0, len(env)+2)
	result = append(result, "VIRTUAL_ENV="+r.pythonEnv)

	pathSeen := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			result = append(result, "PATH="+binDir+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			pathSeen = true
			continue
		}
		if strings.HasPrefix(kv, "VIRTUAL_ENV=") {
			continue
		}
		result = append(result, kv)
	}
	if !pathSeen {
		result = append(result, "PATH="+binDir)
	}

	return result
}
