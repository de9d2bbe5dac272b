package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// publishArtifacts relocates the two expected build artifacts from the data
// directory into the published location, overwriting whatever is there.
// There is no rollback: if the second move fails after the first succeeded,
// the published directory is left partially updated and the operator must
// re-run the pipeline (the recorded state was not yet committed, so the next
// run redoes the whole rebuild).
func (e *Engine) publishArtifacts() error {
	if err := os.MkdirAll(e.cfg.Paths.PublishDir, 0755); err != nil {
		return fmt.Errorf("failed to create publish directory: %w", err)
	}

	for _, name := range []string{e.cfg.Build.DataFile, e.cfg.Build.MetaFile} {
		src := filepath.Join(e.cfg.DataDir(), name)
		dst := filepath.Join(e.cfg.Paths.PublishDir, name)

		e.logger.Info("moving artifact", "src", src, "dest", dst)
		if err := moveFile(src, dst); err != nil {
			return fmt.Errorf("failed to move artifact %s: %w", name, err)
		}
	}

	return nil
}

// moveFile renames src to dst, falling back to copy-and-remove when the
// paths are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	// Stage into a temp file next to dst so the replacement is atomic
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".tunesyncd-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}

	return os.Remove(src)
}
