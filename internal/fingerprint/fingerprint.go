// Package fingerprint computes deterministic content fingerprints of the
// dataset snapshot and detects changes against the persisted fingerprint.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Entry is one fingerprinted file: a content digest plus the file name.
type Entry struct {
	Digest string
	Name   string
}

// Record is an ordered fingerprint of a set of files. Two Records are equal
// iff their serialized text is byte-identical.
type Record []Entry

// Snapshot fingerprints every file in dir matching the glob pattern.
// Entries are sorted by file name so the result is independent of directory
// enumeration order. A missing directory or an empty match set yields an
// empty Record, not an error (first run on a fresh checkout).
func Snapshot(dir, pattern string) (Record, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}

	record := make(Record, 0, len(matches))
	for _, path := range matches {
		digest, err := fileDigest(path)
		if err != nil {
			return nil, fmt.Errorf("failed to fingerprint %s: %w", path, err)
		}
		record = append(record, Entry{
			Digest: digest,
			Name:   filepath.Base(path),
		})
	}

	sort.Slice(record, func(i, j int) bool {
		return record[i].Name < record[j].Name
	})

	return record, nil
}

// Serialize renders the record as text, one line per file:
// "<hex-digest>  <name>\n". An empty record serializes to an empty blob.
func (r Record) Serialize() []byte {
	var buf bytes.Buffer
	for _, e := range r {
		fmt.Fprintf(&buf, "%s  %s\n", e.Digest, e.Name)
	}
	return buf.Bytes()
}

// WriteFile persists the serialized record to path with an atomic write,
// overwriting any previous file there.
func (r Record) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tunesyncd-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(r.Serialize()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// Changed compares two persisted fingerprint files byte-for-byte. A missing
// file is treated as an empty record, so a first run with a non-empty
// candidate reports changed=true and two missing files report changed=false.
func Changed(recordedPath, candidatePath string) (bool, error) {
	recorded, err := readOrEmpty(recordedPath)
	if err != nil {
		return false, fmt.Errorf("failed to read recorded fingerprint: %w", err)
	}

	candidate, err := readOrEmpty(candidatePath)
	if err != nil {
		return false, fmt.Errorf("failed to read candidate fingerprint: %w", err)
	}

	return !bytes.Equal(recorded, candidate), nil
}

// readOrEmpty reads a file, mapping "does not exist" to empty content.
func readOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// fileDigest computes the SHA256 hash of a file
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
