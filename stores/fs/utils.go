package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sa "github.com/panyam/secretauth"
)

// writeAtomicFile writes data to a file atomically by writing to a temp file first
func writeAtomicFile(path string, data []byte) error {
	tmpPath, err := writeTempFile(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// claimFile creates path with data only if it does not exist yet. The temp
// file is hard linked into place, which fails atomically if another writer
// got there first. Returns sa.ErrConflict in that case.
func claimFile(path string, data []byte) error {
	tmpPath, err := writeTempFile(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return sa.ErrConflict
		}
		return fmt.Errorf("failed to claim %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeTempFile(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmpPath, nil
}
