package storage

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
)

// CopyFile copies the contents of srcPath into destPath, truncating destPath
// if it exists.
func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := destFile.ReadFrom(srcFile); err != nil {
		_ = destFile.Close()
		return err
	}
	return destFile.Close()
}

// MoveFile renames srcPath to destPath, replacing destPath. When the two
// paths live on different filesystems it falls back to copy and remove.
func MoveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := CopyFile(srcPath, destPath); err != nil {
		return err
	}

	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteFileAtomic writes data to path through a temporary file in tmpDir so
// that readers never observe a partially written file.
func WriteFileAtomic(tmpDir string, path string, data []byte) error {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(tmpDir, "put-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	// No-op once the file has been moved into place.
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return MoveFile(tmpPath, path)
}
