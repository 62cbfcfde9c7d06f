package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pixvault/internal/asset"
)

// LocalFileStorage is an asset.BlobStore that keeps payloads on the local
// filesystem. Each storage key maps to a file under <dataDir>/blobs, and the
// content type recorded at Put time lives in a mirror tree under
// <dataDir>/types.
type LocalFileStorage struct {
	dataDir string
}

// NewLocalFileStorage creates a new LocalFileStorage rooted at dataDir.
func NewLocalFileStorage(dataDir string) *LocalFileStorage {
	return &LocalFileStorage{dataDir: dataDir}
}

// isValidKey rejects keys that would escape the storage root once joined.
func isValidKey(key string) bool {
	if key == "" || len(key) > 1024 || strings.HasPrefix(key, "/") {
		return false
	}

	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}

	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f || c == '\\'
	})
}

// ObjectPath computes the filesystem path of the payload stored under key.
func ObjectPath(directory string, key string) (string, error) {
	if !isValidKey(key) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(directory, "blobs", filepath.FromSlash(key)), nil
}

func typePath(directory string, key string) string {
	return filepath.Join(directory, "types", filepath.FromSlash(key))
}

func (s *LocalFileStorage) tmpDir() string {
	return filepath.Join(s.dataDir, "tmp")
}

// Put implements asset.BlobStore.
func (s *LocalFileStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	objPath, err := ObjectPath(s.dataDir, key)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// The type is written first; a crash in between leaves a stale type for
	// a payload that is about to be replaced anyway.
	metaPath := typePath(s.dataDir, key)
	if contentType == "" {
		if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := WriteFileAtomic(s.tmpDir(), metaPath, []byte(contentType)); err != nil {
		return fmt.Errorf("write content type: %w", err)
	}

	if err := WriteFileAtomic(s.tmpDir(), objPath, data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Get implements asset.BlobStore.
func (s *LocalFileStorage) Get(ctx context.Context, key string) (*asset.Blob, error) {
	objPath, err := ObjectPath(s.dataDir, key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", asset.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", asset.ErrBlobNotFound, key)
	}

	var contentType string
	if raw, err := os.ReadFile(typePath(s.dataDir, key)); err == nil {
		contentType = strings.TrimSpace(string(raw))
	}

	return &asset.Blob{
		Body:        f,
		ContentType: contentType,
		Size:        info.Size(),
	}, nil
}

// Delete implements asset.BlobStore. Missing payloads are not an error.
func (s *LocalFileStorage) Delete(ctx context.Context, key string) error {
	objPath, err := ObjectPath(s.dataDir, key)
	if err != nil {
		return err
	}

	if err := os.Remove(objPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := os.Remove(typePath(s.dataDir, key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
