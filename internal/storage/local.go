package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mastermobile/callexport/internal/support/exception"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// localBackend implements Backend over a directory on the local file system.
type localBackend struct {
	baseDir string
}

var _ Backend = (*localBackend)(nil)

// NewLocalBackend creates a local file system backend rooted at baseDir,
// creating the directory if needed.
func NewLocalBackend(baseDir string) (Backend, error) {
	if baseDir == "" {
		return nil, exception.NewExportError(stageName, "local backend: base path must be specified in configuration", nil, exception.KindFatal)
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(baseDir, 0755); err != nil {
				return nil, exception.NewExportError(stageName, fmt.Sprintf("local backend: failed to create base path '%s'", baseDir), err, exception.KindFatal)
			}
		} else {
			return nil, exception.NewExportError(stageName, fmt.Sprintf("local backend: failed to stat base path '%s'", baseDir), err, exception.KindFatal)
		}
	} else if !info.IsDir() {
		return nil, exception.NewExportError(stageName, fmt.Sprintf("local backend: base path '%s' is not a directory", baseDir), nil, exception.KindFatal)
	}

	return &localBackend{baseDir: baseDir}, nil
}

// Put writes the data to a temporary file next to the final location and
// renames it into place, so a partial write is never visible under the key.
func (b *localBackend) Put(ctx context.Context, key string, data io.Reader) error {
	fullPath, err := b.resolvePath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return exception.NewExportError(stageName, fmt.Sprintf("failed to create directory '%s'", dir), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return exception.NewExportError(stageName, fmt.Sprintf("failed to create temp file in '%s'", dir), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return exception.NewExportError(stageName, fmt.Sprintf("failed to write data for '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return exception.NewExportError(stageName, fmt.Sprintf("failed to close temp file for '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return exception.NewExportError(stageName, fmt.Sprintf("failed to publish '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	logger.Debugf("Stored object '%s' (local backend).", key)
	return nil
}

// Get opens the object stored under the key.
func (b *localBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := b.resolvePath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, exception.NewExportError(stageName, fmt.Sprintf("object '%s' not found", key), err, exception.KindNotFound).WithCode("OBJECT_NOT_FOUND")
		}
		return nil, exception.NewExportError(stageName, fmt.Sprintf("failed to open object '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	return file, nil
}

// List walks the tree under the prefix and calls fn for each regular file.
func (b *localBackend) List(ctx context.Context, prefix string, fn func(obj ObjectInfo) error) error {
	root, err := b.resolvePath(prefix)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(b.baseDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(ObjectInfo{
			Key:     strings.ReplaceAll(rel, "\\", "/"),
			Size:    info.Size(),
			Updated: info.ModTime(),
		})
	})
}

// Delete removes the object under the key. A missing object is not an error.
func (b *localBackend) Delete(ctx context.Context, key string) error {
	fullPath, err := b.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s' (local backend).", key)
			return nil
		}
		return exception.NewExportError(stageName, fmt.Sprintf("failed to delete object '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	logger.Debugf("Deleted object '%s' (local backend).", key)
	return nil
}

// Close does nothing for the local file system backend.
func (b *localBackend) Close() error {
	logger.Debugf("Local storage backend closed.")
	return nil
}

// resolvePath resolves a key to a path under the base directory and rejects
// keys that would escape it.
func (b *localBackend) resolvePath(key string) (string, error) {
	fullPath := filepath.Join(b.baseDir, filepath.FromSlash(key))

	absBase, err := filepath.Abs(b.baseDir)
	if err != nil {
		return "", exception.NewExportError(stageName, fmt.Sprintf("failed to get absolute path for base '%s'", b.baseDir), err, exception.KindFatal)
	}
	absFull, err := filepath.Abs(fullPath)
	if err != nil {
		return "", exception.NewExportError(stageName, fmt.Sprintf("failed to get absolute path for '%s'", fullPath), err, exception.KindFatal)
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(os.PathSeparator)) {
		return "", exception.NewExportError(stageName, fmt.Sprintf("key '%s' resolves outside of base path", key), nil, exception.KindFatal)
	}
	return fullPath, nil
}
