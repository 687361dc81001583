package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/google/uuid"
)

// LocalStorage implements ObjectStorage on the local filesystem. Uploads
// write a uniquely named temporary file next to the destination and rename
// it into place, so concurrent readers never see a partial object.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// BasePath returns the root directory objects are stored under.
func (l *LocalStorage) BasePath() string {
	return l.basePath
}

// Upload publishes a local file as objectPath.
func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return uploadFailed("open source", err)
	}
	defer src.Close()

	if err := copyAtomic(src, l.fullPath(objectPath)); err != nil {
		return uploadFailed(fmt.Sprintf("publish %s", objectPath), err)
	}
	return nil
}

// Download copies objectPath to localPath.
func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound(objectPath)
		}
		return downloadFailed("open object", err)
	}
	defer src.Close()

	if err := copyAtomic(src, localPath); err != nil {
		return downloadFailed(fmt.Sprintf("copy %s", objectPath), err)
	}
	return nil
}

// Delete removes an object from local storage.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(l.fullPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return cerrors.NewStorageError(cerrors.CodeDeleteFailed, "delete "+objectPath, err)
	}
	return nil
}

// Exists checks if an object exists in local storage.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// ListObjects returns all object paths under the given prefix, sorted.
// In-flight temporary files are not listed.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	err := filepath.Walk(l.fullPath(prefix), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || isTempName(info.Name()) {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(objects)
	return objects, nil
}

// fullPath returns the full filesystem path for an object.
func (l *LocalStorage) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}

const tempMarker = ".tmp-"

func isTempName(name string) bool {
	return strings.Contains(name, tempMarker)
}

// TempPath returns a unique sibling path of dest for write-then-rename.
func TempPath(dest string) string {
	return dest + tempMarker + uuid.NewString()
}

// copyAtomic writes r to a temporary sibling of dest, syncs it and renames it
// over dest. The temporary file is removed on failure.
func copyAtomic(r io.Reader, dest string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	tmp := TempPath(dest)
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
