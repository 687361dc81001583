// Package storage provides object storage for published artifacts such as
// cuboid statistics. Objects are always published whole: a reader observes
// either the previous object or the complete new one.
package storage

import (
	"context"

	cerrors "github.com/arkilian/cubecore/internal/errors"
)

// Sentinel errors for storage operations. Match them with errors.Is; the
// category and code are compared, so wrapped storage errors match too.
var (
	ErrObjectNotFound = cerrors.New(cerrors.ErrCategoryStorage, cerrors.CodeObjectNotFound, "object not found")
	ErrUploadFailed   = cerrors.New(cerrors.ErrCategoryStorage, cerrors.CodeUploadFailed, "upload failed")
	ErrDownloadFailed = cerrors.New(cerrors.ErrCategoryStorage, cerrors.CodeDownloadFailed, "download failed")
)

// ObjectStorage abstracts the durable store artifacts are published to.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Upload publishes the local file at localPath as objectPath, replacing
	// any existing object atomically.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath. Returns an error matching
	// ErrObjectNotFound if the object does not exist.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

func uploadFailed(msg string, cause error) error {
	return cerrors.NewStorageError(cerrors.CodeUploadFailed, msg, cause)
}

func downloadFailed(msg string, cause error) error {
	return cerrors.NewStorageError(cerrors.CodeDownloadFailed, msg, cause)
}

func notFound(objectPath string) error {
	return cerrors.Newf(cerrors.ErrCategoryStorage, cerrors.CodeObjectNotFound, "object %s not found", objectPath)
}
