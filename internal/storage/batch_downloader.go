package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader fetches many objects in parallel into a local directory.
// Objects already present locally are reused unless Refresh is set.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	localDir    string
}

// BatchResult contains the outcome of a batch download operation.
type BatchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	Reused     int
	Downloads  int
}

// NewBatchDownloader creates a downloader writing into localDir with at most
// concurrency downloads in flight.
func NewBatchDownloader(storage ObjectStorage, concurrency int, localDir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		localDir:    localDir,
	}
}

// Download fetches objectPaths. Per-object failures are collected in the
// result; the returned error is reserved for setup failures.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string, refresh bool) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(b.localDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = semaphore.NewWeighted(int64(b.concurrency))
	)

	for _, objectPath := range objectPaths {
		local := b.LocalPath(objectPath)
		if !refresh {
			if _, err := os.Stat(local); err == nil {
				result.LocalPaths[objectPath] = local
				result.Reused++
				continue
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[objectPath] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath, local string) {
			defer sem.Release(1)
			defer wg.Done()

			err := b.storage.Download(ctx, objectPath, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
			result.Downloads++
		}(objectPath, local)
	}

	wg.Wait()
	return result, nil
}

// LocalPath maps an object path to a flat file name under the local
// directory. Separators are folded so distinct objects never collide.
func (b *BatchDownloader) LocalPath(objectPath string) string {
	name := strings.ReplaceAll(strings.Trim(objectPath, "/"), "_", "__")
	name = strings.ReplaceAll(name, "/", "_")
	return filepath.Join(b.localDir, name)
}
