package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of the S3 client used by S3Storage.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Storage keeps artifacts in an S3 bucket, optionally under a key prefix.
// A PutObject replaces the object atomically, so Upload needs no staging.
type S3Storage struct {
	client s3API
	bucket string
	prefix string

	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Region string
	// Endpoint overrides the service endpoint (MinIO, LocalStack).
	Endpoint     string
	UsePathStyle bool
	// Prefix is prepended to every object path.
	Prefix string
	// MaxRetries bounds retries of transient failures. Zero means 3.
	MaxRetries int
	// BaseBackoff is the first retry delay, doubled per attempt up to
	// MaxBackoff. Zero means 100ms and 5s.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{Region: "us-east-1", MaxRetries: 3}
}

// NewS3Storage loads AWS credentials from the environment and connects to bucket.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Storage(client, bucket, cfg), nil
}

func newS3Storage(client s3API, bucket string, cfg S3Config) *S3Storage {
	s := &S3Storage{
		client:      client,
		bucket:      bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if s.baseBackoff <= 0 {
		s.baseBackoff = 100 * time.Millisecond
	}
	if s.maxBackoff <= 0 {
		s.maxBackoff = 5 * time.Second
	}
	return s
}

func (s *S3Storage) key(objectPath string) string {
	objectPath = strings.TrimLeft(objectPath, "/")
	if s.prefix == "" {
		return objectPath
	}
	return s.prefix + "/" + objectPath
}

func (s *S3Storage) url(objectPath string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(objectPath))
}

// Upload puts the file at localPath as objectPath.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return uploadFailed("open source", err)
	}
	defer file.Close()

	err = s.retry(ctx, func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
			Body:   file,
		})
		return err
	})
	if err != nil {
		return uploadFailed("put "+s.url(objectPath), err)
	}
	return nil
}

// Download gets objectPath into localPath via a temporary sibling file.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	var body io.ReadCloser
	err := s.retry(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return notFound(objectPath)
		}
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return err
		}
		return downloadFailed("get "+s.url(objectPath), err)
	}
	defer body.Close()

	if err := copyAtomic(body, localPath); err != nil {
		return downloadFailed("write "+localPath, err)
	}
	return nil
}

// Delete removes objectPath. S3 treats deleting a missing key as success.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		return err
	})
	if err != nil {
		return cerrors.NewStorageError(cerrors.CodeDeleteFailed, "delete "+s.url(objectPath), err)
	}
	return nil
}

// Exists reports whether objectPath exists.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	exists := false
	err := s.retry(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		var nf *types.NotFound
		if errors.As(err, &nf) {
			exists = false
			return nil
		}
		exists = err == nil
		return err
	})
	return exists, err
}

// ListObjects returns the object paths under prefix, relative to the
// storage prefix.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var objects []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, downloadFailed("list "+s.url(prefix), err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			objects = append(objects, key)
		}
	}
	return objects, nil
}

// retry runs op until it succeeds, reports a missing object, or exhausts
// maxRetries, sleeping baseBackoff<<attempt (capped) between attempts.
func (s *S3Storage) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = op(); err == nil || errors.Is(err, ErrObjectNotFound) {
			return err
		}
		if attempt >= s.maxRetries {
			return err
		}

		backoff := s.baseBackoff << uint(attempt)
		if backoff > s.maxBackoff || backoff <= 0 {
			backoff = s.maxBackoff
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
