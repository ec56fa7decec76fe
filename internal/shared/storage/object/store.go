package object

import (
	"context"
	"errors"
	"io"
	"time"
)

// Logical bucket names. Backends map them to physical buckets or directories.
const (
	BucketDocuments   = "documents"
	BucketTenantLogos = "tenant-logos"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrInvalidKey    = errors.New("invalid storage key")
	ErrUnknownBucket = errors.New("unknown bucket")
)

// Store saves, reads and removes binary objects by bucket and key.
type Store interface {
	Put(ctx context.Context, bucket, key, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket string, keys ...string) error
}

// Presigner issues time-limited upload URLs.
type Presigner interface {
	PresignPut(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error)
}
