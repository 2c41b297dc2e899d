package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("object not found")

// BlobStore keeps uploaded room videos.
type BlobStore interface {
	// Put stores content from the reader under key. size is -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Open returns the stored content. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Remove deletes the object. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Exists reports whether key has an object.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the address browsers use to fetch the object.
	URL(ctx context.Context, key string) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Driver string      `mapstructure:"driver"` // "local", "s3"
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

// New builds the backend named by cfg.Driver.
func New(ctx context.Context, cfg Config) (BlobStore, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(cfg.Local)
	case "s3", "minio":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

const defaultPresignExpiry = 12 * time.Hour
