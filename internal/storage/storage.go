package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrNotFound = errors.New("object not found")

// Storage is a write-once object store for raw provider payloads.
type Storage interface {
	// Save stores the object at path
	Save(ctx context.Context, path string, reader io.Reader, contentType string) error

	// Get retrieves the object at path; ErrNotFound when missing
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks if an object exists at path
	Exists(ctx context.Context, path string) (bool, error)
}

// Config holds storage configuration
type Config struct {
	Type      string // local, s3
	BasePath  string // For local storage
	Bucket    string // For S3
	Region    string // For S3
	AccessKey string // For S3, optional
	SecretKey string // For S3, optional
	Endpoint  string // For R2 or another S3-compatible store
}

// NewStorage creates a storage instance based on configuration
func NewStorage(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case "local":
		return NewLocalStorage(cfg)
	case "s3":
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
