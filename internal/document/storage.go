package document

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/config"
)

// Storage holds document bytes by key.
type Storage interface {
	// Put writes data under key, replacing any existing blob.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Open returns the blob at key. The caller must close the reader.
	// Returns ErrBlobNotFound if the blob does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob at key. Missing blobs are not an error.
	Delete(ctx context.Context, key string) error
}

var (
	// ErrBlobNotFound is returned when a key has no blob.
	ErrBlobNotFound = eris.New("document: blob not found")
	// ErrInvalidKey is returned for empty keys or keys that escape the root.
	ErrInvalidKey = eris.New("document: invalid storage key")
)

// NewStorage builds the configured storage backend.
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocalStorage(cfg.LocalDir)
	case "azure":
		return NewAzureStorage(cfg.AzureConnectionString, cfg.AzureContainer)
	default:
		return nil, eris.Errorf("document: unknown storage driver %q", cfg.Driver)
	}
}

func validateKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	return nil
}
