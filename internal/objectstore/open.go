package objectstore

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendBlob   = "blob"
)

// Config selects and configures a backend.
type Config struct {
	Backend   string   `yaml:"backend"`
	LocalPath string   `yaml:"local_path"`
	BlobURL   string   `yaml:"blob_url"`
	S3        S3Config `yaml:"s3"`
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendLocal:
		if strings.TrimSpace(cfg.LocalPath) == "" {
			return nil, fmt.Errorf("storage.local_path is required for the local backend")
		}
		return NewLocalStore(cfg.LocalPath)
	case BackendS3:
		return NewS3Store(ctx, cfg.S3)
	case BackendBlob:
		if strings.TrimSpace(cfg.BlobURL) == "" {
			return nil, fmt.Errorf("storage.blob_url is required for the blob backend")
		}
		return OpenBlobStore(ctx, cfg.BlobURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
