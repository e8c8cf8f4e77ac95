// Package blob uploads local files to object storage under a caller-chosen key.
// Providers: local filesystem, AWS S3 (or any S3-compatible endpoint) and MinIO.
package blob

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/highlighter/highlighter-agent/internal/config"
)

// Store uploads a local file under key. Put must not return before the
// object is durably stored.
type Store interface {
	Put(ctx context.Context, key, localPath string) error
	Provider() string
}

// NewStore builds the Store selected by cfg.Provider.
func NewStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", config.DefaultStorageProvider:
		return NewFileStore(cfg.Bucket)
	case "s3":
		return NewS3Store(ctx, cfg)
	case "minio":
		return NewMinioStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".m4v": "video/x-m4v",
}

func contentType(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
