// Package library publishes finished videos to a user-visible media library.
package library

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Publisher saves a finished video to the media library.
type Publisher interface {
	Publish(ctx context.Context, path string) error
}

// Nop discards publish requests. Used when no library is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, path string) error { return nil }

// DirPublisher copies videos into a directory, e.g. a synced photos folder.
type DirPublisher struct {
	dir    string
	logger *slog.Logger
}

// NewDirPublisher returns Nop when dir is empty.
func NewDirPublisher(dir string, logger *slog.Logger) (Publisher, error) {
	if dir == "" {
		return Nop{}, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	return &DirPublisher{dir: dir, logger: logger}, nil
}

// Publish copies path into the library. Name clashes get a numeric suffix;
// existing library entries are never overwritten.
func (p *DirPublisher) Publish(ctx context.Context, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer src.Close()

	dst, name, err := p.create(filepath.Base(path))
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return fmt.Errorf("copy to library: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return fmt.Errorf("close library file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(dst.Name())
		return err
	}

	p.logger.Info("published to library", "name", name)
	return nil
}

func (p *DirPublisher) create(base string) (*os.File, string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := base
	for i := 1; i < 1000; i++ {
		f, err := os.OpenFile(filepath.Join(p.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, name, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("create library file: %w", err)
		}
		name = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
	return nil, "", fmt.Errorf("too many library entries named %s", base)
}
