package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalConfig holds configuration for disk storage.
type LocalConfig struct {
	BasePath     string `mapstructure:"base_path"`
	PublicPrefix string `mapstructure:"public_prefix"` // URL prefix the files are served under
}

// LocalStore keeps objects as flat files below a base directory.
type LocalStore struct {
	basePath     string
	publicPrefix string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = "./uploads"
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	prefix := cfg.PublicPrefix
	if prefix == "" {
		prefix = "/uploads"
	}

	return &LocalStore{
		basePath:     absPath,
		publicPrefix: "/" + strings.Trim(prefix, "/"),
	}, nil
}

// fullPath maps a key to a file below basePath. Leading ".." segments are
// dropped so a key never escapes the base directory.
func (s *LocalStore) fullPath(key string) string {
	clean := filepath.Clean("/" + key)
	return filepath.Join(s.basePath, clean)
}

// Put writes through a temp file and renames it into place.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	dst := s.fullPath(key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("short write: expected %d bytes, got %d", size, written)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to move upload into place: %w", err)
	}
	committed = true
	return nil
}

// Open opens the file for reading.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Remove deletes the file.
func (s *LocalStore) Remove(ctx context.Context, key string) error {
	if err := os.Remove(s.fullPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists stats the file.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := os.Stat(s.fullPath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// URL returns the public path the HTTP server exposes the file under.
func (s *LocalStore) URL(ctx context.Context, key string) (string, error) {
	return path.Join(s.publicPrefix, filepath.ToSlash(filepath.Clean("/"+key))), nil
}

// BasePath is the directory served as static content.
func (s *LocalStore) BasePath() string {
	return s.basePath
}

// PublicPrefix is the URL prefix files are served under.
func (s *LocalStore) PublicPrefix() string {
	return s.publicPrefix
}
