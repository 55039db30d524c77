package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore is a directory-backed ObjectStore for development and tests. It
// mirrors the S3 store's collision contract: without Overwrite, an existing
// key returns ErrObjectExists.
type LocalStore struct {
	basePath      string
	publicBaseURL string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(basePath, publicBaseURL string) (*LocalStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, StoreError{"base path cannot be empty"}
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, err
	}

	return &LocalStore{
		basePath:      absPath,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// fullPath resolves a key inside the base directory, rejecting keys that
// would escape it.
func (s *LocalStore) fullPath(key string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(full, s.basePath+string(os.PathSeparator)) {
		return "", StoreError{fmt.Sprintf("key %q escapes the storage directory", key)}
	}
	return full, nil
}

// Put writes a blob. Without Overwrite, O_EXCL turns an existing file into
// ErrObjectExists.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	flags := os.O_CREATE | os.O_EXCL | os.O_WRONLY
	if opts.Overwrite {
		flags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY
	}

	file, err := os.OpenFile(full, flags, 0o644)
	if os.IsExist(err) {
		return ErrObjectExists
	}
	if err != nil {
		return err
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(full)
		return err
	}
	return file.Close()
}

// PublicURL returns the configured base URL joined with the key, or a file
// URL when no base is set.
func (s *LocalStore) PublicURL(key string) string {
	if s.publicBaseURL == "" {
		return "file://" + filepath.ToSlash(filepath.Join(s.basePath, key))
	}
	return s.publicBaseURL + "/" + key
}

// Get reads a blob.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Delete removes the given keys. Missing files are skipped.
func (s *LocalStore) Delete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		full, err := s.fullPath(key)
		if err != nil {
			return err
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
