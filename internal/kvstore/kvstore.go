// Package kvstore is a small durable key-value store over a profile
// directory, one file per key. It stands in for browser localStorage: values
// are short strings and operations are synchronous.
package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// FileStore persists values as files under a base directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("kvstore directory cannot be empty")
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, err
	}

	return &FileStore{dir: absDir}, nil
}

// Get returns the stored value and whether it was present.
func (s *FileStore) Get(key string) (string, bool) {
	path, err := s.keyPath(key)
	if err != nil {
		return "", false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Set writes a value, replacing any previous one. The write goes through a
// temp file and rename so a crash never leaves a half-written value.
func (s *FileStore) Set(key, value string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".kv-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}

// Remove deletes a key. Removing an absent key is a no-op.
func (s *FileStore) Remove(key string) {
	path, err := s.keyPath(key)
	if err != nil {
		return
	}
	os.Remove(path)
}

func (s *FileStore) keyPath(key string) (string, error) {
	// "." and ".." match the pattern but resolve to directories, not keys.
	if key == "." || key == ".." || !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid key: %q", key)
	}
	return filepath.Join(s.dir, key), nil
}
