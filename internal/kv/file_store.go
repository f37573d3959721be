package kv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one file per key under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, errors.New("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Load reads the file for key.
func (f *FileStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

// Save writes value through a temp file and rename so readers never see a
// partially written file.
func (f *FileStore) Save(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(f.basePath, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.basePath, safeFilename(key))
}

func safeFilename(key string) string {
	name := strings.TrimSpace(filepath.Base(key))
	name = strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "value"
	}
	return name
}
