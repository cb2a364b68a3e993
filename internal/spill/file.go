package spill

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/objectfs/arraycache/pkg/types"
)

// FileStore keeps spill objects as files in one directory. Writes go to a
// temporary file that is renamed into place, so a failed write never leaves a
// partial object behind.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. An empty dir means the working
// directory. The directory is created on first write.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{dir: filepath.Clean(dir)}
}

// Dir returns the spill directory
func (s *FileStore) Dir() string {
	return s.dir
}

// Location implements Store
func (s *FileStore) Location() string {
	return s.dir
}

// Name implements Store
func (s *FileStore) Name(id types.ID) string {
	return filepath.Join(s.dir, string(id)+FileExt)
}

// Write implements Store
func (s *FileStore) Write(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0750); err != nil {
		return fmt.Errorf("failed to create spill directory: %w", err)
	}
	if err := atomic.WriteFile(name, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Read implements Store
func (s *FileStore) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Delete implements Store
func (s *FileStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}
