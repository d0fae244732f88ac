package watermark

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultPath is where FileStore keeps the watermark when no path is configured.
const DefaultPath = "app/results.txt"

// FileStore keeps the watermark as a decimal integer in a local file. Writes go to a
// temporary file in the same directory and are renamed into place.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path, or DefaultPath when path is empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Read implements Store.Read.
func (s *FileStore) Read(ctx context.Context) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := parseValue(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse watermark file %s: %w", s.path, err)
	}
	return v, true, nil
}

// Write implements Store.Write.
func (s *FileStore) Write(ctx context.Context, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".watermark-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(formatValue(value)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
