package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BackendFilesystem is the Backend() name of FSWriter.
const BackendFilesystem = "filesystem"

// FSWriter writes snapshots below a root directory, creating the date hierarchy.
type FSWriter struct {
	root string
}

// NewFSWriter creates an FSWriter rooted at root.
func NewFSWriter(root string) *FSWriter {
	return &FSWriter{root: root}
}

// Backend implements Writer.
func (w *FSWriter) Backend() string { return BackendFilesystem }

// Put implements Writer. The body is written to a temporary file and renamed so readers
// never see a partial snapshot.
func (w *FSWriter) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return &Error{Backend: BackendFilesystem, Key: key, Err: err}
	}
	path, err := w.path(key)
	if err != nil {
		return &Error{Backend: BackendFilesystem, Key: key, Err: err}
	}
	if err := writeAtomic(path, body); err != nil {
		return &Error{Backend: BackendFilesystem, Key: key, Err: err}
	}
	return nil
}

func (w *FSWriter) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key escapes storage root")
	}
	return filepath.Join(w.root, clean), nil
}

func writeAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
