package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalStorage writes files into a directory tree on the local filesystem
type LocalStorage struct {
	root   string
	logger *slog.Logger
}

// NewLocalStorage creates a storage writing below root
func NewLocalStorage(root string, logger *slog.Logger) *LocalStorage {
	return &LocalStorage{root: root, logger: logger}
}

// Save writes through a temp file in the destination directory and renames
// it into place, so a failed stream never leaves a partial file behind.
func (ls *LocalStorage) Save(ctx context.Context, dir, name string, r io.Reader) (string, error) {
	name, err := safeName(name)
	if err != nil {
		return "", err
	}

	finalDir := filepath.Join(ls.root, dir)
	if err := os.MkdirAll(finalDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(finalDir, ".fetchattach-*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	src := &trackingReader{r: r}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		if src.err != nil {
			return "", &SourceError{Err: src.err}
		}
		return "", fmt.Errorf("failed to write file content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	finalPath := filepath.Join(finalDir, name)
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	ls.logger.Debug("saved file", "path", finalPath)
	return finalPath, nil
}

// trackingReader remembers read errors so they can be told apart from
// write errors after io.Copy
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
