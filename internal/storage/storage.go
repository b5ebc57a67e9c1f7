package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/altafino/fetch-attach/internal/types"
)

// Storage defines where fetched files end up
type Storage interface {
	// Save streams r into dir/name below the storage root and returns the
	// final path or identifier. An existing file is replaced.
	Save(ctx context.Context, dir, name string, r io.Reader) (string, error)
}

// SourceError reports that reading the input failed, as opposed to writing
// the destination.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("reading source: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// New creates the storage for a profile: the local directory tree, mirrored
// to Google Drive when enabled
func New(ctx context.Context, cfg *types.Config, logger *slog.Logger) (Storage, error) {
	local := NewLocalStorage(Root(cfg), logger)
	if !cfg.Storage.GDrive.Enabled {
		return local, nil
	}

	gd, err := NewGDriveStorage(ctx, logger, cfg.Storage.GDrive.CredentialsFile, cfg.Storage.GDrive.ParentFolderID)
	if err != nil {
		return nil, err
	}
	return &MirroredStorage{
		primary: local,
		mirror:  gd,
		prefix:  cfg.Directories.Main.Name,
		logger:  logger,
	}, nil
}

// Root returns the main storage directory of a profile
func Root(cfg *types.Config) string {
	return filepath.Join(cfg.Directories.Main.Path, cfg.Directories.Main.Name)
}

// SanitizeFilename replaces characters that are unsafe in file names on
// common filesystems
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filename)

	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"\n", "_",
		"\r", "_",
		"\t", "_",
	)
	filename = replacer.Replace(filename)

	const maxLength = 255
	if len(filename) > maxLength {
		ext := filepath.Ext(filename)
		if len(ext) >= maxLength {
			ext = ""
		}
		filename = filename[:maxLength-len(ext)] + ext
	}

	return filename
}

// safeName strips any directory component a message may smuggle into a name
func safeName(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return name, nil
}
