package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// GDriveStorage uploads files into a folder tree on Google Drive
type GDriveStorage struct {
	logger   *slog.Logger
	service  *drive.Service
	parentID string // Google Drive folder ID where files will be stored
	folders  map[string]string
}

// NewGDriveStorage creates a new Google Drive storage instance
func NewGDriveStorage(ctx context.Context, logger *slog.Logger, credentialsFile, parentFolderID string) (*GDriveStorage, error) {
	service, err := drive.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}

	return &GDriveStorage{
		logger:   logger,
		service:  service,
		parentID: parentFolderID,
		folders:  make(map[string]string),
	}, nil
}

// Save uploads r as name into the folder dir (slash separated) and returns
// the Drive file id
func (gd *GDriveStorage) Save(ctx context.Context, dir, name string, r io.Reader) (string, error) {
	name, err := safeName(name)
	if err != nil {
		return "", err
	}

	folderID, err := gd.ensureFolderStructure(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("failed to ensure folder structure: %w", err)
	}

	file := &drive.File{
		Name:     name,
		Parents:  []string{folderID},
		MimeType: mimeType(name),
	}

	uploaded, err := gd.service.Files.Create(file).Media(r).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	gd.logger.Debug("file uploaded to Drive",
		"filename", name,
		"id", uploaded.Id)

	return uploaded.Id, nil
}

func (gd *GDriveStorage) ensureFolderStructure(ctx context.Context, dir string) (string, error) {
	dir = path.Clean(filepath.ToSlash(dir))
	if dir == "." || dir == "/" || dir == "" {
		return gd.parentID, nil
	}
	if id, ok := gd.folders[dir]; ok {
		return id, nil
	}

	currentParentID := gd.parentID
	for _, part := range strings.Split(dir, "/") {
		if part == "" {
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
			escapeQuery(part), currentParentID, folderMimeType)

		fileList, err := gd.service.Files.List().Q(query).Fields("files(id)").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to search for folder: %w", err)
		}

		if len(fileList.Files) > 0 {
			currentParentID = fileList.Files[0].Id
			continue
		}

		folder := &drive.File{
			Name:     part,
			MimeType: folderMimeType,
			Parents:  []string{currentParentID},
		}

		created, err := gd.service.Files.Create(folder).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to create folder: %w", err)
		}
		currentParentID = created.Id
	}

	gd.folders[dir] = currentParentID
	return currentParentID, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func mimeType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// MirroredStorage writes locally first and then copies every file to Drive.
// Mirror failures are logged and never fail the save.
type MirroredStorage struct {
	primary Storage
	mirror  *GDriveStorage
	prefix  string
	logger  *slog.Logger
}

// Save writes locally, then uploads the saved file. Upload failures are
// logged and do not fail the save.
func (ms *MirroredStorage) Save(ctx context.Context, dir, name string, r io.Reader) (string, error) {
	finalPath, err := ms.primary.Save(ctx, dir, name, r)
	if err != nil {
		return "", err
	}

	f, err := os.Open(finalPath)
	if err != nil {
		ms.logger.Warn("failed to open file for Drive mirror", "path", finalPath, "error", err)
		return finalPath, nil
	}
	defer f.Close()

	id, err := ms.mirror.Save(ctx, path.Join(ms.prefix, filepath.ToSlash(dir)), filepath.Base(finalPath), f)
	if err != nil {
		ms.logger.Warn("failed to mirror file to Drive", "path", finalPath, "error", err)
		return finalPath, nil
	}

	ms.logger.Info("mirrored file to Drive", "path", finalPath, "drive_id", id)
	return finalPath, nil
}
