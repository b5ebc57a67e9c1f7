package errorlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileLogger implements the Logger interface with one JSON file per
// profile and day
type FileLogger struct {
	logger        *slog.Logger
	storagePath   string
	retentionDays int
	mu            sync.Mutex

	now func() time.Time
}

// NewFileLogger creates a new file-based journal
func NewFileLogger(storagePath string, retentionDays int, logger *slog.Logger) (*FileLogger, error) {
	if storagePath == "" {
		return nil, fmt.Errorf("journal storage path cannot be empty")
	}
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	return &FileLogger{
		logger:        logger,
		storagePath:   storagePath,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// LogError appends a harvest error to today's journal file
func (f *FileLogger) LogError(herr HarvestError) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if herr.ID == "" {
		herr.ID = uuid.New().String()
	}
	now := f.now()
	if herr.ErrorTime.IsZero() {
		herr.ErrorTime = now
	}

	filename := fmt.Sprintf("errors_%s_%s.json", herr.ConfigID, now.Format("2006-01-02"))
	filePath := filepath.Join(f.storagePath, filename)

	var entries []HarvestError
	if data, err := os.ReadFile(filePath); err == nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			// Start over rather than lose the new entry
			f.logger.Warn("journal file exists but couldn't be parsed, creating new file",
				"file", filePath,
				"error", err)
			entries = nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read journal file: %w", err)
	}

	entries = append(entries, herr)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write journal file: %w", err)
	}

	f.logger.Debug("journaled harvest error",
		"error_id", herr.ID,
		"message_id", herr.MessageID,
		"error_type", herr.ErrorType,
		"file", filePath)

	return nil
}

// GetErrors retrieves errors from every journal file, filtered by
// config_id, provider, message_id, error_type or reason
func (f *FileLogger) GetErrors(filters map[string]string) ([]HarvestError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := os.ReadDir(f.storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var result []HarvestError
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		filePath := filepath.Join(f.storagePath, file.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			f.logger.Warn("failed to read journal file", "file", filePath, "error", err)
			continue
		}

		var entries []HarvestError
		if err := json.Unmarshal(data, &entries); err != nil {
			f.logger.Warn("failed to parse journal file", "file", filePath, "error", err)
			continue
		}

		for _, e := range entries {
			if matches(e, filters) {
				result = append(result, e)
			}
		}
	}

	return result, nil
}

func matches(e HarvestError, filters map[string]string) bool {
	for key, value := range filters {
		var have string
		switch key {
		case "config_id":
			have = e.ConfigID
		case "provider":
			have = e.Provider
		case "message_id":
			have = e.MessageID
		case "error_type":
			have = e.ErrorType
		case "reason":
			have = e.Reason
		default:
			continue
		}
		if have != value {
			return false
		}
	}
	return true
}

// CleanupOldErrors removes journal files older than the retention period
func (f *FileLogger) CleanupOldErrors() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	retentionDays := f.retentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := f.now().AddDate(0, 0, -retentionDays)

	files, err := os.ReadDir(f.storagePath)
	if err != nil {
		return fmt.Errorf("failed to read journal directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		fileDate, ok := dateFromName(file.Name())
		if !ok {
			info, err := file.Info()
			if err != nil {
				f.logger.Warn("failed to get file info", "file", file.Name(), "error", err)
				continue
			}
			fileDate = info.ModTime()
		}

		if fileDate.Before(cutoff) {
			filePath := filepath.Join(f.storagePath, file.Name())
			if err := os.Remove(filePath); err != nil {
				f.logger.Warn("failed to delete old journal file", "file", filePath, "error", err)
				continue
			}
			f.logger.Debug("deleted old journal file", "file", filePath)
		}
	}

	return nil
}

// dateFromName parses the trailing date of errors_<config>_YYYY-MM-DD.json
func dateFromName(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, ".json")
	if len(base) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", base[len(base)-10:])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (f *FileLogger) Close() error {
	return nil
}
