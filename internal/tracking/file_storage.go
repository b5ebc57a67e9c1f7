package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// FileStorage implements the Storage interface using a JSON file
type FileStorage struct {
	basePath    string
	recordsPath string
	mu          sync.RWMutex
	initialized bool
}

// NewFileStorage creates a new file-based storage
func NewFileStorage(basePath string) (*FileStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	return &FileStorage{
		basePath:    basePath,
		recordsPath: filepath.Join(basePath, "label_ledger.json"),
	}, nil
}

// Initialize prepares the storage for use
func (fs *FileStorage) Initialize() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Create storage directory if it doesn't exist
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	// Create records file if it doesn't exist
	if _, err := os.Stat(fs.recordsPath); os.IsNotExist(err) {
		if err := fs.saveRecords([]LabelRecord{}); err != nil {
			return fmt.Errorf("failed to create records file: %w", err)
		}
	}

	fs.initialized = true
	return nil
}

// Close cleans up any resources
func (fs *FileStorage) Close() error {
	return nil
}

// AddLabel records a label unless it is already recorded
func (fs *FileStorage) AddLabel(ctx context.Context, account, messageID, labelID string) error {
	if !fs.initialized {
		return ErrStorageNotInitialized
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Load existing records
	records, err := fs.loadRecordsLocked()
	if err != nil {
		return err
	}

	// Check if already recorded
	for _, r := range records {
		if r.Account == account && r.MessageID == messageID && r.LabelID == labelID {
			return nil
		}
	}

	// Add new record
	records = append(records, LabelRecord{
		Account:   account,
		MessageID: messageID,
		LabelID:   labelID,
		AppliedAt: time.Now().UTC(),
	})
	return fs.saveRecords(records)
}

// Labels returns the labels recorded for a message
func (fs *FileStorage) Labels(ctx context.Context, account, messageID string) ([]string, error) {
	if !fs.initialized {
		return nil, ErrStorageNotInitialized
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	records, err := fs.loadRecordsLocked()
	if err != nil {
		return nil, err
	}

	var labels []string
	for _, r := range records {
		if r.Account == account && r.MessageID == messageID {
			labels = append(labels, r.LabelID)
		}
	}
	return labels, nil
}

// LabelIDs returns the sorted distinct label ids of an account
func (fs *FileStorage) LabelIDs(ctx context.Context, account string) ([]string, error) {
	if !fs.initialized {
		return nil, ErrStorageNotInitialized
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	records, err := fs.loadRecordsLocked()
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, r := range records {
		if r.Account == account && !slices.Contains(ids, r.LabelID) {
			ids = append(ids, r.LabelID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// RemoveLabel drops a label from every message of an account
func (fs *FileStorage) RemoveLabel(ctx context.Context, account, labelID string) error {
	if !fs.initialized {
		return ErrStorageNotInitialized
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	records, err := fs.loadRecordsLocked()
	if err != nil {
		return err
	}

	records = slices.DeleteFunc(records, func(r LabelRecord) bool {
		return r.Account == account && r.LabelID == labelID
	})
	return fs.saveRecords(records)
}

// loadRecordsLocked loads all records from the file (assumes lock is held)
func (fs *FileStorage) loadRecordsLocked() ([]LabelRecord, error) {
	data, err := os.ReadFile(fs.recordsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}

	if len(data) == 0 {
		return []LabelRecord{}, nil
	}

	var records []LabelRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records file: %w", err)
	}

	return records, nil
}

// saveRecords replaces the records file atomically
func (fs *FileStorage) saveRecords(records []LabelRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize records: %w", err)
	}

	// Write to a temp file and rename over the old one
	tmp := fs.recordsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}
	if err := os.Rename(tmp, fs.recordsPath); err != nil {
		return fmt.Errorf("failed to replace records file: %w", err)
	}

	return nil
}
