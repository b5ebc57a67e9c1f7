package tracking

import (
	"context"
	"errors"
	"time"
)

// LabelRecord records one label applied to one message of one account.
type LabelRecord struct {
	Account   string    `json:"account" db:"account"`
	MessageID string    `json:"message_id" db:"message_id"`
	LabelID   string    `json:"label_id" db:"label_id"`
	AppliedAt time.Time `json:"applied_at" db:"applied_at"`
}

// Storage is a local label ledger for mailboxes without server side labels.
// Adding a label that is already recorded is a no-op.
type Storage interface {
	// Initialize prepares the storage for use
	Initialize() error

	// Close cleans up any resources used by the storage
	Close() error

	// AddLabel records labelID on a message
	AddLabel(ctx context.Context, account, messageID, labelID string) error

	// Labels returns the label ids recorded for a message
	Labels(ctx context.Context, account, messageID string) ([]string, error)

	// LabelIDs returns every distinct label id recorded for the account
	LabelIDs(ctx context.Context, account string) ([]string, error)

	// RemoveLabel drops labelID from every message of the account
	RemoveLabel(ctx context.Context, account, labelID string) error
}

// NewStorage creates a new storage implementation based on the specified type
func NewStorage(storageType, storagePath string) (Storage, error) {
	switch storageType {
	case "file":
		return NewFileStorage(storagePath)
	case "sqlite", "":
		return NewSQLiteStorage(storagePath)
	default:
		return nil, ErrUnsupportedStorageType
	}
}

// Common errors
var (
	ErrUnsupportedStorageType = errors.New("unsupported storage type")
	ErrStorageNotInitialized  = errors.New("storage not initialized")
)
