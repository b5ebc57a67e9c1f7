package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS message_labels (
	account    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	label_id   TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL,
	PRIMARY KEY (account, message_id, label_id)
)`

// SQLiteStorage implements the Storage interface on a local SQLite database
type SQLiteStorage struct {
	dbPath string
	db     *sqlx.DB
}

// NewSQLiteStorage creates a SQLite ledger. A directory path gets a
// label_ledger.db file inside it.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path cannot be empty")
	}
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, "label_ledger.db")
	}
	return &SQLiteStorage{dbPath: path}, nil
}

// Initialize opens the database and creates the ledger table
func (s *SQLiteStorage) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddLabel records a label; duplicates are ignored by the primary key
func (s *SQLiteStorage) AddLabel(ctx context.Context, account, messageID, labelID string) error {
	if s.db == nil {
		return ErrStorageNotInitialized
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_labels (account, message_id, label_id, applied_at)
		VALUES (?, ?, ?, ?)`,
		account, messageID, labelID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting label: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Labels(ctx context.Context, account, messageID string) ([]string, error) {
	if s.db == nil {
		return nil, ErrStorageNotInitialized
	}
	var labels []string
	err := s.db.SelectContext(ctx, &labels,
		"SELECT label_id FROM message_labels WHERE account = ? AND message_id = ? ORDER BY applied_at",
		account, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying labels: %w", err)
	}
	return labels, nil
}

func (s *SQLiteStorage) LabelIDs(ctx context.Context, account string) ([]string, error) {
	if s.db == nil {
		return nil, ErrStorageNotInitialized
	}
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT DISTINCT label_id FROM message_labels WHERE account = ? ORDER BY label_id",
		account)
	if err != nil {
		return nil, fmt.Errorf("querying label ids: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStorage) RemoveLabel(ctx context.Context, account, labelID string) error {
	if s.db == nil {
		return ErrStorageNotInitialized
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM message_labels WHERE account = ? AND label_id = ?",
		account, labelID)
	if err != nil {
		return fmt.Errorf("deleting label: %w", err)
	}
	return nil
}
