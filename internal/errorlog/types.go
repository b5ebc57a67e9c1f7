package errorlog

import (
	"time"
)

// HarvestError represents a failure recorded during a harvest run
type HarvestError struct {
	ID        string    `json:"id"`
	ConfigID  string    `json:"config_id"`
	RunID     string    `json:"run_id,omitempty"`
	Provider  string    `json:"provider"`
	MessageID string    `json:"message_id,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Target    string    `json:"target,omitempty"` // file name or URL
	ErrorTime time.Time `json:"error_time"`
	ErrorType string    `json:"error_type"` // list_messages, get_message, fetch, label, persist
	Reason    string    `json:"reason,omitempty"`
	ErrorMsg  string    `json:"error_message"`
}

// Logger defines the interface for the failure journal
type Logger interface {
	// LogError records a harvest error
	LogError(err HarvestError) error

	// GetErrors retrieves errors based on filters
	GetErrors(filters map[string]string) ([]HarvestError, error)

	// CleanupOldErrors removes errors older than the retention period
	CleanupOldErrors() error

	Close() error
}
