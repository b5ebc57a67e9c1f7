package errorlog

import (
	"log/slog"

	"github.com/altafino/fetch-attach/internal/types"
)

// Manager handles the failure journal of one profile
type Manager struct {
	cfg    *types.Config
	logger *slog.Logger
	impl   Logger
}

// NewManager creates a new journal manager
func NewManager(cfg *types.Config, logger *slog.Logger) (*Manager, error) {
	if !cfg.JournalEnabled() {
		logger.Debug("failure journal is disabled")
		return &Manager{
			cfg:    cfg,
			logger: logger,
			impl:   noopLogger{},
		}, nil
	}

	impl, err := NewFileLogger(cfg.Journal.StoragePath, cfg.Journal.RetentionDays, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:    cfg,
		logger: logger,
		impl:   impl,
	}, nil
}

// LogError records a harvest error
func (m *Manager) LogError(err HarvestError) error {
	if err.ConfigID == "" {
		err.ConfigID = m.cfg.Meta.ID
	}
	if err.Provider == "" {
		err.Provider = m.cfg.Mailbox.Provider
	}

	m.logger.Debug("journaling harvest error",
		"error_type", err.ErrorType,
		"message_id", err.MessageID,
		"reason", err.Reason)

	return m.impl.LogError(err)
}

// GetErrors retrieves errors based on filters
func (m *Manager) GetErrors(filters map[string]string) ([]HarvestError, error) {
	return m.impl.GetErrors(filters)
}

// CleanupOldErrors removes errors older than the retention period
func (m *Manager) CleanupOldErrors() error {
	return m.impl.CleanupOldErrors()
}

// Close releases any resources used by the journal
func (m *Manager) Close() error {
	return m.impl.Close()
}

// noopLogger is used when the journal is disabled
type noopLogger struct{}

func (noopLogger) LogError(err HarvestError) error                             { return nil }
func (noopLogger) GetErrors(filters map[string]string) ([]HarvestError, error) { return nil, nil }
func (noopLogger) CleanupOldErrors() error                                     { return nil }
func (noopLogger) Close() error                                                { return nil }
