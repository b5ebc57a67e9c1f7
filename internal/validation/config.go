package validation

import (
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/altafino/fetch-attach/internal/harvest"
	"github.com/altafino/fetch-attach/internal/types"
)

// ConfigError reports an invalid profile field
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Msg
}

func fieldErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ValidateConfig performs validation on a single profile. Validation errors
// are fatal to that profile only.
func ValidateConfig(cfg *types.Config) error {
	checks := []func(*types.Config) error{
		validateMeta,
		validateSender,
		validateMailbox,
		validateLabels,
		validateDirectories,
		validateLinks,
		validateNotifications,
		validateRun,
		validateJournal,
		validateLogging,
		validateScheduling,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateMeta(cfg *types.Config) error {
	if cfg.Meta.ID == "" {
		return fieldErr("meta.id", "is required")
	}
	if !isValidID(cfg.Meta.ID) {
		return fieldErr("meta.id", "contains invalid characters (use only alphanumeric, dash, underscore)")
	}
	return nil
}

func validateSender(cfg *types.Config) error {
	if cfg.MailFrom == "" {
		return fieldErr("mail_from", "is required")
	}
	if _, err := mail.ParseAddress(cfg.MailFrom); err != nil {
		return fieldErr("mail_from", "%q is not an email address", cfg.MailFrom)
	}
	return nil
}

func validateMailbox(cfg *types.Config) error {
	mb := cfg.Mailbox
	switch mb.Provider {
	case "gmail":
		if mb.Gmail.CredentialsFile == "" {
			return fieldErr("mailbox.gmail.credentials_file", "is required")
		}
		if mb.Gmail.TokenFile == "" {
			return fieldErr("mailbox.gmail.token_file", "is required")
		}
	case "imap":
		if mb.IMAP.Server == "" {
			return fieldErr("mailbox.imap.server", "is required")
		}
		if err := validatePort("mailbox.imap.port", mb.IMAP.Port); err != nil {
			return err
		}
		if mb.IMAP.Username == "" {
			return fieldErr("mailbox.imap.username", "is required")
		}
		switch mb.IMAP.Auth {
		case "", "password":
			if mb.IMAP.Password == "" {
				return fieldErr("mailbox.imap.password", "is required for password auth")
			}
		case "xoauth2":
			if mb.IMAP.CredentialsFile == "" || mb.IMAP.TokenFile == "" {
				return fieldErr("mailbox.imap", "credentials_file and token_file are required for xoauth2 auth")
			}
		default:
			return fieldErr("mailbox.imap.auth", "must be one of: password, xoauth2")
		}
	case "pop3":
		if mb.POP3.Server == "" {
			return fieldErr("mailbox.pop3.server", "is required")
		}
		if err := validatePort("mailbox.pop3.port", mb.POP3.Port); err != nil {
			return err
		}
		if mb.POP3.Username == "" || mb.POP3.Password == "" {
			return fieldErr("mailbox.pop3", "username and password are required")
		}
		switch mb.Ledger.StorageType {
		case "sqlite", "file":
		default:
			return fieldErr("mailbox.ledger.storage_type", "must be 'sqlite' or 'file'")
		}
		if mb.Ledger.StoragePath == "" {
			return fieldErr("mailbox.ledger.storage_path", "is required for pop3")
		}
	default:
		return fieldErr("mailbox.provider", "must be one of: gmail, imap, pop3")
	}

	if mb.Timeout < 0 {
		return fieldErr("mailbox.timeout", "must not be negative")
	}
	return nil
}

func validatePort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return fieldErr(field, "must be between 1 and 65535")
	}
	return nil
}

func validateLabels(cfg *types.Config) error {
	labels := []struct {
		field string
		lc    types.LabelConfig
	}{
		{"labels.success", cfg.Labels.Success},
		{"labels.error", cfg.Labels.Error},
		{"labels.no_attachment", cfg.Labels.NoAttachment},
	}

	seen := make(map[string]string)
	for _, l := range labels {
		if l.lc.Name == "" {
			return fieldErr(l.field+".name", "is required")
		}
		if other, dup := seen[l.lc.Name]; dup {
			return fieldErr(l.field+".name", "%q is already used by %s", l.lc.Name, other)
		}
		seen[l.lc.Name] = l.field

		switch l.lc.MessageListVisibility {
		case "", "show", "hide":
		default:
			return fieldErr(l.field+".message_list_visibility", "must be 'show' or 'hide'")
		}
		switch l.lc.LabelListVisibility {
		case "", "labelShow", "labelShowIfUnread", "labelHide":
		default:
			return fieldErr(l.field+".label_list_visibility", "must be one of: labelShow, labelShowIfUnread, labelHide")
		}
	}
	return nil
}

func validateDirectories(cfg *types.Config) error {
	d := cfg.Directories
	if d.Main.Path == "" {
		return fieldErr("directories.main.path", "is required")
	}
	if !filepath.IsAbs(d.Main.Path) {
		return fieldErr("directories.main.path", "must be absolute")
	}
	if d.Main.Name == "" {
		return fieldErr("directories.main.name", "is required")
	}
	if _, ok := d.Store[harvest.Wildcard]; !ok {
		return fieldErr("directories.store", "must contain the %q entry", harvest.Wildcard)
	}
	for ext, dir := range d.Store {
		if dir == "" {
			return fieldErr("directories.store."+ext, "directory name is empty")
		}
		if filepath.IsAbs(dir) || strings.Contains(filepath.ToSlash(filepath.Clean(dir)), "..") {
			return fieldErr("directories.store."+ext, "%q must stay below the main directory", dir)
		}
	}
	return nil
}

func validateLinks(cfg *types.Config) error {
	if _, err := harvest.LinkPattern(cfg.Links.URLPrefix, cfg.Links.Pattern); err != nil {
		return fieldErr("links.pattern", "%v", err)
	}
	if cfg.Links.Timeout < 0 {
		return fieldErr("links.timeout", "must not be negative")
	}
	return nil
}

func validateNotifications(cfg *types.Config) error {
	if !cfg.NotificationsEnabled() {
		return nil
	}
	switch cfg.Notifications.Backend {
	case "", "desktop", "log", "none":
	default:
		return fieldErr("notifications.backend", "must be one of: desktop, log, none")
	}
	return nil
}

func validateRun(cfg *types.Config) error {
	if cfg.Run.NotifyEvery < 1 {
		return fieldErr("run.notify_every", "must be at least 1")
	}
	if cfg.Run.Tick < 0 {
		return fieldErr("run.tick", "must not be negative")
	}
	return nil
}

func validateJournal(cfg *types.Config) error {
	if !cfg.JournalEnabled() {
		return nil
	}
	if cfg.Journal.StoragePath == "" {
		return fieldErr("journal.storage_path", "is required when the journal is enabled")
	}
	if cfg.Journal.RetentionDays <= 0 {
		return fieldErr("journal.retention_days", "must be positive")
	}
	return nil
}

func validateLogging(cfg *types.Config) error {
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fieldErr("logging.level", "must be one of: debug, info, warn, error")
	}

	switch cfg.Logging.Format {
	case "", "text", "json", "dev":
	default:
		return fieldErr("logging.format", "must be one of: text, json, dev")
	}

	switch cfg.Logging.Output {
	case "", "stdout":
	case "file", "both":
		if cfg.Logging.FilePath == "" {
			return fieldErr("logging.file_path", "is required when output is %q", cfg.Logging.Output)
		}
	default:
		return fieldErr("logging.output", "must be one of: stdout, file, both")
	}
	return nil
}

func validateScheduling(cfg *types.Config) error {
	s := cfg.Scheduling
	if !s.Enabled {
		return nil
	}

	limits := map[string]int{
		"minute": 60,
		"hour":   24,
		"day":    31,
		"week":   52,
		"month":  12,
	}
	limit, ok := limits[s.FrequencyEvery]
	if !ok {
		return fieldErr("scheduling.frequency_every", "must be one of: minute, hour, day, week, month")
	}
	if s.FrequencyAmount < 1 {
		return fieldErr("scheduling.frequency_amount", "must be greater than 0")
	}
	if s.FrequencyAmount > limit {
		return fieldErr("scheduling.frequency_amount", "must not exceed %d for %s frequency", limit, s.FrequencyEvery)
	}

	var startAt time.Time
	if !s.StartNow {
		if s.StartAt == "" {
			return fieldErr("scheduling.start_at", "is required when start_now is false")
		}
		var err error
		if startAt, err = time.Parse(time.RFC3339, s.StartAt); err != nil {
			return fieldErr("scheduling.start_at", "must be in RFC3339 format (e.g., 2006-01-02T15:04:05Z)")
		}
	}

	if s.StopAt != "" {
		stopAt, err := time.Parse(time.RFC3339, s.StopAt)
		if err != nil {
			return fieldErr("scheduling.stop_at", "must be in RFC3339 format (e.g., 2006-01-02T15:04:05Z)")
		}
		if !startAt.IsZero() && stopAt.Before(startAt) {
			return fieldErr("scheduling.stop_at", "must be after start_at")
		}
	}
	return nil
}

func isValidID(id string) bool {
	for _, r := range id {
		if !isValidIDChar(r) {
			return false
		}
	}
	return true
}

func isValidIDChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' ||
		r == '_'
}
