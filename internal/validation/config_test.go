package validation

import (
	"errors"
	"testing"

	"github.com/altafino/fetch-attach/internal/types"
)

func validConfig() *types.Config {
	cfg := &types.Config{}
	cfg.Meta.ID = "usos"
	cfg.MailFrom = "usos@example.edu"
	cfg.Mailbox.Provider = "gmail"
	cfg.Mailbox.Gmail.CredentialsFile = "credentials.json"
	cfg.Mailbox.Gmail.TokenFile = "token.json"
	cfg.Labels.Success.Name = "Downloaded"
	cfg.Labels.Error.Name = "Download error"
	cfg.Labels.NoAttachment.Name = "No attachment"
	cfg.Directories.Main.Path = "/home/student"
	cfg.Directories.Main.Name = "Uni"
	cfg.Directories.Store = map[string]string{"pdf": "Pdf", "*": "Other"}
	cfg.Run.NotifyEvery = 10
	return cfg
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*types.Config)
		field  string
	}{
		{"valid", func(*types.Config) {}, ""},
		{"missing id", func(c *types.Config) { c.Meta.ID = "" }, "meta.id"},
		{"bad id", func(c *types.Config) { c.Meta.ID = "a b" }, "meta.id"},
		{"missing sender", func(c *types.Config) { c.MailFrom = "" }, "mail_from"},
		{"bad sender", func(c *types.Config) { c.MailFrom = "not an address" }, "mail_from"},
		{"unknown provider", func(c *types.Config) { c.Mailbox.Provider = "exchange" }, "mailbox.provider"},
		{"gmail without token", func(c *types.Config) { c.Mailbox.Gmail.TokenFile = "" }, "mailbox.gmail.token_file"},
		{"imap without port", func(c *types.Config) {
			c.Mailbox.Provider = "imap"
			c.Mailbox.IMAP.Server = "imap.example.edu"
		}, "mailbox.imap.port"},
		{"imap bad auth", func(c *types.Config) {
			c.Mailbox.Provider = "imap"
			c.Mailbox.IMAP.Server = "imap.example.edu"
			c.Mailbox.IMAP.Port = 993
			c.Mailbox.IMAP.Username = "student"
			c.Mailbox.IMAP.Auth = "kerberos"
		}, "mailbox.imap.auth"},
		{"pop3 without ledger path", func(c *types.Config) {
			c.Mailbox.Provider = "pop3"
			c.Mailbox.POP3.Server = "pop.example.edu"
			c.Mailbox.POP3.Port = 995
			c.Mailbox.POP3.Username = "student"
			c.Mailbox.POP3.Password = "secret"
			c.Mailbox.Ledger.StorageType = "sqlite"
		}, "mailbox.ledger.storage_path"},
		{"missing label name", func(c *types.Config) { c.Labels.Error.Name = "" }, "labels.error.name"},
		{"duplicate label name", func(c *types.Config) { c.Labels.NoAttachment.Name = "Downloaded" }, "labels.no_attachment.name"},
		{"bad visibility", func(c *types.Config) { c.Labels.Success.MessageListVisibility = "maybe" }, "labels.success.message_list_visibility"},
		{"relative main path", func(c *types.Config) { c.Directories.Main.Path = "home" }, "directories.main.path"},
		{"no wildcard", func(c *types.Config) { delete(c.Directories.Store, "*") }, "directories.store"},
		{"escaping dir", func(c *types.Config) { c.Directories.Store["zip"] = "../outside" }, "directories.store.zip"},
		{"pattern one group", func(c *types.Config) { c.Links.Pattern = `"(https://.*?)"` }, "links.pattern"},
		{"notify_every zero", func(c *types.Config) { c.Run.NotifyEvery = 0 }, "run.notify_every"},
		{"journal without path", func(c *types.Config) {
			c.Journal.Enabled = types.Bool(true)
			c.Journal.RetentionDays = 7
		}, "journal.storage_path"},
		{"log file without path", func(c *types.Config) { c.Logging.Output = "both" }, "logging.file_path"},
		{"schedule bad frequency", func(c *types.Config) {
			c.Scheduling.Enabled = true
			c.Scheduling.FrequencyEvery = "fortnight"
		}, "scheduling.frequency_every"},
		{"schedule too often", func(c *types.Config) {
			c.Scheduling.Enabled = true
			c.Scheduling.FrequencyEvery = "hour"
			c.Scheduling.FrequencyAmount = 25
			c.Scheduling.StartNow = true
		}, "scheduling.frequency_amount"},
		{"schedule stop before start", func(c *types.Config) {
			c.Scheduling.Enabled = true
			c.Scheduling.FrequencyEvery = "minute"
			c.Scheduling.FrequencyAmount = 5
			c.Scheduling.StartAt = "2025-01-02T00:00:00Z"
			c.Scheduling.StopAt = "2025-01-01T00:00:00Z"
		}, "scheduling.stop_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := ValidateConfig(cfg)

			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q (%v)", ce.Field, tt.field, err)
			}
		})
	}
}
