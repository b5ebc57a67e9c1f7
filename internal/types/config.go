package types

import "time"

// Config represents one harvesting profile: a mailbox, a designated sender
// and the directory tree fetched files are routed into. The profile file also
// carries the small amount of state that survives between runs.
type Config struct {
	// Meta information for the configuration
	Meta struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description,omitempty"`
		Enabled     bool   `yaml:"enabled"`
		Template    string `yaml:"template,omitempty"` // Name of the template to use
	} `yaml:"meta"`

	// MailFrom is the designated sender whose messages are harvested
	MailFrom string `yaml:"mail_from"`

	Mailbox MailboxConfig `yaml:"mailbox"`

	Labels struct {
		Success      LabelConfig `yaml:"success"`
		Error        LabelConfig `yaml:"error"`
		NoAttachment LabelConfig `yaml:"no_attachment"`
	} `yaml:"labels"`

	Directories struct {
		Main struct {
			Path string `yaml:"path"`
			Name string `yaml:"name"`
		} `yaml:"main"`
		// Store maps a file extension (or "*") to a directory name below Main
		Store             map[string]string `yaml:"store"`
		FoldCase          *bool             `yaml:"fold_case,omitempty"`
		SanitizeFilenames *bool             `yaml:"sanitize_filenames,omitempty"`
	} `yaml:"directories"`

	Links struct {
		URLPrefix string `yaml:"url_prefix"`
		Pattern   string `yaml:"pattern,omitempty"` // overrides url_prefix, two capture groups
		Timeout   int    `yaml:"timeout"`           // seconds
		UserAgent string `yaml:"user_agent,omitempty"`
	} `yaml:"links"`

	Storage struct {
		GDrive struct {
			Enabled         bool   `yaml:"enabled"`
			CredentialsFile string `yaml:"credentials_file"`
			ParentFolderID  string `yaml:"parent_folder_id"`
		} `yaml:"gdrive"`
	} `yaml:"storage"`

	Notifications struct {
		Enabled      *bool  `yaml:"enabled,omitempty"`
		Backend      string `yaml:"backend"` // desktop, log
		Title        string `yaml:"title"`
		Icon         string `yaml:"icon,omitempty"`
		NewFile      string `yaml:"new_file"`
		NoAttachment string `yaml:"no_attachment"`
		Checked      string `yaml:"checked"`
	} `yaml:"notifications"`

	// Run holds the per-run switches and the heartbeat counter persisted
	// across runs
	Run struct {
		Tick        int  `yaml:"tick"`
		NotifyEvery int  `yaml:"notify_every"`
		SetLabels   *bool `yaml:"set_labels,omitempty"` // nil means true
		DownloadAll bool  `yaml:"download_all,omitempty"`
	} `yaml:"run"`

	Journal struct {
		Enabled       *bool  `yaml:"enabled,omitempty"`
		StoragePath   string `yaml:"storage_path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"journal"`

	Logging struct {
		Level         string `yaml:"level"`
		Format        string `yaml:"format"` // text, json, dev
		Output        string `yaml:"output"` // stdout, file, both
		FilePath      string `yaml:"file_path"`
		IncludeCaller bool   `yaml:"include_caller"`
	} `yaml:"logging"`

	Scheduling Scheduling `yaml:"scheduling"`

	// Path is the file the profile was loaded from
	Path string `yaml:"-"`
}

// MailboxConfig selects and configures the message store backend.
type MailboxConfig struct {
	Provider string `yaml:"provider"` // gmail, imap, pop3
	Timeout  int    `yaml:"timeout"`  // seconds

	Gmail struct {
		UserID          string `yaml:"user_id"`
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		Query           string `yaml:"query,omitempty"` // appended to the generated query
	} `yaml:"gmail"`

	IMAP struct {
		Server   string    `yaml:"server"`
		Port     int       `yaml:"port"`
		Username string    `yaml:"username"`
		Password string    `yaml:"password"`
		Folder   string    `yaml:"folder"`
		Auth     string    `yaml:"auth"` // password, xoauth2
		TLS      TLSConfig `yaml:"tls"`

		// Used with auth: xoauth2
		CredentialsFile string `yaml:"credentials_file,omitempty"`
		TokenFile       string `yaml:"token_file,omitempty"`
	} `yaml:"imap"`

	POP3 struct {
		Server   string    `yaml:"server"`
		Port     int       `yaml:"port"`
		Username string    `yaml:"username"`
		Password string    `yaml:"password"`
		TLS      TLSConfig `yaml:"tls"`
	} `yaml:"pop3"`

	// Ledger stores labels locally for providers without server-side labels
	Ledger struct {
		StorageType string `yaml:"storage_type"` // sqlite, file
		StoragePath string `yaml:"storage_path"`
	} `yaml:"ledger"`
}

// TLSConfig controls transport security of a mailbox connection
type TLSConfig struct {
	Enabled    bool `yaml:"enabled"`
	VerifyCert bool `yaml:"verify_cert"`
}

// LabelConfig describes one outcome label. ID is filled in by setup or
// resolved by name at run time.
type LabelConfig struct {
	Name                  string `yaml:"name"`
	ID                    string `yaml:"id"`
	MessageListVisibility string `yaml:"message_list_visibility"`
	LabelListVisibility   string `yaml:"label_list_visibility"`
}

// Scheduling configures the serve mode job of a profile
type Scheduling struct {
	Enabled         bool   `yaml:"enabled"`
	FrequencyEvery  string `yaml:"frequency_every"` // minute, hour, day, week, month
	FrequencyAmount int    `yaml:"frequency_amount"`
	StartNow        bool   `yaml:"start_now"`
	StartAt         string `yaml:"start_at"` // UTC DateTime
	StopAt          string `yaml:"stop_at"`  // UTC DateTime
}

// LinkTimeout returns the HTTP timeout for link downloads.
func (c *Config) LinkTimeout() time.Duration {
	if c.Links.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Links.Timeout) * time.Second
}

// MailboxTimeout returns the timeout for message store connections.
func (c *Config) MailboxTimeout() time.Duration {
	if c.Mailbox.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Mailbox.Timeout) * time.Second
}

// Bool returns a pointer to v, for the optional switches of a profile.
func Bool(v bool) *bool {
	return &v
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// LabelingEnabled reports whether outcome labels are applied; unset means
// true, false is the dry-run mode.
func (c *Config) LabelingEnabled() bool {
	return boolOr(c.Run.SetLabels, true)
}

// NotificationsEnabled reports whether notifications are sent, default false
func (c *Config) NotificationsEnabled() bool {
	return boolOr(c.Notifications.Enabled, false)
}

func (c *Config) JournalEnabled() bool {
	return boolOr(c.Journal.Enabled, false)
}

func (c *Config) FoldCase() bool {
	return boolOr(c.Directories.FoldCase, false)
}

func (c *Config) SanitizeFilenames() bool {
	return boolOr(c.Directories.SanitizeFilenames, false)
}

// Switches returns the optional switches of a profile in a fixed order, so
// template merging can resolve them without treating false as unset.
func (c *Config) Switches() []**bool {
	return []**bool{
		&c.Run.SetLabels,
		&c.Notifications.Enabled,
		&c.Journal.Enabled,
		&c.Directories.FoldCase,
		&c.Directories.SanitizeFilenames,
	}
}
