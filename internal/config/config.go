package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/altafino/fetch-attach/internal/types"
	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// ProfileSuffix marks the files in the config directory that hold profiles
const ProfileSuffix = ".profile.yaml"

// Store holds every profile loaded from a config directory
type Store struct {
	mu        sync.RWMutex
	dir       string
	configs   map[string]*types.Config // map[id]*Config
	templates *Templates
	logger    *slog.Logger
}

// Load reads the .env file (if any), the templates directory and every
// *.profile.yaml file in configDir.
func Load(configDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{dir: configDir, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rereads the config directory. The previous profiles stay in place
// when loading fails.
func (s *Store) Reload() error {
	envFile := filepath.Join(s.dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		// Existing environment variables win over .env
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	templates, err := LoadTemplates(filepath.Join(s.dir, "templates"))
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read config directory: %w", err)
	}

	configs := make(map[string]*types.Config)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ProfileSuffix) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		cfg, err := loadProfile(path, templates)
		if err != nil {
			return fmt.Errorf("failed to load profile %s: %w", entry.Name(), err)
		}

		if cfg.Meta.ID == "" {
			return fmt.Errorf("profile %s missing required meta.id field", entry.Name())
		}
		if prev, exists := configs[cfg.Meta.ID]; exists {
			return fmt.Errorf("duplicate profile ID %s in %s and %s", cfg.Meta.ID, filepath.Base(prev.Path), entry.Name())
		}
		configs[cfg.Meta.ID] = cfg

		s.logger.Debug("loaded profile",
			"id", cfg.Meta.ID,
			"provider", cfg.Mailbox.Provider,
			"mail_from", cfg.MailFrom,
			"enabled", cfg.Meta.Enabled)
	}

	s.mu.Lock()
	s.configs = configs
	s.templates = templates
	s.mu.Unlock()
	return nil
}

// LoadProfile reads a single profile file, without templates.
func LoadProfile(path string) (*types.Config, error) {
	return loadProfile(path, nil)
}

func loadProfile(path string, templates *Templates) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &types.Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}

	if cfg.Meta.Template != "" {
		if templates == nil {
			return nil, fmt.Errorf("template %s requested but no templates loaded", cfg.Meta.Template)
		}
		if err := templates.Apply(cfg, cfg.Meta.Template); err != nil {
			return nil, err
		}
	}

	ApplyDefaults(cfg)
	cfg.Path = path
	return cfg, nil
}

// ApplyDefaults fills in the optional settings a profile may leave out
func ApplyDefaults(cfg *types.Config) {
	if cfg.Run.SetLabels == nil {
		cfg.Run.SetLabels = types.Bool(true)
	}
	if cfg.Mailbox.Provider == "" {
		cfg.Mailbox.Provider = "gmail"
	}
	if cfg.Mailbox.Gmail.UserID == "" {
		cfg.Mailbox.Gmail.UserID = "me"
	}
	if cfg.Mailbox.IMAP.Folder == "" {
		cfg.Mailbox.IMAP.Folder = "INBOX"
	}
	if cfg.Mailbox.Ledger.StorageType == "" {
		cfg.Mailbox.Ledger.StorageType = "sqlite"
	}
	if cfg.Notifications.Title == "" {
		cfg.Notifications.Title = "fetch-attach"
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Dir returns the directory the store was loaded from
func (s *Store) Dir() string {
	return s.dir
}

// Get retrieves a profile by ID
func (s *Store) Get(id string) (*types.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.configs[id]
	if !exists {
		return nil, fmt.Errorf("profile with ID %s not found", id)
	}
	return cfg, nil
}

// List returns every profile ordered by ID
func (s *Store) List() []*types.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]*types.Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Meta.ID < configs[j].Meta.ID })
	return configs
}

// Enabled returns only enabled profiles, ordered by ID
func (s *Store) Enabled() []*types.Config {
	var configs []*types.Config
	for _, cfg := range s.List() {
		if cfg.Meta.Enabled {
			configs = append(configs, cfg)
		}
	}
	return configs
}

// Save writes the run state of cfg (heartbeat tick and label ids) back into
// the profile file it was loaded from. Everything else in the file, including
// ${ENV} references and comments, is left as written.
func (s *Store) Save(cfg *types.Config) error {
	return Save(cfg)
}

// Save is the store-less form of Store.Save
func Save(cfg *types.Config) error {
	if cfg.Path == "" {
		return errors.New("profile has no file path")
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse profile: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("profile %s is not a mapping", cfg.Path)
	}
	root := doc.Content[0]

	setScalar(root, "!!int", fmt.Sprint(cfg.Run.Tick), "run", "tick")
	labels := []struct {
		key string
		lc  types.LabelConfig
	}{
		{"success", cfg.Labels.Success},
		{"error", cfg.Labels.Error},
		{"no_attachment", cfg.Labels.NoAttachment},
	}
	for _, l := range labels {
		if l.lc.ID == "" {
			continue
		}
		setScalar(root, "!!str", l.lc.ID, "labels", l.key, "id")
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return writeFileAtomic(cfg.Path, out)
}

// setScalar sets the scalar at path below a mapping node, creating the
// intermediate mappings that are missing
func setScalar(node *yaml.Node, tag, value string, path ...string) {
	for i, key := range path {
		last := i == len(path)-1

		var child *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == key {
				child = node.Content[j+1]
				break
			}
		}

		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
				child)
		}

		if last {
			child.Kind = yaml.ScalarNode
			child.Tag = tag
			child.Value = value
			child.Style = 0
			child.Content = nil
			return
		}

		if child.Kind != yaml.MappingNode {
			// a null or scalar placeholder, e.g. "labels:" with nothing below
			child.Kind = yaml.MappingNode
			child.Tag = "!!map"
			child.Value = ""
			child.Content = nil
		}
		node = child
	}
}

func writeFileAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace profile: %w", err)
	}
	return nil
}
