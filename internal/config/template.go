package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/altafino/fetch-attach/internal/types"
	yaml "gopkg.in/yaml.v3"
)

// Templates holds the shared profile fragments from the templates directory
type Templates struct {
	templates map[string]*types.Config
}

// LoadTemplates loads all template files from templatesDir. A missing
// directory yields an empty set.
func LoadTemplates(templatesDir string) (*Templates, error) {
	tm := &Templates{
		templates: make(map[string]*types.Config),
	}

	entries, err := os.ReadDir(templatesDir)
	if errors.Is(err, os.ErrNotExist) {
		return tm, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		template, err := loadTemplate(filepath.Join(templatesDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s: %w", entry.Name(), err)
		}
		tm.templates[strings.TrimSuffix(entry.Name(), ".yaml")] = template
	}

	return tm, nil
}

func loadTemplate(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	template := &types.Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), template); err != nil {
		return nil, err
	}
	return template, nil
}

// Names returns the loaded template names
func (tm *Templates) Names() []string {
	names := make([]string, 0, len(tm.templates))
	for name := range tm.templates {
		names = append(names, name)
	}
	return names
}

// Apply merges a template under cfg: values set in cfg win. The optional
// switches are resolved separately since mergo treats false as unset.
func (tm *Templates) Apply(cfg *types.Config, name string) error {
	template, exists := tm.templates[name]
	if !exists {
		return fmt.Errorf("template %s not found", name)
	}

	// Work on copies with the switches cleared so mergo never touches them
	tmplCopy, cfgCopy := *template, *cfg
	for _, sw := range tmplCopy.Switches() {
		*sw = nil
	}
	for _, sw := range cfgCopy.Switches() {
		*sw = nil
	}

	base := &types.Config{}
	if err := mergo.Merge(base, &tmplCopy); err != nil {
		return fmt.Errorf("failed to copy template: %w", err)
	}
	if err := mergo.Merge(base, &cfgCopy, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge profile with template: %w", err)
	}

	from, tmplSwitches := cfg.Switches(), template.Switches()
	for i, sw := range base.Switches() {
		switch {
		case *from[i] != nil:
			*sw = types.Bool(**from[i])
		case *tmplSwitches[i] != nil:
			*sw = types.Bool(**tmplSwitches[i])
		}
	}

	*cfg = *base
	return nil
}
