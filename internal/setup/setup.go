// Package setup performs the one-time provisioning of a profile: outcome
// labels in the mailbox and the directory tree on disk. Label ids are written
// back into the profile file.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/altafino/fetch-attach/internal/harvest"
	"github.com/altafino/fetch-attach/internal/mailstore"
	"github.com/altafino/fetch-attach/internal/storage"
	"github.com/altafino/fetch-attach/internal/types"
)

// Action says what happened to one outcome label
type Action string

const (
	ActionReused    Action = "reused"
	ActionRecreated Action = "recreated"
	ActionCreated   Action = "created"
)

// LabelResult describes one provisioned label
type LabelResult struct {
	Key    string // success, error, no_attachment
	Name   string
	ID     string
	Action Action
}

// Result summarizes a setup run
type Result struct {
	Labels []LabelResult
	Dirs   []string
}

// Saver persists the label ids
type Saver interface {
	Save(cfg *types.Config) error
}

// Run provisions the labels and directories of cfg and saves the profile.
func Run(ctx context.Context, store mailstore.Store, cfg *types.Config, saver Saver, logger *slog.Logger) (*Result, error) {
	logger = logger.With("config_id", cfg.Meta.ID)

	labels, err := ProvisionLabels(ctx, store, cfg, logger)
	if err != nil {
		return nil, err
	}

	dirs, err := CreateDirectories(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("created directory tree", "root", storage.Root(cfg), "dirs", len(dirs))

	if saver != nil {
		if err := saver.Save(cfg); err != nil {
			return nil, fmt.Errorf("failed to save label ids: %w", err)
		}
	}

	return &Result{Labels: labels, Dirs: dirs}, nil
}

// ProvisionLabels makes sure the three outcome labels exist with the
// configured visibility and records their ids in cfg. A label with the same
// name is reused when its visibility matches and recreated when it does not.
func ProvisionLabels(ctx context.Context, store mailstore.Store, cfg *types.Config, logger *slog.Logger) ([]LabelResult, error) {
	existing, err := store.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}

	targets := []struct {
		key string
		lc  *types.LabelConfig
	}{
		{"success", &cfg.Labels.Success},
		{"error", &cfg.Labels.Error},
		{"no_attachment", &cfg.Labels.NoAttachment},
	}

	results := make([]LabelResult, 0, len(targets))
	for _, t := range targets {
		spec := mailstore.LabelSpec{
			Name:                  t.lc.Name,
			MessageListVisibility: t.lc.MessageListVisibility,
			LabelListVisibility:   t.lc.LabelListVisibility,
		}

		action := ActionCreated
		var label mailstore.Label
		found, ok := findLabel(existing, spec.Name)
		switch {
		case ok && visibilityMatches(found, spec):
			label = found
			action = ActionReused
		case ok:
			if err := store.DeleteLabel(ctx, found.ID); err != nil {
				return nil, fmt.Errorf("failed to delete label %q: %w", spec.Name, err)
			}
			action = ActionRecreated
			fallthrough
		default:
			label, err = store.CreateLabel(ctx, spec)
			if err != nil {
				return nil, fmt.Errorf("failed to create label %q: %w", spec.Name, err)
			}
		}

		t.lc.ID = label.ID
		logger.Info("provisioned label", "label", t.key, "name", spec.Name, "id", label.ID, "action", string(action))
		results = append(results, LabelResult{Key: t.key, Name: spec.Name, ID: label.ID, Action: action})
	}
	return results, nil
}

func findLabel(labels []mailstore.Label, name string) (mailstore.Label, bool) {
	for _, l := range labels {
		if l.Name == name {
			return l, true
		}
	}
	return mailstore.Label{}, false
}

// visibilityMatches compares the visibility of an existing label with the
// wanted one. Providers without visibility (IMAP keywords, the POP3 ledger)
// report none and always match, as does an unset wanted value.
func visibilityMatches(l mailstore.Label, spec mailstore.LabelSpec) bool {
	if l.MessageListVisibility == "" && l.LabelListVisibility == "" {
		return true
	}
	if spec.MessageListVisibility != "" && spec.MessageListVisibility != l.MessageListVisibility {
		return false
	}
	if spec.LabelListVisibility != "" && spec.LabelListVisibility != l.LabelListVisibility {
		return false
	}
	return true
}

// CreateDirectories creates the main directory and one directory per
// distinct store entry. It returns the created paths.
func CreateDirectories(cfg *types.Config) ([]string, error) {
	router, err := harvest.NewRouter(cfg.Directories.Store, cfg.FoldCase())
	if err != nil {
		return nil, err
	}

	root := storage.Root(cfg)
	dirs := []string{root}
	for _, d := range router.Dirs() {
		dirs = append(dirs, filepath.Join(root, d))
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return dirs, nil
}
