package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/altafino/fetch-attach/internal/errorlog"
	"github.com/altafino/fetch-attach/internal/harvest"
	"github.com/altafino/fetch-attach/internal/notify"
	"github.com/altafino/fetch-attach/internal/storage"
	"github.com/altafino/fetch-attach/internal/types"
	"github.com/altafino/fetch-attach/internal/validation"
	"github.com/google/uuid"
)

// Runner runs the harvest loop for profiles, one at a time
type Runner struct {
	logger *slog.Logger
	saver  harvest.Saver

	// OpenMailbox defaults to the provider factory
	OpenMailbox MailboxOpener
	// Notifier overrides the notification backend of every profile
	Notifier   notify.Notifier
	HTTPClient *http.Client
	// DryRun leaves messages unlabeled and the profiles unchanged
	DryRun bool
}

// NewRunner creates a runner that persists run state through saver
func NewRunner(saver harvest.Saver, logger *slog.Logger) *Runner {
	return &Runner{
		logger:      logger,
		saver:       saver,
		OpenMailbox: OpenMailbox,
	}
}

// RunProfile performs one harvest pass for cfg
func (r *Runner) RunProfile(ctx context.Context, cfg *types.Config) (*harvest.Report, error) {
	runID := uuid.New().String()
	logger := r.logger.With("config_id", cfg.Meta.ID, "run_id", runID)

	if err := validation.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", cfg.Meta.ID, err)
	}

	saver := r.saver
	if r.DryRun {
		dry := *cfg
		dry.Run.SetLabels = types.Bool(false)
		cfg = &dry
		saver = nil
	}

	mbox, err := r.OpenMailbox(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox: %w", err)
	}
	defer mbox.Close()

	st, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	notifier := r.Notifier
	if notifier == nil {
		if notifier, err = notify.New(cfg.Notifications.Backend, cfg.NotificationsEnabled(), logger); err != nil {
			return nil, err
		}
	}

	journal, err := errorlog.NewManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open failure journal: %w", err)
	}
	defer journal.Close()
	if err := journal.CleanupOldErrors(); err != nil {
		logger.Warn("failed to clean up failure journal", "error", err)
	}

	h, err := harvest.New(cfg, mbox, st, notifier, logger, harvest.Options{
		HTTPClient: r.HTTPClient,
		Journal:    journal,
		Saver:      saver,
		RunID:      runID,
	})
	if err != nil {
		return nil, err
	}
	return h.Run(ctx)
}

// RunAll runs every given profile, even after one fails. The returned error
// joins the failures.
func (r *Runner) RunAll(ctx context.Context, cfgs []*types.Config) error {
	r.logger.Info("started", "profiles", len(cfgs), "dry_run", r.DryRun)

	var errs []error
	for _, cfg := range cfgs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		report, err := r.RunProfile(ctx, cfg)
		if err != nil {
			r.logger.Error("profile run failed", "config_id", cfg.Meta.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cfg.Meta.ID, err))
			continue
		}
		r.logger.Info("profile run completed",
			"config_id", cfg.Meta.ID,
			"run_id", report.RunID,
			"processed", report.Processed,
			"files", len(report.Files))
	}

	r.logger.Info("finished", "profiles", len(cfgs), "failed", len(errs))
	return errors.Join(errs...)
}
