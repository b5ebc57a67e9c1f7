package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/altafino/fetch-attach/internal/app"
	"github.com/altafino/fetch-attach/internal/setup"
	"github.com/spf13/cobra"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the outcome labels and the directory tree",
		Long: `Create the success, error and no-attachment labels in the mailbox, create
the directory tree and record the label ids in each profile file. Safe to run
again: matching labels are reused.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, profiles, err := loadProfiles(bootstrapLogger())
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(profiles)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := context.Background()
			var errs []error
			for _, cfg := range profiles {
				mbox, err := app.OpenMailbox(ctx, cfg, logger)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", cfg.Meta.ID, err))
					continue
				}

				res, err := setup.Run(ctx, mbox, cfg, store, logger)
				mbox.Close()
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", cfg.Meta.ID, err))
					continue
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", cfg.Meta.ID)
				for _, l := range res.Labels {
					fmt.Fprintf(cmd.OutOrStdout(), "  label %-14s %-24q %s (%s)\n", l.Key, l.Name, l.ID, l.Action)
				}
				for _, d := range res.Dirs {
					fmt.Fprintf(cmd.OutOrStdout(), "  dir   %s\n", d)
				}
			}
			return errors.Join(errs...)
		},
	}
}
