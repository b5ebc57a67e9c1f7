package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/altafino/fetch-attach/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one harvest pass over every enabled profile",
		Long: `Run one harvest pass over every enabled profile and exit. Meant to be
started by cron or a systemd timer. Exits non-zero if any profile failed.`,
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := app.NewRunner(store, logger)
			runner.DryRun = viper.GetBool("dry_run")
			return runner.RunAll(ctx, profiles)
		},
	}

	cmd.Flags().Bool("dry-run", false, "fetch files but leave messages unlabeled and profiles untouched")
	viper.BindPFlag("dry_run", cmd.Flags().Lookup("dry-run"))
	return cmd
}
