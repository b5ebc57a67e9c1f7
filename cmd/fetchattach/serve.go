package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/altafino/fetch-attach/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run profiles on their schedules until stopped",
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

			a, err := app.New(logger, store, app.NewRunner(store, logger), viper.GetString("config_id"))
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			if err := a.Start(); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}
			defer a.Stop()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			logger.Info("shutting down application")
			return nil
		},
	}
}
