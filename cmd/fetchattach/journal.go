package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/altafino/fetch-attach/internal/errorlog"
	"github.com/spf13/cobra"
)

func newJournalCmd() *cobra.Command {
	var errorType, messageID string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recorded harvest failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := bootstrapLogger()
			_, profiles, err := loadProfiles(logger)
			if err != nil {
				return err
			}

			filters := map[string]string{}
			if errorType != "" {
				filters["error_type"] = errorType
			}
			if messageID != "" {
				filters["message_id"] = messageID
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPROFILE\tTYPE\tMESSAGE\tTARGET\tERROR")
			for _, cfg := range profiles {
				if !cfg.JournalEnabled() {
					logger.Debug("journal disabled", "config_id", cfg.Meta.ID)
					continue
				}
				m, err := errorlog.NewManager(cfg, logger)
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.Meta.ID, err)
				}
				entries, err := m.GetErrors(filters)
				m.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.Meta.ID, err)
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.ErrorTime.Local().Format("2006-01-02 15:04"),
						e.ConfigID, e.ErrorType, e.MessageID, e.Target, e.ErrorMsg)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&errorType, "type", "", "only show this error type (fetch, label, get_message, ...)")
	cmd.Flags().StringVar(&messageID, "message", "", "only show failures of this message id")
	return cmd
}
