package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/altafino/fetch-attach/internal/config"
	"github.com/altafino/fetch-attach/internal/logger"
	"github.com/altafino/fetch-attach/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fetchattach",
		Short: "Download attachments and linked files from a sender's mail",
		Long: `fetchattach scans a mailbox for messages from one sender, saves their
attachments and linked files into a directory tree sorted by extension and
labels every processed message so it is never fetched twice.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config-dir", "./config", "directory holding *.profile.yaml files")
	flags.String("config-id", "", "only use the profile with this id")
	flags.String("log-level", "", "override logging level (debug, info, warn, error)")
	flags.String("log-format", "", "override logging format (text, json, dev)")
	flags.String("log-output", "", "override logging output (stdout, file, both)")
	flags.String("log-file", "", "override the invocation log file")

	for key, flag := range map[string]string{
		"config_dir": "config-dir",
		"config_id":  "config-id",
		"log_level":  "log-level",
		"log_format": "log-format",
		"log_output": "log-output",
		"log_file":   "log-file",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
	viper.SetEnvPrefix("FETCHATTACH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newRunCmd(), newServeCmd(), newSetupCmd(), newAuthCmd(), newJournalCmd())
	return rootCmd
}

// loadProfiles loads the config directory and returns the selected
// profiles: the one named by --config-id, or every enabled profile.
func loadProfiles(bootstrap *slog.Logger) (*config.Store, []*types.Config, error) {
	configDir := viper.GetString("config_dir")
	store, err := config.Load(configDir, bootstrap)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	if id := viper.GetString("config_id"); id != "" {
		cfg, err := store.Get(id)
		if err != nil {
			return nil, nil, err
		}
		return store, []*types.Config{cfg}, nil
	}

	profiles := store.Enabled()
	if len(profiles) == 0 {
		return nil, nil, fmt.Errorf("no enabled profiles found in %s", configDir)
	}
	return store, profiles, nil
}

// newLogger builds the process logger from the logging block of the first
// profile, with command line overrides applied.
func newLogger(profiles []*types.Config) (*slog.Logger, io.Closer, error) {
	var opts logger.Options
	if len(profiles) > 0 {
		opts = logger.FromConfig(profiles[0])
	}
	if v := viper.GetString("log_level"); v != "" {
		opts.Level = v
	}
	if v := viper.GetString("log_format"); v != "" {
		opts.Format = v
	}
	if v := viper.GetString("log_output"); v != "" {
		opts.Output = v
	}
	if v := viper.GetString("log_file"); v != "" {
		opts.FilePath = v
	}

	l, closer, err := logger.New(opts)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(l)
	return l, closer, nil
}

func bootstrapLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logger.ParseLevel(viper.GetString("log_level")),
	}))
}
