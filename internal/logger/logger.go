package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/altafino/fetch-attach/internal/types"
	"github.com/golang-cz/devslog"
)

// Options selects the handler built by New
type Options struct {
	Level         string
	Format        string // text, json, dev
	Output        string // stdout, file, both
	FilePath      string
	IncludeCaller bool
}

// FromConfig reads the logging block of a profile
func FromConfig(cfg *types.Config) Options {
	return Options{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Output:        cfg.Logging.Output,
		FilePath:      cfg.Logging.FilePath,
		IncludeCaller: cfg.Logging.IncludeCaller,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger. The returned closer releases the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	switch opts.Output {
	case "", "stdout":
	case "file", "both":
		if opts.FilePath == "" {
			return nil, nil, fmt.Errorf("log output %q requires a file path", opts.Output)
		}
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closer = f
		w = f
		if opts.Output == "both" {
			w = io.MultiWriter(os.Stdout, f)
		}
	default:
		return nil, nil, fmt.Errorf("unknown log output %q", opts.Output)
	}

	return slog.New(newHandler(w, opts)), closer, nil
}

func newHandler(w io.Writer, opts Options) slog.Handler {
	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.IncludeCaller,
	}

	switch opts.Format {
	case "json":
		return slog.NewJSONHandler(w, handlerOpts)
	case "dev":
		return devslog.NewHandler(w, &devslog.Options{
			HandlerOptions:    handlerOpts,
			MaxSlicePrintSize: 10,
			SortKeys:          true,
			NewLineAfterLog:   true,
		})
	default:
		return slog.NewTextHandler(w, handlerOpts)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
