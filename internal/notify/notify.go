package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"
)

// Notifier delivers short user-facing messages. Delivery is best effort.
type Notifier interface {
	Notify(title, body, icon string) error
}

// New returns the notifier for the configured backend: "desktop", "log" or
// "none". Any backend is replaced by Disabled when enabled is false.
func New(backend string, enabled bool, logger *slog.Logger) (Notifier, error) {
	if !enabled {
		return Disabled{}, nil
	}
	switch backend {
	case "desktop", "":
		return &Desktop{logger: logger}, nil
	case "log":
		return &Log{logger: logger}, nil
	case "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported notification backend: %s", backend)
	}
}

// Desktop shows native desktop notifications
type Desktop struct {
	logger *slog.Logger
}

// Notify shows a desktop notification
func (d *Desktop) Notify(title, body, icon string) error {
	if err := beeep.Notify(title, body, icon); err != nil {
		d.logger.Warn("desktop notification failed", "error", err)
		return err
	}
	return nil
}

// Log writes notifications to the logger, for headless hosts
type Log struct {
	logger *slog.Logger
}

// Notify writes the notification to the log
func (l *Log) Notify(title, body, icon string) error {
	l.logger.Info("notification", "title", title, "body", body)
	return nil
}

// Disabled drops every notification
type Disabled struct{}

func (Disabled) Notify(title, body, icon string) error { return nil }

// Recorder keeps every notification in memory
type Recorder struct {
	mu   sync.Mutex
	Sent []Notification
}

// Notification is one call recorded by Recorder
type Notification struct {
	Title string
	Body  string
	Icon  string
}

// Notify records the notification
func (r *Recorder) Notify(title, body, icon string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, Notification{Title: title, Body: body, Icon: icon})
	return nil
}

// Bodies returns the bodies of all recorded notifications in order
func (r *Recorder) Bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Sent))
	for _, n := range r.Sent {
		out = append(out, n.Body)
	}
	return out
}
