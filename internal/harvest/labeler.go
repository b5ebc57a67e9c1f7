package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/altafino/fetch-attach/internal/mailstore"
	"github.com/altafino/fetch-attach/internal/types"
)

// OutcomeKind classifies a processed message
type OutcomeKind int

const (
	// OutcomePending means no target was attempted yet
	OutcomePending OutcomeKind = iota
	OutcomeSuccess
	OutcomeNoAttachment
	OutcomeFetchError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoAttachment:
		return "no_attachment"
	case OutcomeFetchError:
		return "fetch_error"
	default:
		return "pending"
	}
}

// Outcome is the terminal classification of one message for one run
type Outcome struct {
	Kind     OutcomeKind
	Filename string // first file saved, for OutcomeSuccess
	Reason   string // first failure reason, for OutcomeFetchError
}

// Record folds one target result into the outcome. A failure is sticky.
func (o *Outcome) Record(filename string, err error) {
	if o.Kind == OutcomeFetchError {
		return
	}
	if err != nil {
		o.Kind = OutcomeFetchError
		o.Filename = ""
		o.Reason = ReasonIO
		var fe *FetchError
		if errors.As(err, &fe) {
			o.Reason = fe.Reason
		}
		return
	}
	if o.Kind != OutcomeSuccess {
		o.Kind = OutcomeSuccess
		o.Filename = filename
	}
}

// Final returns the outcome to label with: no recorded target means no
// attachment was found.
func (o Outcome) Final() Outcome {
	if o.Kind == OutcomePending {
		return Outcome{Kind: OutcomeNoAttachment}
	}
	return o
}

// Labeler applies the outcome label to a message
type Labeler struct {
	store   mailstore.Store
	ids     map[OutcomeKind]string
	enabled bool
	logger  *slog.Logger
}

// NewLabeler creates a labeler; with enabled false it never touches the store
func NewLabeler(store mailstore.Store, cfg *types.Config, enabled bool, logger *slog.Logger) *Labeler {
	return &Labeler{
		store: store,
		ids: map[OutcomeKind]string{
			OutcomeSuccess:      cfg.Labels.Success.ID,
			OutcomeNoAttachment: cfg.Labels.NoAttachment.ID,
			OutcomeFetchError:   cfg.Labels.Error.ID,
		},
		enabled: enabled,
		logger:  logger,
	}
}

// Label applies the label for o to the message. It is a no-op when
// labeling is disabled.
func (l *Labeler) Label(ctx context.Context, messageID string, o Outcome) error {
	if !l.enabled {
		l.logger.Debug("labeling disabled, skipping", "message_id", messageID, "outcome", o.Kind.String())
		return nil
	}

	id, ok := l.ids[o.Kind]
	if !ok || id == "" {
		return fmt.Errorf("no label configured for outcome %s", o.Kind)
	}
	if err := l.store.ApplyLabel(ctx, messageID, id); err != nil {
		return err
	}

	l.logger.Debug("labeled message", "message_id", messageID, "outcome", o.Kind.String(), "label_id", id)
	return nil
}

// ResolveLabels fills in missing label ids by looking the names up in the
// store; stores deriving ids from names resolve without a lookup. Every label
// is attempted; the error names those still unresolved. It reports whether
// any id changed.
func ResolveLabels(ctx context.Context, store mailstore.Store, cfg *types.Config) (bool, error) {
	targets := []*types.LabelConfig{&cfg.Labels.Success, &cfg.Labels.Error, &cfg.Labels.NoAttachment}

	var missing []*types.LabelConfig
	for _, lc := range targets {
		if lc.ID == "" {
			missing = append(missing, lc)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	if d, ok := store.(mailstore.LabelDeriver); ok {
		for _, lc := range missing {
			lc.ID = d.LabelID(lc.Name)
		}
		return true, nil
	}

	labels, err := store.ListLabels(ctx)
	if err != nil {
		return false, err
	}

	changed := false
	var unresolved []string
	for _, lc := range missing {
		for _, l := range labels {
			if l.Name == lc.Name {
				lc.ID = l.ID
				changed = true
				break
			}
		}
		if lc.ID == "" {
			unresolved = append(unresolved, fmt.Sprintf("%q", lc.Name))
		}
	}
	if len(unresolved) > 0 {
		return changed, fmt.Errorf("labels %s not found, run setup first", strings.Join(unresolved, ", "))
	}
	return changed, nil
}
