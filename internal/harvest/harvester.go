package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/altafino/fetch-attach/internal/errorlog"
	"github.com/altafino/fetch-attach/internal/mailstore"
	"github.com/altafino/fetch-attach/internal/notify"
	"github.com/altafino/fetch-attach/internal/storage"
	"github.com/altafino/fetch-attach/internal/types"
	"github.com/google/uuid"
)

const defaultTitle = "fetch-attach"

// Journal records failures for later inspection
type Journal interface {
	LogError(err errorlog.HarvestError) error
}

// Saver persists a profile after a run
type Saver interface {
	Save(cfg *types.Config) error
}

// Options carries the optional collaborators of a Harvester
type Options struct {
	HTTPClient *http.Client
	Journal    Journal
	Saver      Saver
	RunID      string
}

// Harvester runs the harvest loop for one profile
type Harvester struct {
	cfg       *types.Config
	store     mailstore.Store
	extractor *Extractor
	router    *Router
	fetcher   *Fetcher
	notifier  notify.Notifier
	journal   Journal
	saver     Saver
	runID     string
	logger    *slog.Logger
}

// Report summarizes one run
type Report struct {
	RunID     string
	Selected  int
	Processed int
	Skipped   int
	Files     []string
	Outcomes  map[string]Outcome
	Heartbeat bool
}

// New creates a harvester for cfg. The profile is mutated by Run (tick and
// resolved label ids) and handed to opts.Saver at the end of every run.
func New(cfg *types.Config, store mailstore.Store, st storage.Storage, notifier notify.Notifier, logger *slog.Logger, opts Options) (*Harvester, error) {
	pattern, err := LinkPattern(cfg.Links.URLPrefix, cfg.Links.Pattern)
	if err != nil {
		return nil, err
	}
	router, err := NewRouter(cfg.Directories.Store, cfg.FoldCase())
	if err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.LinkTimeout()}
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	if notifier == nil {
		notifier = notify.Disabled{}
	}

	return &Harvester{
		cfg:       cfg,
		store:     store,
		extractor: NewExtractor(pattern),
		router:    router,
		fetcher:   NewFetcher(store, st, client, cfg.Links.UserAgent),
		notifier:  notifier,
		journal:   opts.Journal,
		saver:     opts.Saver,
		runID:     runID,
		logger:    logger.With("config_id", cfg.Meta.ID, "run_id", runID),
	}, nil
}

// Run performs one pass: select unlabeled messages from the sender, harvest
// each one, label it with its outcome, advance the heartbeat and persist the
// profile. Per message failures are contained; the returned error is for
// failures that abort the whole profile.
func (h *Harvester) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: h.runID, Outcomes: make(map[string]Outcome)}
	h.logger.Info("starting harvest run", "mail_from", h.cfg.MailFrom, "download_all", h.cfg.Run.DownloadAll)

	labeling := h.cfg.LabelingEnabled()

	// A dry run over every message needs no label ids at all
	if labeling || !h.cfg.Run.DownloadAll {
		if _, err := ResolveLabels(ctx, h.store, h.cfg); err != nil {
			h.logger.Error("failed to resolve labels", "error", err)
			h.journalError(errorlog.HarvestError{ErrorType: "list_labels", ErrorMsg: err.Error()})
			if labeling {
				// Nothing can be labeled; keep the heartbeat going anyway
				return report, errors.Join(fmt.Errorf("failed to resolve labels: %w", err), h.finish(report))
			}
		}
	}
	labeler := NewLabeler(h.store, h.cfg, labeling, h.logger)

	query := mailstore.Query{From: h.cfg.MailFrom}
	if !h.cfg.Run.DownloadAll {
		query.ExcludeLabels = h.configuredLabels()
	}

	ids, err := h.store.ListMessages(ctx, query)
	if err != nil {
		h.logger.Error("failed to list messages", "error", err)
		h.journalError(errorlog.HarvestError{ErrorType: "list_messages", ErrorMsg: err.Error()})
		return report, errors.Join(err, h.finish(report))
	}
	report.Selected = len(ids)
	h.logger.Info("selected messages", "count", len(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		h.processMessage(ctx, id, labeler, report)
	}

	if err := h.finish(report); err != nil {
		return report, err
	}

	h.logger.Info("harvest run finished",
		"selected", report.Selected,
		"processed", report.Processed,
		"skipped", report.Skipped,
		"files", len(report.Files),
		"tick", h.cfg.Run.Tick)

	return report, nil
}

// finish advances the heartbeat and persists the profile
func (h *Harvester) finish(report *Report) error {
	h.heartbeat(report)

	if h.saver == nil {
		return nil
	}
	if err := h.saver.Save(h.cfg); err != nil {
		h.logger.Error("failed to persist profile", "error", err)
		h.journalError(errorlog.HarvestError{ErrorType: "persist", ErrorMsg: err.Error()})
		return fmt.Errorf("failed to persist profile: %w", err)
	}
	return nil
}

func (h *Harvester) processMessage(ctx context.Context, id string, labeler *Labeler, report *Report) {
	logger := h.logger.With("message_id", id)

	msg, err := h.store.GetMessage(ctx, id)
	if err != nil {
		logger.Warn("failed to get message, skipping", "error", err)
		h.journalError(errorlog.HarvestError{MessageID: id, ErrorType: "get_message", ErrorMsg: err.Error()})
		report.Skipped++
		return
	}

	// Queries may lag behind labels applied moments ago
	if !h.cfg.Run.DownloadAll && msg.HasAnyLabel(h.labelIDs()...) {
		logger.Debug("message already labeled, skipping")
		report.Skipped++
		return
	}

	attachments, links := h.extractor.Extract(msg)
	logger.Debug("extracted targets",
		"subject", msg.Subject,
		"attachments", len(attachments),
		"links", len(links))

	var outcome Outcome
	for _, t := range append(attachments, links...) {
		name := t.Filename
		if h.cfg.SanitizeFilenames() {
			name = storage.SanitizeFilename(name)
		}
		dir := h.router.Route(t.Filename)

		path, err := h.fetcher.Fetch(ctx, t, dir, name)
		outcome.Record(name, err)
		if err != nil {
			logger.Warn("failed to fetch target",
				"kind", t.Kind.String(),
				"filename", t.Filename,
				"url", t.URL,
				"error", err)
			herr := errorlog.HarvestError{
				MessageID: id,
				Sender:    msg.From,
				Subject:   msg.Subject,
				Target:    t.Filename,
				ErrorType: "fetch",
				ErrorMsg:  err.Error(),
			}
			if t.Kind == TargetLink {
				herr.Target = t.URL
			}
			herr.Reason = outcome.Reason
			h.journalError(herr)
			continue
		}

		logger.Info("saved file", "kind", t.Kind.String(), "filename", name, "dir", dir, "path", path)
		report.Files = append(report.Files, path)
		h.notify(fmt.Sprintf("%s\n\"%s\"", h.cfg.Notifications.NewFile, name))
	}

	if len(attachments)+len(links) == 0 {
		logger.Info("no attachments found, advised to check manually")
		h.notify(h.cfg.Notifications.NoAttachment)
	}

	final := outcome.Final()
	report.Outcomes[id] = final
	report.Processed++

	if err := labeler.Label(ctx, id, final); err != nil {
		logger.Error("failed to label message", "outcome", final.Kind.String(), "error", err)
		h.journalError(errorlog.HarvestError{
			MessageID: id,
			Sender:    msg.From,
			Subject:   msg.Subject,
			ErrorType: "label",
			ErrorMsg:  err.Error(),
		})
	}
}

// heartbeat advances the tick and emits the "checked" notification once
// every notify_every runs
func (h *Harvester) heartbeat(report *Report) {
	h.cfg.Run.Tick++
	every := h.cfg.Run.NotifyEvery
	if every < 1 {
		every = 1
	}
	if h.cfg.Run.Tick >= every {
		h.notify(h.cfg.Notifications.Checked)
		h.cfg.Run.Tick = 0
		report.Heartbeat = true
	}
}

func (h *Harvester) notify(body string) {
	title := h.cfg.Notifications.Title
	if title == "" {
		title = defaultTitle
	}
	if err := h.notifier.Notify(title, body, h.cfg.Notifications.Icon); err != nil {
		h.logger.Debug("notification failed", "error", err)
	}
}

func (h *Harvester) journalError(herr errorlog.HarvestError) {
	if h.journal == nil {
		return
	}
	herr.RunID = h.runID
	if err := h.journal.LogError(herr); err != nil {
		h.logger.Warn("failed to journal error", "error", err)
	}
}

// configuredLabels returns the outcome labels with a known id
func (h *Harvester) configuredLabels() []mailstore.Label {
	var labels []mailstore.Label
	for _, lc := range []types.LabelConfig{h.cfg.Labels.Success, h.cfg.Labels.Error, h.cfg.Labels.NoAttachment} {
		if lc.ID != "" {
			labels = append(labels, mailstore.Label{ID: lc.ID, Name: lc.Name})
		}
	}
	return labels
}

func (h *Harvester) labelIDs() []string {
	var ids []string
	for _, l := range h.configuredLabels() {
		ids = append(ids, l.ID)
	}
	return ids
}
