package harvest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/altafino/fetch-attach/internal/errorlog"
	"github.com/altafino/fetch-attach/internal/mailstore"
	"github.com/altafino/fetch-attach/internal/mailstore/memstore"
	"github.com/altafino/fetch-attach/internal/notify"
	"github.com/altafino/fetch-attach/internal/storage"
	"github.com/altafino/fetch-attach/internal/types"
)

const (
	labelOK    = "Label_ok"
	labelErr   = "Label_err"
	labelEmpty = "Label_empty"
	sender     = "usos@example.org"
)

func testConfig(root string) *types.Config {
	cfg := &types.Config{}
	cfg.Meta.ID = "uni"
	cfg.MailFrom = sender
	cfg.Labels.Success = types.LabelConfig{Name: "Pobrano", ID: labelOK}
	cfg.Labels.Error = types.LabelConfig{Name: "Blad", ID: labelErr}
	cfg.Labels.NoAttachment = types.LabelConfig{Name: "Brak", ID: labelEmpty}
	cfg.Directories.Main.Path = root
	cfg.Directories.Main.Name = "Attachments"
	cfg.Directories.Store = map[string]string{"pdf": "Pdf", "*": "Other"}
	cfg.Notifications.NewFile = "New file"
	cfg.Notifications.NoAttachment = "No attachment"
	cfg.Notifications.Checked = "Checked mail"
	cfg.Run.SetLabels = types.Bool(true)
	cfg.Run.NotifyEvery = 100
	return cfg
}

// redirectTransport sends every request to the test server, keeping the path
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func newUpstream(t *testing.T) *http.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/x.zip":
			w.Write([]byte("zip payload"))
		case "/notes.pdf":
			w.Write([]byte("%PDF notes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	return &http.Client{Transport: redirectTransport{target: u}}
}

type recordingSaver struct {
	saves int
	ticks []int
	err   error
}

func (s *recordingSaver) Save(cfg *types.Config) error {
	s.saves++
	s.ticks = append(s.ticks, cfg.Run.Tick)
	return s.err
}

type recordingJournal struct {
	entries []errorlog.HarvestError
}

func (j *recordingJournal) LogError(err errorlog.HarvestError) error {
	j.entries = append(j.entries, err)
	return nil
}

type fixture struct {
	cfg      *types.Config
	store    *memstore.Store
	notifier *notify.Recorder
	saver    *recordingSaver
	journal  *recordingJournal
	root     string
	h        *Harvester
}

func newFixture(t *testing.T, mutate func(cfg *types.Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := testConfig(root)
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		cfg:      cfg,
		store:    memstore.New(),
		notifier: &notify.Recorder{},
		saver:    &recordingSaver{},
		journal:  &recordingJournal{},
		root:     filepath.Join(root, "Attachments"),
	}

	h, err := New(cfg, f.store, storage.NewLocalStorage(storage.Root(cfg), discardLogger()), f.notifier, discardLogger(), Options{
		HTTPClient: newUpstream(t),
		Journal:    f.journal,
		Saver:      f.saver,
		RunID:      "run-1",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.h = h
	return f
}

func (f *fixture) run(t *testing.T) *Report {
	t.Helper()
	report, err := f.h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return report
}

func TestRunInlineAttachment(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddMessage(mailstore.Message{
		ID:   "M1",
		From: "USOS <" + sender + ">",
		Parts: []mailstore.Part{
			textPart("Your grade is attached."),
			{Filename: "grade.pdf", MimeType: "application/pdf", Data: mailstore.EncodeData([]byte("%PDF-1.4 grade"))},
		},
	})

	report := f.run(t)

	assertFile(t, filepath.Join(f.root, "Pdf", "grade.pdf"), "%PDF-1.4 grade")
	if got := report.Outcomes["M1"]; got.Kind != OutcomeSuccess || got.Filename != "grade.pdf" {
		t.Errorf("outcome = %+v, want success(grade.pdf)", got)
	}
	if labels := f.store.Labels("M1"); !slices.Equal(labels, []string{labelOK}) {
		t.Errorf("labels = %v, want [%s]", labels, labelOK)
	}
	if bodies := f.notifier.Bodies(); !slices.Equal(bodies, []string{"New file\n\"grade.pdf\""}) {
		t.Errorf("notifications = %q, want one new-file notification", bodies)
	}
	if f.notifier.Sent[0].Title != "fetch-attach" {
		t.Errorf("title = %q", f.notifier.Sent[0].Title)
	}
}

func TestRunLink(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddMessage(mailstore.Message{
		ID:    "M2",
		From:  sender,
		Parts: []mailstore.Part{textPart(`see "https://usosapps.example.org/x.zip">data.zip<`)},
	})

	report := f.run(t)

	assertFile(t, filepath.Join(f.root, "Other", "data.zip"), "zip payload")
	if got := report.Outcomes["M2"].Kind; got != OutcomeSuccess {
		t.Errorf("outcome = %s, want success", got)
	}
	if labels := f.store.Labels("M2"); !slices.Equal(labels, []string{labelOK}) {
		t.Errorf("labels = %v, want [%s]", labels, labelOK)
	}
}

func TestRunFetchFailureContained(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddMessage(mailstore.Message{
		ID:   "M3",
		From: sender,
		Parts: []mailstore.Part{
			{Filename: "grade.pdf", Data: mailstore.EncodeData([]byte("%PDF"))},
			textPart(`"https://usosapps.example.org/gone.pdf">gone.pdf< "https://usosapps.example.org/notes.pdf">notes.pdf<`),
		},
	})
	f.store.AddMessage(mailstore.Message{
		ID:    "M4",
		From:  sender,
		Parts: []mailstore.Part{textPart(`"https://usosapps.example.org/x.zip">later.zip<`)},
	})

	report := f.run(t)

	got := report.Outcomes["M3"]
	if got.Kind != OutcomeFetchError || got.Reason != ReasonHTTPStatus {
		t.Errorf("M3 outcome = %+v, want fetch_error(http-status)", got)
	}
	// The link after the 404 was still fetched
	assertFile(t, filepath.Join(f.root, "Pdf", "notes.pdf"), "%PDF notes")
	if labels := f.store.Labels("M3"); !slices.Equal(labels, []string{labelErr}) {
		t.Errorf("M3 labels = %v, want only [%s]", labels, labelErr)
	}

	if got := report.Outcomes["M4"].Kind; got != OutcomeSuccess {
		t.Errorf("M4 outcome = %s, want success", got)
	}
	assertFile(t, filepath.Join(f.root, "Other", "later.zip"), "zip payload")

	if len(f.journal.entries) != 1 {
		t.Fatalf("journal has %d entries, want 1", len(f.journal.entries))
	}
	e := f.journal.entries[0]
	if e.MessageID != "M3" || e.ErrorType != "fetch" || e.Reason != ReasonHTTPStatus || e.RunID != "run-1" {
		t.Errorf("journal entry = %+v", e)
	}
}

func TestRunNoAttachment(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddMessage(mailstore.Message{
		ID:    "M5",
		From:  sender,
		Parts: []mailstore.Part{textPart("Please log in to read the message.")},
	})

	report := f.run(t)

	if got := report.Outcomes["M5"].Kind; got != OutcomeNoAttachment {
		t.Errorf("outcome = %s, want no_attachment", got)
	}
	if labels := f.store.Labels("M5"); !slices.Equal(labels, []string{labelEmpty}) {
		t.Errorf("labels = %v, want [%s]", labels, labelEmpty)
	}
	if bodies := f.notifier.Bodies(); !slices.Equal(bodies, []string{"No attachment"}) {
		t.Errorf("notifications = %q", bodies)
	}
}

func TestRunIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddMessage(mailstore.Message{
		ID:    "M1",
		From:  sender,
		Parts: []mailstore.Part{{Filename: "grade.pdf", Data: mailstore.EncodeData([]byte("%PDF"))}},
	})
	f.store.AddMessage(mailstore.Message{ID: "M5", From: sender, Parts: []mailstore.Part{textPart("nothing")}})
	f.store.AddMessage(mailstore.Message{ID: "other", From: "someone@else.org", Parts: []mailstore.Part{textPart("nothing")}})

	first := f.run(t)
	if first.Selected != 2 || first.Processed != 2 {
		t.Fatalf("first run selected %d processed %d, want 2 and 2", first.Selected, first.Processed)
	}

	second := f.run(t)
	if second.Selected != 0 || second.Processed != 0 {
		t.Errorf("second run selected %d processed %d, want nothing", second.Selected, second.Processed)
	}
	if len(f.store.Applied) != 2 {
		t.Errorf("labels applied %d times, want 2", len(f.store.Applied))
	}
	if labels := f.store.Labels("other"); len(labels) != 0 {
		t.Errorf("message from another sender labeled: %v", labels)
	}
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(t, func(cfg *types.Config) { cfg.Run.SetLabels = types.Bool(false) })
	f.store.AddMessage(mailstore.Message{
		ID:    "M1",
		From:  sender,
		Parts: []mailstore.Part{{Filename: "grade.pdf", Data: mailstore.EncodeData([]byte("%PDF"))}},
	})

	f.run(t)
	assertFile(t, filepath.Join(f.root, "Pdf", "grade.pdf"), "%PDF")
	if len(f.store.Applied) != 0 {
		t.Errorf("dry run applied labels: %v", f.store.Applied)
	}

	// Still unlabeled, so selected again
	if second := f.run(t); second.Selected != 1 {
		t.Errorf("second dry run selected %d, want 1", second.Selected)
	}
}

func TestRunDownloadAll(t *testing.T) {
	f := newFixture(t, func(cfg *types.Config) { cfg.Run.DownloadAll = true })
	f.store.AddMessage(mailstore.Message{
		ID:     "M1",
		From:   sender,
		Labels: []string{labelOK},
		Parts:  []mailstore.Part{{Filename: "grade.pdf", Data: mailstore.EncodeData([]byte("%PDF again"))}},
	})

	report := f.run(t)
	if report.Processed != 1 {
		t.Fatalf("processed %d, want 1", report.Processed)
	}
	assertFile(t, filepath.Join(f.root, "Pdf", "grade.pdf"), "%PDF again")
}

func TestRunSkipsAlreadyLabeled(t *testing.T) {
	f := newFixture(t, nil)
	// A lagging query: the store returns a message that is already labeled
	lagging := &laggingStore{Store: f.store}
	h, err := New(f.cfg, lagging, storage.NewLocalStorage(storage.Root(f.cfg), discardLogger()), f.notifier, discardLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	f.store.AddMessage(mailstore.Message{ID: "M1", From: sender, Labels: []string{labelErr}, Parts: []mailstore.Part{textPart("x")}})

	report, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Processed != 0 {
		t.Errorf("skipped %d processed %d, want 1 and 0", report.Skipped, report.Processed)
	}
}

type laggingStore struct {
	*memstore.Store
}

func (l *laggingStore) ListMessages(ctx context.Context, q mailstore.Query) ([]string, error) {
	return l.Store.ListMessages(ctx, mailstore.Query{From: q.From})
}

func TestRunGetMessageFailureContained(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddMessage(mailstore.Message{ID: "M1", From: sender})
	f.store.Fail["get_message"] = errors.New("backend unavailable")

	report := f.run(t)
	if report.Skipped != 1 || report.Processed != 0 {
		t.Errorf("skipped %d processed %d, want 1 and 0", report.Skipped, report.Processed)
	}
	if len(f.journal.entries) != 1 || f.journal.entries[0].ErrorType != "get_message" {
		t.Errorf("journal = %+v", f.journal.entries)
	}
	if f.saver.saves != 1 {
		t.Errorf("profile saved %d times, want 1", f.saver.saves)
	}
}

func TestRunListFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Fail["list_messages"] = errors.New("quota exceeded")

	_, err := f.h.Run(context.Background())
	var pe *mailstore.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Run error = %v, want *mailstore.ProviderError", err)
	}
	// the heartbeat still advances
	if f.saver.saves != 1 || f.cfg.Run.Tick != 1 {
		t.Errorf("saves %d tick %d, want 1 and 1", f.saver.saves, f.cfg.Run.Tick)
	}
}

func clearLabelIDs(cfg *types.Config) {
	cfg.Labels.Success.ID = ""
	cfg.Labels.Error.ID = ""
	cfg.Labels.NoAttachment.ID = ""
}

func TestRunDryRunBeforeSetup(t *testing.T) {
	for _, downloadAll := range []bool{false, true} {
		f := newFixture(t, func(cfg *types.Config) {
			clearLabelIDs(cfg)
			cfg.Run.SetLabels = types.Bool(false)
			cfg.Run.DownloadAll = downloadAll
		})
		f.store.AddMessage(mailstore.Message{
			ID:    "M1",
			From:  sender,
			Parts: []mailstore.Part{{Filename: "grade.pdf", Data: mailstore.EncodeData([]byte("%PDF"))}},
		})

		report, err := f.h.Run(context.Background())
		if err != nil {
			t.Fatalf("download_all=%v: Run: %v", downloadAll, err)
		}
		if report.Processed != 1 {
			t.Errorf("download_all=%v: processed %d, want 1", downloadAll, report.Processed)
		}
		assertFile(t, filepath.Join(f.root, "Pdf", "grade.pdf"), "%PDF")
		if len(f.store.Applied) != 0 || f.cfg.Run.Tick != 1 || f.saver.saves != 1 {
			t.Errorf("download_all=%v: applied %v tick %d saves %d", downloadAll, f.store.Applied, f.cfg.Run.Tick, f.saver.saves)
		}
	}
}

func TestRunUnresolvedLabels(t *testing.T) {
	f := newFixture(t, clearLabelIDs)
	f.store.AddMessage(mailstore.Message{ID: "M1", From: sender, Parts: []mailstore.Part{textPart("x")}})

	report, err := f.h.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded without label ids")
	}
	if report.Processed != 0 || len(f.store.Applied) != 0 {
		t.Errorf("processed %d applied %v", report.Processed, f.store.Applied)
	}
	if f.cfg.Run.Tick != 1 || f.saver.saves != 1 {
		t.Errorf("tick %d saves %d, want 1 and 1", f.cfg.Run.Tick, f.saver.saves)
	}
	if len(f.journal.entries) != 1 || f.journal.entries[0].ErrorType != "list_labels" {
		t.Errorf("journal = %+v", f.journal.entries)
	}
}

// keywordStore derives label ids from names like the IMAP store
type keywordStore struct {
	*memstore.Store
}

func (keywordStore) LabelID(name string) string {
	return "kw:" + name
}

func TestResolveLabels(t *testing.T) {
	ctx := context.Background()

	t.Run("by name", func(t *testing.T) {
		store := memstore.New()
		cfg := testConfig(t.TempDir())
		clearLabelIDs(cfg)
		cfg.Labels.Error.ID = "Label_known"
		for _, name := range []string{"Pobrano", "Brak", "Other"} {
			store.CreateLabel(ctx, mailstore.LabelSpec{Name: name})
		}

		changed, err := ResolveLabels(ctx, store, cfg)
		if err != nil || !changed {
			t.Fatalf("ResolveLabels = %v, %v", changed, err)
		}
		if cfg.Labels.Success.ID != "Label_1" || cfg.Labels.NoAttachment.ID != "Label_2" || cfg.Labels.Error.ID != "Label_known" {
			t.Errorf("labels = %+v", cfg.Labels)
		}
	})

	t.Run("derived", func(t *testing.T) {
		cfg := testConfig(t.TempDir())
		clearLabelIDs(cfg)

		if _, err := ResolveLabels(ctx, keywordStore{memstore.New()}, cfg); err != nil {
			t.Fatal(err)
		}
		if cfg.Labels.Error.ID != "kw:Blad" {
			t.Errorf("error label id = %q", cfg.Labels.Error.ID)
		}
	})

	t.Run("missing", func(t *testing.T) {
		store := memstore.New()
		store.CreateLabel(ctx, mailstore.LabelSpec{Name: "Pobrano"})
		cfg := testConfig(t.TempDir())
		clearLabelIDs(cfg)

		_, err := ResolveLabels(ctx, store, cfg)
		if err == nil || !strings.Contains(err.Error(), `"Blad", "Brak"`) {
			t.Fatalf("ResolveLabels error = %v", err)
		}
		if cfg.Labels.Success.ID != "Label_1" {
			t.Errorf("resolvable label not filled in: %+v", cfg.Labels.Success)
		}
	})
}

func TestRunHeartbeat(t *testing.T) {
	f := newFixture(t, func(cfg *types.Config) {
		cfg.Run.NotifyEvery = 3
		cfg.Run.Tick = 1
	})

	first := f.run(t)
	if first.Heartbeat || f.cfg.Run.Tick != 2 {
		t.Fatalf("first run: heartbeat %v tick %d, want false and 2", first.Heartbeat, f.cfg.Run.Tick)
	}
	if len(f.notifier.Sent) != 0 {
		t.Fatalf("unexpected notifications: %q", f.notifier.Bodies())
	}

	second := f.run(t)
	if !second.Heartbeat {
		t.Error("second run did not emit the heartbeat")
	}
	if f.cfg.Run.Tick != 0 {
		t.Errorf("tick = %d after heartbeat, want 0", f.cfg.Run.Tick)
	}
	if bodies := f.notifier.Bodies(); !slices.Equal(bodies, []string{"Checked mail"}) {
		t.Errorf("notifications = %q, want exactly one heartbeat", bodies)
	}

	if !slices.Equal(f.saver.ticks, []int{2, 0}) {
		t.Errorf("persisted ticks = %v, want [2 0]", f.saver.ticks)
	}
}

func TestRunResolvesLabelsByName(t *testing.T) {
	f := newFixture(t, func(cfg *types.Config) {
		cfg.Labels.Success.ID = ""
		cfg.Labels.Error.ID = ""
		cfg.Labels.NoAttachment.ID = ""
	})
	ctx := context.Background()
	for _, name := range []string{"Pobrano", "Blad", "Brak"} {
		if _, err := f.store.CreateLabel(ctx, mailstore.LabelSpec{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	f.store.AddMessage(mailstore.Message{ID: "M5", From: sender, Parts: []mailstore.Part{textPart("nothing")}})

	f.run(t)

	if f.cfg.Labels.Success.ID != "Label_1" || f.cfg.Labels.Error.ID != "Label_2" || f.cfg.Labels.NoAttachment.ID != "Label_3" {
		t.Errorf("resolved ids = %q %q %q", f.cfg.Labels.Success.ID, f.cfg.Labels.Error.ID, f.cfg.Labels.NoAttachment.ID)
	}
	if labels := f.store.Labels("M5"); !slices.Equal(labels, []string{"Label_3"}) {
		t.Errorf("labels = %v", labels)
	}
}

func TestRunMissingLabel(t *testing.T) {
	f := newFixture(t, func(cfg *types.Config) { cfg.Labels.Error.ID = "" })
	if _, err := f.h.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with an unresolvable label")
	}
}

func TestOutcomeRecord(t *testing.T) {
	fail := &FetchError{Reason: ReasonHTTPStatus, Status: 404}

	tests := []struct {
		name    string
		results []error
		want    OutcomeKind
	}{
		{"none", nil, OutcomeNoAttachment},
		{"one success", []error{nil}, OutcomeSuccess},
		{"success then failure", []error{nil, fail}, OutcomeFetchError},
		{"failure then success", []error{fail, nil}, OutcomeFetchError},
		{"plain error", []error{errors.New("x")}, OutcomeFetchError},
	}

	for _, tt := range tests {
		var o Outcome
		for _, err := range tt.results {
			o.Record("f", err)
		}
		if got := o.Final().Kind; got != tt.want {
			t.Errorf("%s: outcome = %s, want %s", tt.name, got, tt.want)
		}
	}
}
