package pop3

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/altafino/fetch-attach/internal/mailstore"
	"github.com/altafino/fetch-attach/internal/tracking"
	"github.com/altafino/fetch-attach/internal/types"
	"github.com/knadh/go-pop3"
)

const provider = "pop3"

// Store implements mailstore.Store over POP3. Message ids are UIDLs; labels
// are kept in a local ledger since POP3 has no server side flags.
type Store struct {
	conn    *pop3.Conn
	ledger  tracking.Storage
	account string
	logger  *slog.Logger

	// uid -> message number of the current session
	numbers map[string]int
}

// New connects and authenticates against the POP3 server and opens the
// label ledger
func New(ctx context.Context, cfg *types.Config, logger *slog.Logger) (*Store, error) {
	pc := cfg.Mailbox.POP3

	logger.Info("connecting to POP3 server",
		"server", pc.Server,
		"port", pc.Port,
		"tls_enabled", pc.TLS.Enabled,
		"username", pc.Username,
	)

	ledger, err := tracking.NewStorage(cfg.Mailbox.Ledger.StorageType, cfg.Mailbox.Ledger.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create label ledger: %w", err)
	}
	if err := ledger.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize label ledger: %w", err)
	}

	p := pop3.New(pop3.Opt{
		Host:          pc.Server,
		Port:          pc.Port,
		DialTimeout:   cfg.MailboxTimeout(),
		TLSEnabled:    pc.TLS.Enabled,
		TLSSkipVerify: !pc.TLS.VerifyCert,
	})

	conn, err := p.NewConn()
	if err != nil {
		ledger.Close()
		return nil, mailstore.Wrap(provider, "connect", err)
	}

	if err := conn.Auth(pc.Username, pc.Password); err != nil {
		conn.Quit()
		ledger.Close()
		return nil, mailstore.Wrap(provider, "login", err)
	}

	logger.Info("successfully connected to POP3 server")
	return NewWithConn(conn, ledger, pc.Username+"@"+pc.Server, logger), nil
}

// NewWithConn builds a store from an authenticated connection and an
// initialized ledger
func NewWithConn(conn *pop3.Conn, ledger tracking.Storage, account string, logger *slog.Logger) *Store {
	return &Store{
		conn:    conn,
		ledger:  ledger,
		account: account,
		logger:  logger,
		numbers: make(map[string]int),
	}
}

func (s *Store) refresh() error {
	ids, err := s.conn.Uidl(0)
	if err != nil {
		return err
	}
	clear(s.numbers)
	for _, m := range ids {
		s.numbers[m.UID] = m.ID
	}
	return nil
}

// ListMessages filters the maildrop by sender using headers only, and by
// the ledger for excluded labels
func (s *Store) ListMessages(ctx context.Context, q mailstore.Query) ([]string, error) {
	ids, err := s.conn.Uidl(0)
	if err != nil {
		return nil, mailstore.Wrap(provider, "list_messages", err)
	}

	exclude := make([]string, 0, len(q.ExcludeLabels))
	for _, l := range q.ExcludeLabels {
		exclude = append(exclude, l.ID)
	}
	from := strings.ToLower(q.From)

	clear(s.numbers)
	var out []string
	for _, m := range ids {
		s.numbers[m.UID] = m.ID

		labels, err := s.ledger.Labels(ctx, s.account, m.UID)
		if err != nil {
			return nil, mailstore.Wrap(provider, "list_messages", err)
		}
		if slices.ContainsFunc(labels, func(l string) bool { return slices.Contains(exclude, l) }) {
			continue
		}

		if from != "" {
			// Headers only
			e, err := s.conn.Top(m.ID, 0)
			if err != nil {
				return nil, mailstore.Wrap(provider, "list_messages", fmt.Errorf("message %d: %w", m.ID, err))
			}
			if !strings.Contains(strings.ToLower(e.Header.Get("From")), from) {
				continue
			}
		}
		out = append(out, m.UID)
	}

	s.logger.Debug("listed POP3 messages", "total", len(ids), "selected", len(out))
	return out, nil
}

func (s *Store) number(uid string) (int, error) {
	if n, ok := s.numbers[uid]; ok {
		return n, nil
	}
	if err := s.refresh(); err != nil {
		return 0, err
	}
	if n, ok := s.numbers[uid]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("message %s: %w", uid, mailstore.ErrNotFound)
}

// GetMessage downloads and parses a message; labels come from the ledger
func (s *Store) GetMessage(ctx context.Context, id string) (*mailstore.Message, error) {
	n, err := s.number(id)
	if err != nil {
		return nil, mailstore.Wrap(provider, "get_message", err)
	}

	raw, err := s.conn.RetrRaw(n)
	if err != nil {
		return nil, mailstore.Wrap(provider, "get_message", err)
	}

	msg, err := mailstore.ParseMIME(id, raw)
	if err != nil {
		return nil, mailstore.Wrap(provider, "get_message", err)
	}

	msg.Labels, err = s.ledger.Labels(ctx, s.account, id)
	if err != nil {
		return nil, mailstore.Wrap(provider, "get_message", err)
	}
	return msg, nil
}

// GetAttachment is never needed: parsed POP3 messages carry every payload inline.
func (s *Store) GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	return "", mailstore.Wrap(provider, "get_attachment",
		fmt.Errorf("attachment %s: %w", attachmentID, mailstore.ErrNotFound))
}

// ApplyLabel records the label in the ledger
func (s *Store) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	return mailstore.Wrap(provider, "apply_label", s.ledger.AddLabel(ctx, s.account, messageID, labelID))
}

// ListLabels returns the label ids recorded for this account
func (s *Store) ListLabels(ctx context.Context) ([]mailstore.Label, error) {
	ids, err := s.ledger.LabelIDs(ctx, s.account)
	if err != nil {
		return nil, mailstore.Wrap(provider, "list_labels", err)
	}
	labels := make([]mailstore.Label, 0, len(ids))
	for _, id := range ids {
		labels = append(labels, mailstore.Label{ID: id, Name: id})
	}
	return labels, nil
}

// LabelID returns the ledger id for a label name, which is the name itself
func (s *Store) LabelID(name string) string {
	return name
}

// CreateLabel only names the label; it appears in the ledger once applied.
func (s *Store) CreateLabel(ctx context.Context, spec mailstore.LabelSpec) (mailstore.Label, error) {
	if spec.Name == "" {
		return mailstore.Label{}, mailstore.Wrap(provider, "create_label", fmt.Errorf("empty label name"))
	}
	return mailstore.Label{ID: spec.Name, Name: spec.Name}, nil
}

// DeleteLabel drops the label from every ledger entry of the account
func (s *Store) DeleteLabel(ctx context.Context, id string) error {
	return mailstore.Wrap(provider, "delete_label", s.ledger.RemoveLabel(ctx, s.account, id))
}

// Close quits the session and closes the ledger
func (s *Store) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Quit()
	}
	if lerr := s.ledger.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

var (
	_ mailstore.Store        = (*Store)(nil)
	_ mailstore.LabelDeriver = (*Store)(nil)
)
