package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/altafino/fetch-attach/internal/mailstore"
	fetchoauth "github.com/altafino/fetch-attach/internal/oauth2"
	"github.com/altafino/fetch-attach/internal/types"
	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const provider = "imap"

// Store implements mailstore.Store over IMAP. Outcome labels are stored as
// IMAP keywords on the message, message ids are UIDs of the selected folder.
type Store struct {
	client *client.Client
	folder string
	logger *slog.Logger
}

// New connects, authenticates and selects the configured folder
func New(ctx context.Context, cfg *types.Config, logger *slog.Logger) (*Store, error) {
	ic := cfg.Mailbox.IMAP
	server := fmt.Sprintf("%s:%d", ic.Server, ic.Port)

	logger.Info("connecting to IMAP server",
		"server", ic.Server,
		"port", ic.Port,
		"tls_enabled", ic.TLS.Enabled,
		"username", ic.Username,
	)

	tlsConfig := &tls.Config{
		ServerName:         ic.Server,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !ic.TLS.VerifyCert,
	}

	var (
		c   *client.Client
		err error
	)
	switch {
	case ic.Port == 143:
		// Plain connection first, upgraded with STARTTLS when TLS is enabled
		c, err = client.Dial(server)
		if err != nil {
			return nil, mailstore.Wrap(provider, "connect", err)
		}
		if ic.TLS.Enabled {
			logger.Debug("upgrading connection with STARTTLS")
			if err := c.StartTLS(tlsConfig); err != nil {
				c.Logout()
				return nil, mailstore.Wrap(provider, "starttls", err)
			}
		}
	case ic.TLS.Enabled:
		c, err = client.DialTLS(server, tlsConfig)
		if err != nil {
			return nil, mailstore.Wrap(provider, "connect", err)
		}
	default:
		c, err = client.Dial(server)
		if err != nil {
			return nil, mailstore.Wrap(provider, "connect", err)
		}
	}
	c.Timeout = cfg.MailboxTimeout()

	if err := authenticate(ctx, c, cfg, logger); err != nil {
		c.Logout()
		return nil, mailstore.Wrap(provider, "login", err)
	}

	folder := ic.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		c.Logout()
		return nil, mailstore.Wrap(provider, "select", fmt.Errorf("folder %s: %w", folder, err))
	}

	logger.Info("connected to IMAP server", "folder", folder)
	return &Store{client: c, folder: folder, logger: logger}, nil
}

func authenticate(ctx context.Context, c *client.Client, cfg *types.Config, logger *slog.Logger) error {
	ic := cfg.Mailbox.IMAP
	if !strings.EqualFold(ic.Auth, "xoauth2") {
		return c.Login(ic.Username, ic.Password)
	}

	scopes, err := fetchoauth.ScopesFor(provider)
	if err != nil {
		return err
	}
	oauthCfg, err := fetchoauth.GetGoogleConfig(ic.CredentialsFile, fetchoauth.RedirectURL(), scopes...)
	if err != nil {
		return err
	}
	tm, err := fetchoauth.NewTokenManager(oauthCfg, ic.TokenFile, logger)
	if err != nil {
		return err
	}
	token, err := tm.GetAccessToken(ctx)
	if err != nil {
		return err
	}
	return c.Authenticate(fetchoauth.NewXOAUTH2Client(ic.Username, token))
}

// Keyword converts a label name into a valid IMAP keyword atom.
func Keyword(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", id, mailstore.ErrNotFound)
	}
	return uint32(uid), nil
}

// ListMessages searches the folder for the sender, leaving out messages
// with any of the excluded keywords
func (s *Store) ListMessages(ctx context.Context, q mailstore.Query) ([]string, error) {
	criteria := goimap.NewSearchCriteria()
	if q.From != "" {
		criteria.Header.Add("From", q.From)
	}
	for _, l := range q.ExcludeLabels {
		if l.ID != "" {
			criteria.WithoutFlags = append(criteria.WithoutFlags, l.ID)
		}
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, mailstore.Wrap(provider, "list_messages", err)
	}
	slices.Sort(uids)

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

// GetMessage fetches and parses a message without setting \Seen
func (s *Store) GetMessage(ctx context.Context, id string) (*mailstore.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, mailstore.Wrap(provider, "get_message", err)
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchFlags, goimap.FetchUid}

	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var fetched *goimap.Message
	for m := range messages {
		fetched = m
	}
	if err := <-done; err != nil {
		return nil, mailstore.Wrap(provider, "get_message", err)
	}
	if fetched == nil {
		return nil, mailstore.Wrap(provider, "get_message", fmt.Errorf("uid %d: %w", uid, mailstore.ErrNotFound))
	}

	body := fetched.GetBody(section)
	if body == nil {
		return nil, mailstore.Wrap(provider, "get_message", fmt.Errorf("uid %d: empty message body", uid))
	}

	msg, err := mailstore.ParseMIME(id, body)
	if err != nil {
		return nil, mailstore.Wrap(provider, "get_message", err)
	}
	for _, f := range fetched.Flags {
		if !strings.HasPrefix(f, `\`) {
			msg.Labels = append(msg.Labels, f)
		}
	}
	return msg, nil
}

// GetAttachment is never needed: parsed IMAP messages carry every payload inline.
func (s *Store) GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	return "", mailstore.Wrap(provider, "get_attachment",
		fmt.Errorf("attachment %s: %w", attachmentID, mailstore.ErrNotFound))
}

// ApplyLabel adds the keyword to the message
func (s *Store) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return mailstore.Wrap(provider, "apply_label", err)
	}
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)
	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	if err := s.client.UidStore(seqSet, item, []interface{}{labelID}, nil); err != nil {
		return mailstore.Wrap(provider, "apply_label", err)
	}
	return nil
}

// ListLabels reports the keywords the selected folder knows about.
func (s *Store) ListLabels(ctx context.Context) ([]mailstore.Label, error) {
	status := s.client.Mailbox()
	if status == nil {
		return nil, mailstore.Wrap(provider, "list_labels", fmt.Errorf("no folder selected"))
	}

	var labels []mailstore.Label
	seen := make(map[string]bool)
	for _, f := range append(slices.Clone(status.Flags), status.PermanentFlags...) {
		if strings.HasPrefix(f, `\`) || seen[f] {
			continue
		}
		seen[f] = true
		labels = append(labels, mailstore.Label{ID: f, Name: f})
	}
	return labels, nil
}

// LabelID returns the keyword used for a label name
func (s *Store) LabelID(name string) string {
	return Keyword(name)
}

// CreateLabel needs no server round trip: keywords exist once applied.
func (s *Store) CreateLabel(ctx context.Context, spec mailstore.LabelSpec) (mailstore.Label, error) {
	kw := Keyword(spec.Name)
	if kw == "" {
		return mailstore.Label{}, mailstore.Wrap(provider, "create_label", fmt.Errorf("empty label name"))
	}
	return mailstore.Label{ID: kw, Name: spec.Name}, nil
}

// DeleteLabel strips the keyword from every message in the folder.
func (s *Store) DeleteLabel(ctx context.Context, id string) error {
	criteria := goimap.NewSearchCriteria()
	criteria.WithFlags = []string{id}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return mailstore.Wrap(provider, "delete_label", err)
	}
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uids...)
	item := goimap.FormatFlagsOp(goimap.RemoveFlags, true)
	if err := s.client.UidStore(seqSet, item, []interface{}{id}, nil); err != nil {
		return mailstore.Wrap(provider, "delete_label", err)
	}
	return nil
}

// Close logs out, closing the connection if logout fails
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Logout(); err != nil {
		s.logger.Debug("IMAP logout failed", "error", err)
		return s.client.Close()
	}
	return nil
}

var (
	_ mailstore.Store        = (*Store)(nil)
	_ mailstore.LabelDeriver = (*Store)(nil)
)
