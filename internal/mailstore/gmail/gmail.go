package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/altafino/fetch-attach/internal/mailstore"
	fetchoauth "github.com/altafino/fetch-attach/internal/oauth2"
	"github.com/altafino/fetch-attach/internal/types"
	"github.com/sony/gobreaker"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const provider = "gmail"

// Store implements mailstore.Store on top of the Gmail REST API.
type Store struct {
	srv        *gmailapi.Service
	userID     string
	extraQuery string
	cb         *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// New creates a Gmail store authorized with the profile's stored OAuth2 token
func New(ctx context.Context, cfg *types.Config, logger *slog.Logger) (*Store, error) {
	scopes, err := fetchoauth.ScopesFor(provider)
	if err != nil {
		return nil, err
	}

	oauthCfg, err := fetchoauth.GetGoogleConfig(cfg.Mailbox.Gmail.CredentialsFile, fetchoauth.RedirectURL(), scopes...)
	if err != nil {
		return nil, err
	}

	tm, err := fetchoauth.NewTokenManager(oauthCfg, cfg.Mailbox.Gmail.TokenFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	srv, err := gmailapi.NewService(ctx,
		option.WithTokenSource(tm),
		option.WithHTTPClient(&http.Client{Timeout: cfg.MailboxTimeout()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail client: %w", err)
	}

	return NewWithService(srv, cfg.Mailbox.Gmail.UserID, cfg.Mailbox.Gmail.Query, logger), nil
}

// NewWithService wraps an already configured Gmail service
func NewWithService(srv *gmailapi.Service, userID, extraQuery string, logger *slog.Logger) *Store {
	if userID == "" {
		userID = "me"
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors are answers, not outages
		IsSuccessful: func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &Store{
		srv:        srv,
		userID:     userID,
		extraQuery: extraQuery,
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
		logger:     logger,
	}
}

func (s *Store) execute(op string, fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return mailstore.Wrap(provider, op, err)
}

// BuildQuery renders a selection query in Gmail search syntax
func BuildQuery(q mailstore.Query, extra string) string {
	var b strings.Builder
	if q.From != "" {
		b.WriteString("from:")
		b.WriteString(q.From)
	}
	for _, l := range q.ExcludeLabels {
		if l.Name == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("-label:")
		b.WriteString(searchName(l.Name))
	}
	if extra != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(extra)
	}
	return b.String()
}

// searchName converts a label name to the form Gmail search expects:
// lower case with spaces and slashes replaced by dashes.
func searchName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '/' {
			return '-'
		}
		return r
	}, strings.ToLower(name))
}

// ListMessages runs the search query and follows every result page
func (s *Store) ListMessages(ctx context.Context, q mailstore.Query) ([]string, error) {
	query := BuildQuery(q, s.extraQuery)
	s.logger.Debug("listing messages", "query", query)

	var ids []string
	err := s.execute("list_messages", func() error {
		ids = ids[:0]
		return s.srv.Users.Messages.List(s.userID).Q(query).Context(ctx).
			Pages(ctx, func(resp *gmailapi.ListMessagesResponse) error {
				for _, m := range resp.Messages {
					ids = append(ids, m.Id)
				}
				return nil
			})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetMessage fetches the full message payload
func (s *Store) GetMessage(ctx context.Context, id string) (*mailstore.Message, error) {
	var msg *gmailapi.Message
	err := s.execute("get_message", func() error {
		var apiErr error
		msg, apiErr = s.srv.Users.Messages.Get(s.userID, id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

func convertMessage(msg *gmailapi.Message) *mailstore.Message {
	out := &mailstore.Message{
		ID:     msg.Id,
		Labels: msg.LabelIds,
	}
	if msg.Payload == nil {
		return out
	}

	for _, h := range msg.Payload.Headers {
		switch {
		case strings.EqualFold(h.Name, "From"):
			out.From = h.Value
		case strings.EqualFold(h.Name, "Subject"):
			out.Subject = h.Value
		}
	}

	// Single part messages carry the body on the payload itself
	if len(msg.Payload.Parts) == 0 {
		out.Parts = []mailstore.Part{convertPart(msg.Payload)}
		return out
	}
	for _, p := range msg.Payload.Parts {
		out.Parts = append(out.Parts, convertPart(p))
	}
	return out
}

func convertPart(p *gmailapi.MessagePart) mailstore.Part {
	part := mailstore.Part{
		Filename: p.Filename,
		MimeType: p.MimeType,
	}
	if p.Body != nil {
		part.Data = p.Body.Data
		part.AttachmentID = p.Body.AttachmentId
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

// GetAttachment fetches the body of a large attachment by its id
func (s *Store) GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	var att *gmailapi.MessagePartBody
	err := s.execute("get_attachment", func() error {
		var apiErr error
		att, apiErr = s.srv.Users.Messages.Attachments.Get(s.userID, messageID, attachmentID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", err
	}
	return att.Data, nil
}

// ApplyLabel adds a label id to the message
func (s *Store) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	return s.execute("apply_label", func() error {
		_, err := s.srv.Users.Messages.Modify(s.userID, messageID, &gmailapi.ModifyMessageRequest{
			AddLabelIds: []string{labelID},
		}).Context(ctx).Do()
		return err
	})
}

// ListLabels returns the user labels of the mailbox
func (s *Store) ListLabels(ctx context.Context) ([]mailstore.Label, error) {
	var resp *gmailapi.ListLabelsResponse
	err := s.execute("list_labels", func() error {
		var apiErr error
		resp, apiErr = s.srv.Users.Labels.List(s.userID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, err
	}

	labels := make([]mailstore.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, convertLabel(l))
	}
	return labels, nil
}

// CreateLabel creates a user label with the requested visibility
func (s *Store) CreateLabel(ctx context.Context, spec mailstore.LabelSpec) (mailstore.Label, error) {
	var created *gmailapi.Label
	err := s.execute("create_label", func() error {
		var apiErr error
		created, apiErr = s.srv.Users.Labels.Create(s.userID, &gmailapi.Label{
			Name:                  spec.Name,
			MessageListVisibility: spec.MessageListVisibility,
			LabelListVisibility:   spec.LabelListVisibility,
		}).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return mailstore.Label{}, err
	}
	return convertLabel(created), nil
}

// DeleteLabel removes the label from the mailbox and all messages
func (s *Store) DeleteLabel(ctx context.Context, id string) error {
	return s.execute("delete_label", func() error {
		return s.srv.Users.Labels.Delete(s.userID, id).Context(ctx).Do()
	})
}

// Close is a no-op, the REST client holds no connection
func (s *Store) Close() error {
	return nil
}

func convertLabel(l *gmailapi.Label) mailstore.Label {
	return mailstore.Label{
		ID:                    l.Id,
		Name:                  l.Name,
		MessageListVisibility: l.MessageListVisibility,
		LabelListVisibility:   l.LabelListVisibility,
	}
}

var _ mailstore.Store = (*Store)(nil)
