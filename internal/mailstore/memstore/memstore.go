package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/altafino/fetch-attach/internal/mailstore"
)

// Store is an in-memory mailstore.Store. Messages are listed in insertion
// order and labeled messages are filtered out exactly like a provider query.
type Store struct {
	mu          sync.Mutex
	messages    []*mailstore.Message
	attachments map[string]string // messageID/attachmentID -> data
	labels      []mailstore.Label
	nextLabel   int

	// Applied records every ApplyLabel call in order
	Applied []Applied
	// Fail makes the named operation return an error
	Fail map[string]error
}

// Applied is one recorded ApplyLabel call
type Applied struct {
	MessageID string
	LabelID   string
}

// New creates an empty store
func New() *Store {
	return &Store{
		attachments: make(map[string]string),
		Fail:        make(map[string]error),
	}
}

// AddMessage stores a copy of msg.
func (s *Store) AddMessage(msg mailstore.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := msg
	m.Labels = slices.Clone(msg.Labels)
	s.messages = append(s.messages, &m)
}

// AddAttachment registers payload data for a referenced attachment.
func (s *Store) AddAttachment(messageID, attachmentID, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[messageID+"/"+attachmentID] = data
}

// Labels returns the label ids currently applied to a message.
func (s *Store) Labels(messageID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			return slices.Clone(m.Labels)
		}
	}
	return nil
}

func (s *Store) fail(op string) error {
	if err := s.Fail[op]; err != nil {
		return mailstore.Wrap("memory", op, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, q mailstore.Query) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("list_messages"); err != nil {
		return nil, err
	}

	exclude := make([]string, 0, len(q.ExcludeLabels))
	for _, l := range q.ExcludeLabels {
		exclude = append(exclude, l.ID)
	}

	var ids []string
	for _, m := range s.messages {
		if q.From != "" && !strings.Contains(strings.ToLower(m.From), strings.ToLower(q.From)) {
			continue
		}
		if m.HasAnyLabel(exclude...) {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*mailstore.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("get_message"); err != nil {
		return nil, err
	}
	for _, m := range s.messages {
		if m.ID == id {
			c := *m
			c.Labels = slices.Clone(m.Labels)
			return &c, nil
		}
	}
	return nil, mailstore.Wrap("memory", "get_message", fmt.Errorf("message %s: %w", id, mailstore.ErrNotFound))
}

func (s *Store) GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("get_attachment"); err != nil {
		return "", err
	}
	data, ok := s.attachments[messageID+"/"+attachmentID]
	if !ok {
		return "", mailstore.Wrap("memory", "get_attachment", fmt.Errorf("attachment %s: %w", attachmentID, mailstore.ErrNotFound))
	}
	return data, nil
}

func (s *Store) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("apply_label"); err != nil {
		return err
	}
	for _, m := range s.messages {
		if m.ID != messageID {
			continue
		}
		s.Applied = append(s.Applied, Applied{MessageID: messageID, LabelID: labelID})
		if !slices.Contains(m.Labels, labelID) {
			m.Labels = append(m.Labels, labelID)
		}
		return nil
	}
	return mailstore.Wrap("memory", "apply_label", fmt.Errorf("message %s: %w", messageID, mailstore.ErrNotFound))
}

func (s *Store) ListLabels(ctx context.Context) ([]mailstore.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("list_labels"); err != nil {
		return nil, err
	}
	return slices.Clone(s.labels), nil
}

func (s *Store) CreateLabel(ctx context.Context, spec mailstore.LabelSpec) (mailstore.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("create_label"); err != nil {
		return mailstore.Label{}, err
	}
	s.nextLabel++
	l := mailstore.Label{
		ID:                    fmt.Sprintf("Label_%d", s.nextLabel),
		Name:                  spec.Name,
		MessageListVisibility: spec.MessageListVisibility,
		LabelListVisibility:   spec.LabelListVisibility,
	}
	s.labels = append(s.labels, l)
	return l, nil
}

func (s *Store) DeleteLabel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("delete_label"); err != nil {
		return err
	}
	s.labels = slices.DeleteFunc(s.labels, func(l mailstore.Label) bool { return l.ID == id })
	for _, m := range s.messages {
		m.Labels = slices.DeleteFunc(m.Labels, func(have string) bool { return have == id })
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
