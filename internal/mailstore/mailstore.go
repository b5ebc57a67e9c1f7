package mailstore

import (
	"context"
	"errors"
	"fmt"
)

// Store is the remote mailbox treated as a labeled document store.
// Implementations must make ApplyLabel a set-union so repeated calls are
// harmless.
type Store interface {
	// ListMessages returns the ids of messages matching the query, in provider order
	ListMessages(ctx context.Context, q Query) ([]string, error)

	// GetMessage returns the full message with its parts and current labels
	GetMessage(ctx context.Context, id string) (*Message, error)

	// GetAttachment returns the URL-safe base64 payload of a referenced attachment
	GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error)

	// ApplyLabel adds a label to a message
	ApplyLabel(ctx context.Context, messageID, labelID string) error

	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, spec LabelSpec) (Label, error)
	DeleteLabel(ctx context.Context, id string) error

	// Close releases the underlying connection
	Close() error
}

// LabelDeriver is implemented by stores whose label ids follow from the label
// name, such as IMAP keywords. Such labels only show up in ListLabels once
// some message carries them.
type LabelDeriver interface {
	LabelID(name string) string
}

// Query selects candidate messages. Messages carrying any of ExcludeLabels
// are not returned.
type Query struct {
	From          string
	ExcludeLabels []Label
}

// Message is a mail message as seen by the harvester.
type Message struct {
	ID      string
	From    string
	Subject string
	Parts   []Part
	Labels  []string
}

// HasAnyLabel reports whether the message carries one of the given label ids.
func (m *Message) HasAnyLabel(ids ...string) bool {
	for _, have := range m.Labels {
		for _, id := range ids {
			if id != "" && have == id {
				return true
			}
		}
	}
	return false
}

// Part is one body part. Data holds the body as URL-safe base64, matching the
// Gmail wire format; providers that deliver raw MIME encode it the same way.
// Attachments too large to be inlined carry an AttachmentID instead.
type Part struct {
	Filename     string
	MimeType     string
	Data         string
	AttachmentID string
	Parts        []Part
}

// Label is a provider label. Gmail assigns opaque ids; IMAP and POP3 ids are
// derived from the name.
type Label struct {
	ID                    string
	Name                  string
	MessageListVisibility string
	LabelListVisibility   string
}

// LabelSpec describes a label to create.
type LabelSpec struct {
	Name                  string
	MessageListVisibility string
	LabelListVisibility   string
}

// ProviderError wraps any failure of a Store call.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Common errors
var (
	ErrNotFound            = errors.New("not found")
	ErrUnsupportedProvider = errors.New("unsupported mailbox provider")
)

// Wrap converts err into a *ProviderError, leaving nil untouched.
func Wrap(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
