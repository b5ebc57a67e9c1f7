package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/altafino/fetch-attach/internal/mailstore"
	"github.com/altafino/fetch-attach/internal/mailstore/gmail"
	imapstore "github.com/altafino/fetch-attach/internal/mailstore/imap"
	pop3store "github.com/altafino/fetch-attach/internal/mailstore/pop3"
	"github.com/altafino/fetch-attach/internal/types"
)

// MailboxOpener connects to the message store of a profile
type MailboxOpener func(ctx context.Context, cfg *types.Config, logger *slog.Logger) (mailstore.Store, error)

// OpenMailbox connects to the backend named by mailbox.provider
func OpenMailbox(ctx context.Context, cfg *types.Config, logger *slog.Logger) (mailstore.Store, error) {
	logger = logger.With("provider", cfg.Mailbox.Provider)

	switch cfg.Mailbox.Provider {
	case "gmail":
		s, err := gmail.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "imap":
		s, err := imapstore.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pop3":
		s, err := pop3store.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", mailstore.ErrUnsupportedProvider, cfg.Mailbox.Provider)
	}
}
