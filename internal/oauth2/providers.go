package oauth2

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// Scope used for IMAP XOAUTH2 against Gmail
const GoogleMailScope = "https://mail.google.com/"

// GetGoogleConfig returns the OAuth2 config for a Google client secrets file
// as downloaded from the Cloud console.
func GetGoogleConfig(credentialsFile, redirectURL string, scopes ...string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return cfg, nil
}

// ScopesFor returns the scopes a mailbox provider needs
func ScopesFor(provider string) ([]string, error) {
	switch provider {
	case "gmail":
		return []string{gmail.GmailModifyScope}, nil
	case "imap":
		return []string{GoogleMailScope}, nil
	default:
		return nil, fmt.Errorf("unsupported OAuth2 provider: %s", provider)
	}
}
