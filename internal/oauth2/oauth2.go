package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no token was stored yet; run the auth command.
var ErrNoToken = errors.New("no OAuth2 token stored, run the auth command first")

// TokenManager keeps the token of one profile in a JSON file and refreshes it
// on demand. It implements oauth2.TokenSource, so the Gmail client uses it
// directly and every refresh lands on disk.
type TokenManager struct {
	mu     sync.Mutex
	config *oauth2.Config
	path   string
	token  *oauth2.Token
	logger *slog.Logger
}

// NewTokenManager reads the token stored at tokenFile, if any. An unreadable
// token file is logged and treated as missing so login can replace it.
func NewTokenManager(config *oauth2.Config, tokenFile string, logger *slog.Logger) (*TokenManager, error) {
	if err := os.MkdirAll(filepath.Dir(tokenFile), 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}

	tm := &TokenManager{
		config: config,
		path:   tokenFile,
		logger: logger.With("token_file", tokenFile),
	}

	token, err := readToken(tokenFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		tm.logger.Warn("ignoring unreadable OAuth2 token", "error", err)
	default:
		tm.token = token
		tm.logger.Debug("loaded OAuth2 token", "expires_at", token.Expiry.Format(time.RFC3339))
	}
	return tm, nil
}

// Token implements oauth2.TokenSource
func (tm *TokenManager) Token() (*oauth2.Token, error) {
	return tm.GetToken(context.Background())
}

// GetToken returns a valid token, exchanging the refresh token when the
// stored one has expired
func (tm *TokenManager) GetToken(ctx context.Context) (*oauth2.Token, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	switch {
	case tm.token == nil:
		return nil, ErrNoToken
	case tm.token.Valid():
		return tm.token, nil
	case tm.token.RefreshToken == "":
		return nil, fmt.Errorf("token expired and no refresh token available")
	}

	fresh, err := tm.config.TokenSource(ctx, tm.token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	// Google omits the refresh token from refresh responses
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tm.token.RefreshToken
	}
	tm.token = fresh
	tm.logger.Debug("refreshed OAuth2 token", "expires_at", fresh.Expiry.Format(time.RFC3339))

	if err := writeToken(tm.path, fresh); err != nil {
		tm.logger.Warn("failed to persist refreshed token", "error", err)
	}
	return fresh, nil
}

// SetToken replaces the stored token, typically after a login
func (tm *TokenManager) SetToken(token *oauth2.Token) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := writeToken(tm.path, token); err != nil {
		return err
	}
	tm.token = token
	return nil
}

// Clear forgets the token and deletes the token file. It reports whether a
// token file existed.
func (tm *TokenManager) Clear() (bool, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.token = nil
	if err := os.Remove(tm.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete token file: %w", err)
	}
	return true, nil
}

// GetAccessToken returns just the access token string
func (tm *TokenManager) GetAccessToken(ctx context.Context) (string, error) {
	token, err := tm.GetToken(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

// writeToken replaces the token file atomically; it holds a refresh token, so
// it is never readable by others.
func writeToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
