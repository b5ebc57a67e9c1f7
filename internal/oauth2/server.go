package oauth2

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	CallbackAddr = "localhost:8085"
	CallbackPath = "/oauth/callback"
)

// RedirectURL is the redirect URI to register for the local callback server
func RedirectURL() string {
	return "http://" + CallbackAddr + CallbackPath
}

// StartLocalServer starts a local HTTP server to receive the OAuth2 callback
// and blocks until the authorization code arrives or ctx / the timeout ends.
func StartLocalServer(ctx context.Context, state string, logger *slog.Logger) (string, error) {
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	listener, err := net.Listen("tcp", CallbackAddr)
	if err != nil {
		return "", fmt.Errorf("failed to start local server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("state"); got != state {
			errChan <- fmt.Errorf("state mismatch in callback")
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no code in callback")
			http.Error(w, "No code provided", http.StatusBadRequest)
			return
		}

		codeChan <- code

		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `<html><body><p>Authorization complete. You can close this window.</p></body></html>`)
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()
	logger.Debug("started local OAuth2 server", "url", RedirectURL())

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	select {
	case code := <-codeChan:
		return code, nil
	case err := <-errChan:
		return "", err
	case <-timeoutCtx.Done():
		return "", fmt.Errorf("timeout waiting for authorization")
	}
}
