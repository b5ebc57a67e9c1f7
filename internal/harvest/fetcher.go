package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/altafino/fetch-attach/internal/mailstore"
	"github.com/altafino/fetch-attach/internal/storage"
)

// Fetch failure reasons
const (
	ReasonDecode     = "decode"
	ReasonProvider   = "provider"
	ReasonIO         = "io"
	ReasonHTTPStatus = "http-status"
	ReasonHTTP       = "http"
)

// FetchError is a failed harvest target. It becomes the message outcome and
// is never fatal to the run.
type FetchError struct {
	Reason string
	Status int // HTTP status for ReasonHTTPStatus
	Err    error
}

func (e *FetchError) Error() string {
	if e.Reason == ReasonHTTPStatus {
		return fmt.Sprintf("fetch failed (%s %d): %v", e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch failed (%s): %v", e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher materializes targets in storage. Each target is attempted once.
type Fetcher struct {
	store     mailstore.Store
	storage   storage.Storage
	client    *http.Client
	userAgent string
}

// NewFetcher creates a new fetcher. A nil client means http.DefaultClient.
func NewFetcher(store mailstore.Store, st storage.Storage, client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		store:     store,
		storage:   st,
		client:    client,
		userAgent: userAgent,
	}
}

// Fetch writes the target's bytes to dir/name in storage and returns the
// final path. Any error is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, t Target, dir, name string) (string, error) {
	if t.Kind == TargetLink {
		return f.fetchLink(ctx, t, dir, name)
	}
	return f.fetchAttachment(ctx, t, dir, name)
}

func (f *Fetcher) fetchAttachment(ctx context.Context, t Target, dir, name string) (string, error) {
	data := t.Data
	switch {
	case data != "":
	case t.AttachmentID != "":
		var err error
		data, err = f.store.GetAttachment(ctx, t.MessageID, t.AttachmentID)
		if err != nil {
			return "", &FetchError{Reason: ReasonProvider, Err: err}
		}
	default:
		// Neither inline nor referenced: nothing to write
		return "", &FetchError{Reason: ReasonDecode, Err: fmt.Errorf("attachment %q has no payload", t.Filename)}
	}

	b, err := mailstore.DecodeData(data)
	if err != nil {
		return "", &FetchError{Reason: ReasonDecode, Err: err}
	}

	path, err := f.storage.Save(ctx, dir, name, bytes.NewReader(b))
	if err != nil {
		return "", &FetchError{Reason: ReasonIO, Err: err}
	}
	return path, nil
}

func (f *Fetcher) fetchLink(ctx context.Context, t Target, dir, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return "", &FetchError{Reason: ReasonHTTP, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{Reason: ReasonHTTP, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &FetchError{
			Reason: ReasonHTTPStatus,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("GET %s: %s", t.URL, resp.Status),
		}
	}

	path, err := f.storage.Save(ctx, dir, name, resp.Body)
	if err != nil {
		var srcErr *storage.SourceError
		if errors.As(err, &srcErr) {
			return "", &FetchError{Reason: ReasonHTTP, Err: err}
		}
		return "", &FetchError{Reason: ReasonIO, Err: err}
	}
	return path, nil
}
