// Package metadata resolves descriptive data for thread identifiers from an
// HTTP service. Lookups are advisory; callers continue without metadata on error.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// HTTPConfig controls the HTTP lookup.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPLookup fetches GET {BaseURL}/{id}.
type HTTPLookup struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPLookup validates cfg; client may be nil.
func NewHTTPLookup(cfg HTTPConfig, client *http.Client) (*HTTPLookup, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("metadata.url: %w", err)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPLookup{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		token:  cfg.Token,
		client: client,
	}, nil
}

// Lookup implements recovery.MetadataLookup. A 404 yields nil metadata.
func (l *HTTPLookup) Lookup(ctx context.Context, id string) (*recovery.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request %s: %w", id, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("metadata request %s: unexpected status %d", id, resp.StatusCode)
	}
	var meta recovery.Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", id, err)
	}
	if meta == (recovery.Metadata{}) {
		return nil, nil
	}
	return &meta, nil
}

// Nop never returns metadata.
type Nop struct{}

// Lookup implements recovery.MetadataLookup.
func (Nop) Lookup(context.Context, string) (*recovery.Metadata, error) {
	return nil, nil
}
