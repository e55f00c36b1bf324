// Package indexer queries a Prowlarr-compatible search API for candidate
// releases.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"listenarr/internal/services"
)

// maxResponseBytes caps search response bodies as a safety limit.
const maxResponseBytes int64 = 16 << 20

// Release is one candidate result from an indexer search.
type Release struct {
	Title       string    `json:"title"`
	Indexer     string    `json:"indexer"`
	IndexerID   int       `json:"indexerId"`
	GUID        string    `json:"guid"`
	Size        int64     `json:"size"`
	Seeders     int       `json:"seeders"`
	Leechers    int       `json:"leechers"`
	DownloadURL string    `json:"downloadUrl"`
	MagnetURL   string    `json:"magnetUrl"`
	InfoHash    string    `json:"infoHash"`
	PublishDate time.Time `json:"publishDate"`
}

// Searcher is the capability the search processor needs from an indexer
// backend.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Release, error)
}

// Client talks to a Prowlarr-compatible aggregated search endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config carries indexer connection settings.
type Config struct {
	URL            string
	APIKey         string
	TimeoutSeconds int
}

// NewClient builds an indexer client. A zero timeout defaults to 30 seconds.
func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Search runs an aggregated query across all configured indexers. Results
// come back in the backend's discovery order, which downstream ranking uses
// as the tie-break.
func (c *Client) Search(ctx context.Context, query string) ([]Release, error) {
	if strings.TrimSpace(query) == "" {
		return nil, services.Wrap(services.ErrValidation, "search", "indexer_query", "empty search query", nil)
	}

	endpoint := fmt.Sprintf("%s/api/v1/search?%s", c.baseURL, url.Values{
		"query": {query},
		"type":  {"search"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "search", "indexer_query", "build search request", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "search", "indexer_query", "indexer unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrConfiguration, "search", "indexer_query",
			fmt.Sprintf("indexer rejected API key (status %d)", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, services.Wrap(services.ErrTransient, "search", "indexer_query",
			fmt.Sprintf("indexer returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "search", "indexer_query", "read search response", err)
	}

	var releases []Release
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, services.Wrap(services.ErrTransient, "search", "indexer_query", "decode search response", err)
	}
	return releases, nil
}

// Link returns the usable transfer handle for a release, preferring magnet
// links over indexer-proxied torrent downloads.
func (r Release) Link() string {
	if r.MagnetURL != "" {
		return r.MagnetURL
	}
	return r.DownloadURL
}
