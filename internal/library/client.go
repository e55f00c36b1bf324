// Package library triggers rescans on an Audiobookshelf-compatible media
// server after new files land in the library tree.
package library

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"listenarr/internal/services"
)

// Scanner is the capability the library-scan processor needs.
type Scanner interface {
	TriggerScan(ctx context.Context, libraryID string) error
}

// Client talks to the Audiobookshelf REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config carries media server connection settings.
type Config struct {
	URL            string
	APIKey         string
	TimeoutSeconds int
}

// NewClient builds a media server client. A zero timeout defaults to 30
// seconds.
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

// TriggerScan asks the server to rescan one library. The scan itself runs
// asynchronously on the server; a 200 means it was queued.
func (c *Client) TriggerScan(ctx context.Context, libraryID string) error {
	if strings.TrimSpace(libraryID) == "" {
		return services.Wrap(services.ErrConfiguration, "scan", "trigger_scan", "library id not configured", nil)
	}
	endpoint := fmt.Sprintf("%s/api/libraries/%s/scan", c.baseURL, libraryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "scan", "trigger_scan", "build scan request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scan", "trigger_scan", "media server unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "scan", "trigger_scan",
			fmt.Sprintf("media server rejected API key (status %d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrConfiguration, "scan", "trigger_scan",
			fmt.Sprintf("library %s not found", libraryID), nil)
	default:
		return services.Wrap(services.ErrTransient, "scan", "trigger_scan",
			fmt.Sprintf("media server returned status %d", resp.StatusCode), nil)
	}
}
