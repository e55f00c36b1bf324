// Package download implements the transfer stages: submitting the selected
// candidate to the download client and the monitor loop that polls it to a
// terminal state. All loop state rides in the job payload so a worker restart
// between polls loses nothing.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"listenarr/internal/downloadclient"
	"listenarr/internal/jobs"
	"listenarr/internal/logging"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

// Config tunes the monitor loop.
type Config struct {
	ClientID      string
	ClientType    string
	PollInterval  time.Duration
	MaxInterval   time.Duration
	NotFoundGrace time.Duration
	StallLimit    int
}

func (c Config) normalized() Config {
	if c.ClientID == "" {
		c.ClientID = "qbittorrent-main"
	}
	if c.ClientType == "" {
		c.ClientType = "qbittorrent"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.MaxInterval < c.PollInterval {
		c.MaxInterval = 5 * time.Minute
	}
	if c.NotFoundGrace <= 0 {
		c.NotFoundGrace = 2 * time.Minute
	}
	if c.StallLimit <= 0 {
		c.StallLimit = 40
	}
	return c
}

// Starter handles download_torrent jobs.
type Starter struct {
	store  *requests.Store
	client downloadclient.Client
	queue  jobs.Enqueuer
	cfg    Config
	logger *slog.Logger
}

// NewStarter wires the download submission stage.
func NewStarter(store *requests.Store, client downloadclient.Client, queue jobs.Enqueuer,
	cfg Config, logger *slog.Logger) *Starter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Starter{
		store:  store,
		client: client,
		queue:  queue,
		cfg:    cfg.normalized(),
		logger: logger.With(logging.String(logging.FieldComponent, "download")),
	}
}

// Process submits the selected transfer and starts the monitor loop. A
// rejected submission fails the request on the first attempt: the download
// client's answer will not change on a retry, so the error surfaces as
// non-retryable.
func (s *Starter) Process(ctx context.Context, payload jobs.DownloadPayload) error {
	ctx = services.WithRequestID(ctx, payload.RequestID)
	ctx = services.WithStage(ctx, "download")

	request, err := s.store.GetRequest(ctx, payload.RequestID)
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return nil
		}
		return err
	}
	if !request.IsActive() {
		s.logger.InfoContext(ctx, "skipping download for inactive request",
			logging.String("status", string(request.Status)))
		return nil
	}

	if payload.Torrent.Link == "" {
		return services.Wrap(services.ErrValidation, "download", "submit",
			"selected candidate has no usable link", nil)
	}

	// A redelivered job may already have an open transfer; resume monitoring
	// instead of submitting a duplicate. A crash between OpenDownload and the
	// status transition leaves the request in searching, so repair that here
	// before handing off to the monitor.
	if history, err := s.store.OpenDownloadForRequest(ctx, request.ID); err == nil {
		if request.Status == requests.StatusSearching {
			if _, err := s.store.Transition(ctx, request.ID, requests.StatusSearching, requests.StatusDownloading); err != nil && !errors.Is(err, requests.ErrConflict) {
				return err
			}
		}
		s.logger.InfoContext(ctx, "transfer already open, resuming monitor",
			logging.String("hash", history.TransferHash))
		return s.enqueueMonitor(ctx, request.ID, history)
	} else if !errors.Is(err, requests.ErrNotFound) {
		return err
	}

	hash, err := s.client.Submit(ctx, payload.Torrent.Link)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "download", "submit",
			fmt.Sprintf("download client rejected the transfer: %v", err), nil)
	}

	history := &requests.DownloadHistory{
		RequestID:    request.ID,
		ClientID:     s.cfg.ClientID,
		ClientType:   s.cfg.ClientType,
		TransferHash: hash,
	}
	if err := s.store.OpenDownload(ctx, history); err != nil {
		return err
	}

	if request.Status == requests.StatusSearching {
		if _, err := s.store.Transition(ctx, request.ID, requests.StatusSearching, requests.StatusDownloading); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "transfer submitted",
		logging.String("hash", hash),
		logging.String("release", payload.Torrent.Title),
		logging.String("indexer", payload.Torrent.Indexer))
	return s.enqueueMonitor(ctx, request.ID, history)
}

func (s *Starter) enqueueMonitor(ctx context.Context, requestID int64, history *requests.DownloadHistory) error {
	_, err := s.queue.EnqueueMonitor(ctx, jobs.MonitorPayload{
		RequestID:         requestID,
		DownloadHistoryID: history.ID,
		DownloadClientID:  s.cfg.ClientID,
		DownloadClient:    s.cfg.ClientType,
		TransferHash:      history.TransferHash,
	}, jobs.WithDelay(s.cfg.PollInterval))
	if err != nil {
		return fmt.Errorf("enqueue monitor: %w", err)
	}
	return nil
}
