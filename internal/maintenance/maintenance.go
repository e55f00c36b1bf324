// Package maintenance implements the recurring sweep that keeps the job
// ledger and the request pipeline healthy: orphaned jobs are reset, finished
// ledger rows past retention are pruned, and requests that stopped moving are
// re-driven into their next stage.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"listenarr/internal/jobs"
	"listenarr/internal/logging"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

// Config tunes the sweep.
type Config struct {
	// JobRetention is how long finished ledger rows are kept.
	JobRetention time.Duration
	// StaleAfter is how long a request may sit in a waiting status before
	// the sweep re-drives it.
	StaleAfter time.Duration
}

func (c Config) normalized() Config {
	if c.JobRetention <= 0 {
		c.JobRetention = 30 * 24 * time.Hour
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	return c
}

// Processor handles maintenance jobs.
type Processor struct {
	store  *requests.Store
	queue  jobs.Enqueuer
	cfg    Config
	logger *slog.Logger
}

// NewProcessor wires the maintenance sweep.
func NewProcessor(store *requests.Store, queue jobs.Enqueuer, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		store:  store,
		queue:  queue,
		cfg:    cfg.normalized(),
		logger: logger.With(logging.String(logging.FieldComponent, "maintenance")),
	}
}

// Process runs one sweep. Individual steps are independent: a failure in one
// is recorded and the remaining steps still run, so a single bad row cannot
// block ledger pruning forever.
func (p *Processor) Process(ctx context.Context, _ jobs.MaintenancePayload) error {
	ctx = services.WithStage(ctx, "maintenance")
	var errs []error

	reset, err := p.store.ResetOrphanedJobs(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if reset > 0 {
		p.logger.InfoContext(ctx, "orphaned jobs reset", logging.Int64("count", reset))
	}

	pruned, err := p.store.PruneJobs(ctx, time.Now().UTC().Add(-p.cfg.JobRetention))
	if err != nil {
		errs = append(errs, err)
	} else if pruned > 0 {
		p.logger.InfoContext(ctx, "finished jobs pruned", logging.Int64("count", pruned))
	}

	if err := p.redriveStaleRequests(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// redriveStaleRequests finds requests stuck in a waiting status and enqueues
// the stage that should move them. The common cause is a job lost to a crash
// after its retries were already spent.
func (p *Processor) redriveStaleRequests(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-p.cfg.StaleAfter)
	var errs []error

	for _, status := range []requests.Status{requests.StatusPending, requests.StatusAwaitingSearch} {
		stale, err := p.store.ListStaleByStatus(ctx, status, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, request := range stale {
			p.logger.InfoContext(ctx, "re-driving stale request",
				logging.Int64(logging.FieldRequestID, request.ID),
				logging.String("status", string(request.Status)))
			if _, err := p.queue.EnqueueSearch(ctx, jobs.SearchPayload{
				RequestID: request.ID,
				Audiobook: jobs.Item{
					ID:     request.ID,
					Title:  request.Title,
					Author: request.Author,
					ASIN:   request.ASIN,
				},
			}); err != nil {
				errs = append(errs, err)
			}
		}
	}

	stale, err := p.store.ListStaleByStatus(ctx, requests.StatusAwaitingImport, cutoff)
	if err != nil {
		errs = append(errs, err)
	}
	for _, request := range stale {
		sourcePath, err := p.latestSourcePath(ctx, request.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sourcePath == "" {
			p.logger.WarnContext(ctx, "stale import has no recorded source path",
				logging.Int64(logging.FieldRequestID, request.ID))
			continue
		}
		p.logger.InfoContext(ctx, "re-driving stale import",
			logging.Int64(logging.FieldRequestID, request.ID),
			logging.String("path", sourcePath))
		if _, err := p.queue.EnqueueOrganize(ctx, jobs.OrganizePayload{
			RequestID:    request.ID,
			AudiobookID:  request.ID,
			DownloadPath: sourcePath,
		}); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// latestSourcePath returns the most recent completed transfer's landing path.
func (p *Processor) latestSourcePath(ctx context.Context, requestID int64) (string, error) {
	transfers, err := p.store.ListDownloads(ctx, requestID)
	if err != nil {
		return "", err
	}
	for _, transfer := range transfers {
		if transfer.Status == requests.DownloadCompleted && transfer.SourcePath != "" {
			return transfer.SourcePath, nil
		}
	}
	return "", nil
}
