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
	"listenarr/internal/notifications"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

// Monitor handles download_monitor jobs. Each execution is one poll: it reads
// the client state, persists progress, and either re-enqueues itself with the
// next delay or drives the request to its next stage.
type Monitor struct {
	store  *requests.Store
	client downloadclient.Client
	queue  jobs.Enqueuer
	mapper downloadclient.PathMapper
	cfg    Config
	logger *slog.Logger
}

// NewMonitor wires the monitor stage.
func NewMonitor(store *requests.Store, client downloadclient.Client, queue jobs.Enqueuer,
	mapper downloadclient.PathMapper, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		store:  store,
		client: client,
		queue:  queue,
		mapper: mapper,
		cfg:    cfg.normalized(),
		logger: logger.With(logging.String(logging.FieldComponent, "monitor")),
	}
}

// Process runs one poll iteration.
func (m *Monitor) Process(ctx context.Context, payload jobs.MonitorPayload) error {
	ctx = services.WithRequestID(ctx, payload.RequestID)
	ctx = services.WithStage(ctx, "monitor")

	request, err := m.store.GetRequest(ctx, payload.RequestID)
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return nil
		}
		return err
	}
	if !request.IsActive() {
		m.logger.InfoContext(ctx, "stopping monitor for inactive request",
			logging.String("status", string(request.Status)))
		m.closeDownload(ctx, payload.DownloadHistoryID, requests.DownloadCancelled, "request no longer active", "")
		return nil
	}

	transfer, err := m.client.Status(ctx, payload.TransferHash)
	if errors.Is(err, downloadclient.ErrTransferNotFound) {
		return m.handleNotFound(ctx, request, payload)
	}
	if err != nil {
		return err
	}
	payload.NotFoundSince = nil

	progress := downloadclient.NormalizeProgress(transfer.Progress)
	if err := m.store.SetProgress(ctx, request.ID, progress); err != nil {
		return err
	}

	switch transfer.State {
	case downloadclient.StateErrored:
		return m.failTransfer(ctx, request, payload, "download client reported a transfer error")
	case downloadclient.StateCompleted:
		return m.completeTransfer(ctx, request, payload, transfer)
	default:
		return m.reschedule(ctx, payload, progress)
	}
}

// handleNotFound applies the grace period for freshly submitted transfers the
// client has not registered yet. Past the grace window the transfer is gone
// for real.
func (m *Monitor) handleNotFound(ctx context.Context, request *requests.Request, payload jobs.MonitorPayload) error {
	now := time.Now().UTC()
	if payload.NotFoundSince == nil {
		payload.NotFoundSince = &now
	}
	if now.Sub(*payload.NotFoundSince) < m.cfg.NotFoundGrace {
		m.logger.DebugContext(ctx, "transfer not visible yet, retrying within grace period",
			logging.String("hash", payload.TransferHash))
		_, err := m.queue.EnqueueMonitor(ctx, payload, jobs.WithDelay(m.cfg.PollInterval))
		return err
	}
	return m.failTransfer(ctx, request, payload, "transfer disappeared from the download client")
}

// failTransfer closes the history row and terminally fails the request.
// Terminal client errors are stage outcomes, not job failures.
func (m *Monitor) failTransfer(ctx context.Context, request *requests.Request, payload jobs.MonitorPayload, message string) error {
	m.closeDownload(ctx, payload.DownloadHistoryID, requests.DownloadFailed, message, "")
	if err := m.store.SetFailed(ctx, request.ID, message); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "transfer failed", logging.String("reason", message))
	_, err := m.queue.EnqueueNotification(ctx, jobs.NotificationPayload{
		Event:     string(notifications.EventRequestFailed),
		RequestID: request.ID,
		Title:     request.Title,
		Author:    request.Author,
		UserName:  request.UserName,
		Message:   message,
	})
	return err
}

// completeTransfer finalizes the download and enqueues exactly one organize
// job with the client path mapped into this process's filesystem view.
func (m *Monitor) completeTransfer(ctx context.Context, request *requests.Request, payload jobs.MonitorPayload, transfer downloadclient.Transfer) error {
	localPath := m.mapper.Map(transfer.ContentPath)
	if localPath == "" {
		localPath = m.mapper.Map(transfer.SavePath)
	}

	if err := m.store.CloseDownload(ctx, payload.DownloadHistoryID, requests.DownloadCompleted, "", localPath); err != nil {
		if errors.Is(err, requests.ErrConflict) {
			// A redelivered poll already finalized this transfer; the organize
			// job exists.
			return nil
		}
		return err
	}
	if _, err := m.store.Transition(ctx, request.ID, requests.StatusDownloading, requests.StatusDownloaded); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "transfer complete",
		logging.String("hash", payload.TransferHash),
		logging.String("path", localPath))

	_, err := m.queue.EnqueueOrganize(ctx, jobs.OrganizePayload{
		RequestID:    request.ID,
		AudiobookID:  request.ID,
		DownloadPath: localPath,
	})
	return err
}

// reschedule updates the stall counters and re-enqueues the next poll. A
// stalled transfer backs off with a growing, bounded delay until the stall
// limit converts it into a failure handled by the queue's escalation.
func (m *Monitor) reschedule(ctx context.Context, payload jobs.MonitorPayload, progress int) error {
	if progress > payload.LastProgress {
		payload.StallCount = 0
	} else {
		payload.StallCount++
	}
	payload.LastProgress = progress

	if payload.StallCount >= m.cfg.StallLimit {
		return services.Wrap(services.ErrTimeout, "monitor", "stall_limit",
			fmt.Sprintf("no progress after %d polls", payload.StallCount), nil)
	}

	delay := NextPollDelay(m.cfg.PollInterval, m.cfg.MaxInterval, payload.StallCount)
	m.logger.DebugContext(ctx, "transfer still running",
		logging.Int("progress", progress),
		logging.Int("stallCount", payload.StallCount),
		logging.Duration("nextPoll", delay))

	_, err := m.queue.EnqueueMonitor(ctx, payload, jobs.WithDelay(delay))
	return err
}

// closeDownload finalizes the history row, tolerating already-closed rows.
func (m *Monitor) closeDownload(ctx context.Context, historyID int64, status requests.DownloadStatus, message, sourcePath string) {
	if err := m.store.CloseDownload(ctx, historyID, status, message, sourcePath); err != nil && !errors.Is(err, requests.ErrConflict) {
		m.logger.WarnContext(ctx, "close download history failed",
			logging.Int64("historyId", historyID), logging.Error(err))
	}
}

// NextPollDelay computes the wait before the next poll. Delay grows linearly
// with consecutive no-progress polls and never exceeds the configured
// maximum, so the sequence is non-decreasing and bounded.
func NextPollDelay(base, max time.Duration, stallCount int) time.Duration {
	if stallCount < 0 {
		stallCount = 0
	}
	delay := base + base*time.Duration(stallCount)
	if delay > max {
		return max
	}
	return delay
}
