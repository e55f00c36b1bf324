package organizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"listenarr/internal/jobs"
	"listenarr/internal/logging"
	"listenarr/internal/notifications"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

// Importer performs the filesystem side of the organize stage. *Organizer is
// the production implementation.
type Importer interface {
	Organize(ctx context.Context, source string, meta Metadata) (Result, error)
}

// ProcessorConfig tunes the organize stage's retry and handoff behavior.
type ProcessorConfig struct {
	RetryDelay   time.Duration
	ScanOnImport bool
	LibraryID    string
}

func (c ProcessorConfig) normalized() ProcessorConfig {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Minute
	}
	return c
}

// Processor handles organize_files jobs. Import failures are retried on their
// own counter, separate from the job attempt ceiling: each retry parks the
// request in awaiting_import and schedules a fresh job, so a slow-to-settle
// download directory gets several passes before the request degrades to warn.
type Processor struct {
	store    *requests.Store
	importer Importer
	queue    jobs.Enqueuer
	cfg      ProcessorConfig
	logger   *slog.Logger
}

// NewProcessor wires the organize stage.
func NewProcessor(store *requests.Store, importer Importer, queue jobs.Enqueuer,
	cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		store:    store,
		importer: importer,
		queue:    queue,
		cfg:      cfg.normalized(),
		logger:   logger.With(logging.String(logging.FieldComponent, "organize")),
	}
}

// Process runs one organize attempt for a finished download.
func (p *Processor) Process(ctx context.Context, payload jobs.OrganizePayload) error {
	ctx = services.WithRequestID(ctx, payload.RequestID)
	ctx = services.WithStage(ctx, "organize")

	request, err := p.store.GetRequest(ctx, payload.RequestID)
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return nil
		}
		return err
	}
	if !request.IsActive() {
		p.logger.InfoContext(ctx, "skipping organize for inactive request",
			logging.String("status", string(request.Status)))
		return nil
	}

	if err := p.markProcessing(ctx, request); err != nil {
		return err
	}

	result, err := p.importer.Organize(ctx, payload.DownloadPath, p.metadata(request))
	if err != nil && services.IsNonRetryable(err) {
		return err
	}
	if err != nil || !result.Success {
		return p.retryOrDegrade(ctx, request, payload, result, err)
	}

	return p.finish(ctx, request, result)
}

// markProcessing moves the request into processing from either entry status.
// A request already in processing is a redelivered job and passes through.
func (p *Processor) markProcessing(ctx context.Context, request *requests.Request) error {
	switch request.Status {
	case requests.StatusProcessing:
		return nil
	case requests.StatusDownloaded, requests.StatusAwaitingImport:
		updated, err := p.store.Transition(ctx, request.ID, request.Status, requests.StatusProcessing)
		if err != nil {
			return err
		}
		*request = *updated
		return nil
	default:
		return services.Wrap(services.ErrValidation, "organize", "transition",
			fmt.Sprintf("request in status %s cannot be organized", request.Status), nil)
	}
}

func (p *Processor) metadata(request *requests.Request) Metadata {
	return Metadata{
		Title:    request.Title,
		Author:   request.Author,
		ASIN:     request.ASIN,
		CoverURL: request.CoverURL,
	}
}

// retryOrDegrade consumes one import attempt. While attempts remain the
// request parks in awaiting_import and a fresh organize job is scheduled;
// once exhausted the request degrades to warn so a human can finish the
// import by hand.
func (p *Processor) retryOrDegrade(ctx context.Context, request *requests.Request,
	payload jobs.OrganizePayload, result Result, cause error) error {
	message := importFailureMessage(result, cause)

	request.ImportAttempts++
	request.ErrorMessage = message
	if err := p.store.UpdateRequest(ctx, request); err != nil {
		return err
	}

	if request.ImportAttempts < request.MaxImportRetries {
		if _, err := p.store.Transition(ctx, request.ID, requests.StatusProcessing, requests.StatusAwaitingImport); err != nil {
			return err
		}
		p.logger.WarnContext(ctx, "import failed, retrying",
			logging.Int("attempt", request.ImportAttempts),
			logging.Int("maxAttempts", request.MaxImportRetries),
			logging.String("reason", message))
		_, err := p.queue.EnqueueOrganize(ctx, payload, jobs.WithDelay(p.cfg.RetryDelay))
		return err
	}

	if _, err := p.store.Transition(ctx, request.ID, requests.StatusProcessing, requests.StatusWarn); err != nil {
		return err
	}
	p.logger.WarnContext(ctx, "import retries exhausted, request needs attention",
		logging.Int("attempts", request.ImportAttempts),
		logging.String("reason", message))
	_, err := p.queue.EnqueueNotification(ctx, jobs.NotificationPayload{
		Event:     string(notifications.EventRequestWarn),
		RequestID: request.ID,
		Title:     request.Title,
		Author:    request.Author,
		UserName:  request.UserName,
		Message:   message,
	})
	return err
}

func (p *Processor) finish(ctx context.Context, request *requests.Request, result Result) error {
	if _, err := p.store.Transition(ctx, request.ID, requests.StatusProcessing, requests.StatusAvailable); err != nil {
		return err
	}
	if err := p.store.SetProgress(ctx, request.ID, 100); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "import complete",
		logging.String("target", result.TargetPath),
		logging.Int("files", result.FilesMovedCount),
		logging.Int("warnings", len(result.Errors)))

	if p.cfg.ScanOnImport && p.cfg.LibraryID != "" {
		if _, err := p.queue.EnqueueScan(ctx, jobs.ScanPayload{
			LibraryID: p.cfg.LibraryID,
			RequestID: request.ID,
		}); err != nil {
			return err
		}
	}

	_, err := p.queue.EnqueueNotification(ctx, jobs.NotificationPayload{
		Event:     string(notifications.EventRequestAvailable),
		RequestID: request.ID,
		Title:     request.Title,
		Author:    request.Author,
		UserName:  request.UserName,
		Message:   fmt.Sprintf("imported %d file(s) to %s", result.FilesMovedCount, result.TargetPath),
	})
	return err
}

func importFailureMessage(result Result, cause error) string {
	if cause != nil {
		return fmt.Sprintf("import failed: %v", cause)
	}
	if len(result.Errors) > 0 {
		sample := result.Errors
		if len(sample) > 3 {
			sample = sample[:3]
		}
		return "import failed: " + strings.Join(sample, "; ") +
			" (" + strconv.Itoa(len(result.Errors)) + " error(s))"
	}
	return "import failed: no files were copied"
}
