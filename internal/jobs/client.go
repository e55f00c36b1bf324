package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"listenarr/internal/logging"
	"listenarr/internal/requests"
)

// Enqueuer is the job submission surface stage processors depend on.
type Enqueuer interface {
	EnqueueSearch(ctx context.Context, payload SearchPayload, opts ...EnqueueOption) (string, error)
	EnqueueDownload(ctx context.Context, payload DownloadPayload, opts ...EnqueueOption) (string, error)
	EnqueueMonitor(ctx context.Context, payload MonitorPayload, opts ...EnqueueOption) (string, error)
	EnqueueOrganize(ctx context.Context, payload OrganizePayload, opts ...EnqueueOption) (string, error)
	EnqueueScan(ctx context.Context, payload ScanPayload, opts ...EnqueueOption) (string, error)
	EnqueueNotification(ctx context.Context, payload NotificationPayload, opts ...EnqueueOption) (string, error)
	EnqueueMaintenance(ctx context.Context, opts ...EnqueueOption) (string, error)
}

// Client enqueues jobs. Every enqueue writes the ledger row first, then hands
// the task to the broker under the same id, so the ledger never misses a job
// the broker knows about.
type Client struct {
	broker      *asynq.Client
	store       *requests.Store
	logger      *slog.Logger
	maxAttempts int
}

// NewClient builds an enqueue client.
func NewClient(redisOpt asynq.RedisClientOpt, store *requests.Store, maxAttempts int, logger *slog.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		broker:      asynq.NewClient(redisOpt),
		store:       store,
		logger:      logger.With(logging.String(logging.FieldComponent, "jobs")),
		maxAttempts: maxAttempts,
	}
}

// Close releases the broker connection.
func (c *Client) Close() error {
	return c.broker.Close()
}

// EnqueueOption tweaks a single enqueue call.
type EnqueueOption func(*enqueueSettings)

type enqueueSettings struct {
	delay       time.Duration
	maxAttempts int
}

// WithDelay schedules the job to run after d instead of immediately. The
// monitor loop uses this for its poll interval.
func WithDelay(d time.Duration) EnqueueOption {
	return func(s *enqueueSettings) { s.delay = d }
}

// WithMaxAttempts overrides the default attempt ceiling for this job.
func WithMaxAttempts(attempts int) EnqueueOption {
	return func(s *enqueueSettings) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// Enqueue records a ledger row and submits the task to the broker. The
// broker task id equals the ledger primary key.
func (c *Client) Enqueue(ctx context.Context, jobType Type, payload any, opts ...EnqueueOption) (string, error) {
	settings := enqueueSettings{maxAttempts: c.maxAttempts}
	for _, opt := range opts {
		opt(&settings)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", jobType, err)
	}

	id := uuid.NewString()
	queue := queueFor(jobType)
	ledgerRow := &requests.Job{
		ID:          id,
		BrokerID:    id,
		Type:        string(jobType),
		Status:      requests.JobPending,
		Priority:    queuePriority(queue),
		MaxAttempts: settings.maxAttempts,
		PayloadJSON: string(payloadBytes),
	}
	if err := c.store.InsertJob(ctx, ledgerRow); err != nil {
		return "", fmt.Errorf("record %s job: %w", jobType, err)
	}

	options := []asynq.Option{
		asynq.TaskID(id),
		asynq.Queue(queue),
		asynq.MaxRetry(settings.maxAttempts - 1),
	}
	if settings.delay > 0 {
		options = append(options, asynq.ProcessIn(settings.delay))
	}

	task := asynq.NewTask(string(jobType), payloadBytes)
	if _, err := c.broker.EnqueueContext(ctx, task, options...); err != nil {
		_ = c.store.MarkJobFailed(ctx, id, fmt.Sprintf("enqueue: %v", err), "", true)
		return "", fmt.Errorf("enqueue %s job: %w", jobType, err)
	}

	c.logger.DebugContext(ctx, "job enqueued",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldJobType, string(jobType)),
		logging.String("queue", queue),
		logging.Duration("delay", settings.delay))
	return id, nil
}

// EnqueueSearch starts the pipeline for a request.
func (c *Client) EnqueueSearch(ctx context.Context, payload SearchPayload, opts ...EnqueueOption) (string, error) {
	return c.Enqueue(ctx, TypeSearchIndexers, payload, opts...)
}

// EnqueueDownload submits the selected candidate to the download client.
func (c *Client) EnqueueDownload(ctx context.Context, payload DownloadPayload, opts ...EnqueueOption) (string, error) {
	return c.Enqueue(ctx, TypeDownloadTorrent, payload, opts...)
}

// EnqueueMonitor schedules one poll of the download monitor loop.
func (c *Client) EnqueueMonitor(ctx context.Context, payload MonitorPayload, opts ...EnqueueOption) (string, error) {
	return c.Enqueue(ctx, TypeDownloadMonitor, payload, opts...)
}

// EnqueueOrganize schedules the organize stage for a finished download.
func (c *Client) EnqueueOrganize(ctx context.Context, payload OrganizePayload, opts ...EnqueueOption) (string, error) {
	return c.Enqueue(ctx, TypeOrganizeFiles, payload, opts...)
}

// EnqueueScan asks the media server to rescan a library.
func (c *Client) EnqueueScan(ctx context.Context, payload ScanPayload, opts ...EnqueueOption) (string, error) {
	return c.Enqueue(ctx, TypeLibraryScan, payload, opts...)
}

// EnqueueNotification queues a lifecycle event for delivery.
func (c *Client) EnqueueNotification(ctx context.Context, payload NotificationPayload, opts ...EnqueueOption) (string, error) {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return c.Enqueue(ctx, TypeSendNotification, payload, opts...)
}

// EnqueueMaintenance triggers an immediate maintenance sweep.
func (c *Client) EnqueueMaintenance(ctx context.Context, opts ...EnqueueOption) (string, error) {
	return c.Enqueue(ctx, TypeMaintenance, MaintenancePayload{}, opts...)
}

// CancelJob asks the broker to drop a pending task and closes its ledger row.
// Running handlers notice cancellation through the request status instead.
func (c *Client) CancelJob(ctx context.Context, inspector *asynq.Inspector, id string) error {
	job, err := c.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if inspector != nil {
		if err := inspector.DeleteTask(queueFor(Type(job.Type)), id); err != nil {
			c.logger.WarnContext(ctx, "broker task removal failed",
				logging.String(logging.FieldJobID, id), logging.Error(err))
		}
	}
	return c.store.MarkJobCancelled(ctx, id)
}
