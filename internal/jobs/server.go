package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hibiken/asynq"

	"listenarr/internal/logging"
	"listenarr/internal/notifications"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

// Handlers binds one processor function to each job type. The switch dispatch
// in dispatchTask keeps the set closed: adding a type without a handler is a
// compile-time hole, not a runtime lookup miss.
type Handlers struct {
	SearchIndexers   func(ctx context.Context, payload SearchPayload) error
	DownloadTorrent  func(ctx context.Context, payload DownloadPayload) error
	DownloadMonitor  func(ctx context.Context, payload MonitorPayload) error
	OrganizeFiles    func(ctx context.Context, payload OrganizePayload) error
	LibraryScan      func(ctx context.Context, payload ScanPayload) error
	SendNotification func(ctx context.Context, payload NotificationPayload) error
	Maintenance      func(ctx context.Context, payload MaintenancePayload) error
}

// Concurrency bounds parallelism per job type on top of the server's global
// worker pool.
type Concurrency struct {
	Total    int
	Search   int
	Monitor  int
	Organize int
	Scan     int
}

func (c Concurrency) normalized() Concurrency {
	if c.Total <= 0 {
		c.Total = 8
	}
	if c.Search <= 0 {
		c.Search = 2
	}
	if c.Monitor <= 0 {
		c.Monitor = 4
	}
	if c.Organize <= 0 {
		c.Organize = 2
	}
	if c.Scan <= 0 {
		c.Scan = 1
	}
	return c
}

// Server runs the worker pool: it pulls tasks from the broker, mirrors their
// lifecycle into the ledger, and owns the one decision table that escalates
// job failures into request status changes.
type Server struct {
	server      *asynq.Server
	store       *requests.Store
	handlers    Handlers
	notifier    notifications.Publisher
	logger      *slog.Logger
	metrics     *Metrics
	semaphores  map[Type]chan struct{}
	maxAttempts int
}

// NewServer builds the worker server.
func NewServer(redisOpt asynq.RedisClientOpt, store *requests.Store, handlers Handlers,
	notifier notifications.Publisher, concurrency Concurrency, maxAttempts int,
	metrics *Metrics, logger *slog.Logger) *Server {

	concurrency = concurrency.normalized()
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.Noop{}
	}

	s := &Server{
		store:       store,
		handlers:    handlers,
		notifier:    notifier,
		logger:      logger.With(logging.String(logging.FieldComponent, "jobs")),
		metrics:     metrics,
		maxAttempts: maxAttempts,
		semaphores: map[Type]chan struct{}{
			TypeSearchIndexers:  make(chan struct{}, concurrency.Search),
			TypeDownloadMonitor: make(chan struct{}, concurrency.Monitor),
			TypeOrganizeFiles:   make(chan struct{}, concurrency.Organize),
			TypeLibraryScan:     make(chan struct{}, concurrency.Scan),
		},
	}

	s.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency.Total,
		Queues:      QueueWeights,
		RetryDelayFunc: func(attempt int, _ error, _ *asynq.Task) time.Duration {
			return retryDelay(attempt)
		},
	})
	return s
}

// Start runs the worker loop until Shutdown.
func (s *Server) Start() error {
	return s.server.Start(asynq.HandlerFunc(s.process))
}

// Shutdown drains in-flight handlers and stops the worker loop.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}

// process is the single entry point for every task: per-type concurrency
// gate, ledger lifecycle mirroring, metrics, and failure escalation.
func (s *Server) process(ctx context.Context, task *asynq.Task) (err error) {
	jobType, typeErr := ParseType(task.Type())
	if typeErr != nil {
		return fmt.Errorf("%v: %w", typeErr, asynq.SkipRetry)
	}

	if sem, gated := s.semaphores[jobType]; gated {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	jobID, _ := asynq.GetTaskID(ctx)
	ctx = services.WithJobID(ctx, jobID)
	started := time.Now()
	s.metrics.trackInFlight(jobType, 1)
	defer s.metrics.trackInFlight(jobType, -1)

	if markErr := s.store.MarkJobActive(ctx, jobID, string(jobType), string(task.Payload()), s.maxAttempts); markErr != nil {
		s.logger.WarnContext(ctx, "ledger activation failed",
			logging.String(logging.FieldJobID, jobID), logging.Error(markErr))
	}

	defer func() {
		if panicked := recover(); panicked != nil {
			err = fmt.Errorf("handler panic: %v", panicked)
			_ = s.store.MarkJobFailed(ctx, jobID, err.Error(), string(debug.Stack()), true)
			s.escalate(ctx, jobType, task.Payload(), err)
			err = fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
	}()

	err = s.dispatchTask(ctx, jobType, task.Payload())
	s.metrics.observe(jobType, started, err)

	if err == nil {
		if markErr := s.store.MarkJobCompleted(ctx, jobID, ""); markErr != nil {
			s.logger.WarnContext(ctx, "ledger completion failed",
				logging.String(logging.FieldJobID, jobID), logging.Error(markErr))
		}
		return nil
	}

	nonRetryable := services.IsNonRetryable(err)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	exhausted := nonRetryable || retried >= maxRetry

	if markErr := s.store.MarkJobFailed(ctx, jobID, err.Error(), "", exhausted); markErr != nil {
		s.logger.WarnContext(ctx, "ledger failure record failed",
			logging.String(logging.FieldJobID, jobID), logging.Error(markErr))
	}

	s.logger.ErrorContext(ctx, "job failed",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldJobType, string(jobType)),
		logging.Int("attempt", retried+1),
		logging.Bool("exhausted", exhausted),
		logging.Error(err))

	if exhausted {
		s.escalate(ctx, jobType, task.Payload(), err)
	}
	if nonRetryable {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// dispatchTask unmarshals the payload into the type's struct and invokes the
// bound handler.
func (s *Server) dispatchTask(ctx context.Context, jobType Type, raw []byte) error {
	switch jobType {
	case TypeSearchIndexers:
		var payload SearchPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return badPayload(jobType, err)
		}
		return s.handlers.SearchIndexers(ctx, payload)
	case TypeDownloadTorrent:
		var payload DownloadPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return badPayload(jobType, err)
		}
		return s.handlers.DownloadTorrent(ctx, payload)
	case TypeDownloadMonitor:
		var payload MonitorPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return badPayload(jobType, err)
		}
		return s.handlers.DownloadMonitor(ctx, payload)
	case TypeOrganizeFiles:
		var payload OrganizePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return badPayload(jobType, err)
		}
		return s.handlers.OrganizeFiles(ctx, payload)
	case TypeLibraryScan:
		var payload ScanPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return badPayload(jobType, err)
		}
		return s.handlers.LibraryScan(ctx, payload)
	case TypeSendNotification:
		var payload NotificationPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return badPayload(jobType, err)
		}
		return s.handlers.SendNotification(ctx, payload)
	case TypeMaintenance:
		var payload MaintenancePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return badPayload(jobType, err)
		}
		return s.handlers.Maintenance(ctx, payload)
	default:
		return services.Wrap(services.ErrValidation, "queue", "dispatch",
			fmt.Sprintf("no handler for job type %s", jobType), nil)
	}
}

func badPayload(jobType Type, err error) error {
	return services.Wrap(services.ErrValidation, "queue", "decode_payload",
		fmt.Sprintf("decode %s payload", jobType), err)
}

// escalate is the one place a job failure becomes a request status change.
// Only pipeline stages escalate; housekeeping types fail quietly and get
// re-driven by maintenance. An exhausted download_monitor or a non-retryable
// fault fails the request terminally; other pipeline stages that ran out of
// retries on a transient fault park the request back in a waiting status so
// the maintenance sweep can re-drive it later.
func (s *Server) escalate(ctx context.Context, jobType Type, raw []byte, cause error) {
	var message string
	var parkTo requests.Status
	nonRetryable := services.IsNonRetryable(cause)
	switch jobType {
	case TypeSearchIndexers:
		message = "search failed: " + services.Details(cause).Message
		if !nonRetryable {
			parkTo = requests.StatusAwaitingSearch
		}
	case TypeDownloadTorrent:
		message = "download could not be started: " + services.Details(cause).Message
		if !nonRetryable {
			parkTo = requests.StatusAwaitingSearch
		}
	case TypeDownloadMonitor:
		message = "download stalled and monitoring retries were exhausted"
	case TypeOrganizeFiles:
		message = "organize failed: " + services.Details(cause).Message
		if !nonRetryable {
			parkTo = requests.StatusAwaitingImport
		}
	default:
		return
	}

	var ref requestRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.RequestID == 0 {
		return
	}
	ctx = services.WithRequestID(ctx, ref.RequestID)

	request, err := s.store.GetRequest(ctx, ref.RequestID)
	if err != nil {
		s.logger.WarnContext(ctx, "escalation target lookup failed",
			logging.Int64(logging.FieldRequestID, ref.RequestID), logging.Error(err))
		return
	}
	if !request.IsActive() {
		return
	}

	if parkTo != "" {
		if err := s.store.Park(ctx, ref.RequestID, parkTo, message); err != nil {
			s.logger.ErrorContext(ctx, "escalation status write failed",
				logging.Int64(logging.FieldRequestID, ref.RequestID), logging.Error(err))
			return
		}
		s.logger.InfoContext(ctx, "request parked for maintenance re-drive",
			logging.Int64(logging.FieldRequestID, ref.RequestID),
			logging.String(logging.FieldJobType, string(jobType)),
			logging.String("status", string(parkTo)))
		return
	}

	if err := s.store.SetFailed(ctx, ref.RequestID, message); err != nil {
		s.logger.ErrorContext(ctx, "escalation status write failed",
			logging.Int64(logging.FieldRequestID, ref.RequestID), logging.Error(err))
		return
	}
	s.logger.InfoContext(ctx, "request failed after job exhaustion",
		logging.Int64(logging.FieldRequestID, ref.RequestID),
		logging.String(logging.FieldJobType, string(jobType)))

	if err := s.notifier.Publish(ctx, notifications.EventRequestFailed, notifications.Payload{
		RequestID: request.ID,
		Title:     request.Title,
		Author:    request.Author,
		UserName:  request.UserName,
		Message:   message,
	}); err != nil {
		s.logger.WarnContext(ctx, "failure notification not delivered", logging.Error(err))
	}
}

// IsShutdown reports whether an error came from server shutdown rather than a
// handler.
func IsShutdown(err error) bool {
	return errors.Is(err, asynq.ErrServerClosed)
}
