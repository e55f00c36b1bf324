package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"listenarr/internal/logging"
	"listenarr/internal/requests"
)

// Scheduler mirrors the scheduled_jobs table into the broker's periodic
// registration. Edits to a row take effect on the next Sync; firings stamp
// last_run/next_run back into the row.
type Scheduler struct {
	scheduler *asynq.Scheduler
	store     *requests.Store
	logger    *slog.Logger

	mu        sync.Mutex
	entries   map[string]string        // schedule name -> broker entry id
	schedules map[string]cron.Schedule // schedule name -> parsed cron, for next-run stamps
	types     map[string]string        // job type -> schedule name, for the post-enqueue hook
}

// NewScheduler builds the periodic trigger runner.
func NewScheduler(redisOpt asynq.RedisClientOpt, store *requests.Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		store:     store,
		logger:    logger.With(logging.String(logging.FieldComponent, "scheduler")),
		entries:   make(map[string]string),
		schedules: make(map[string]cron.Schedule),
		types:     make(map[string]string),
	}
	s.scheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		PostEnqueueFunc: s.afterEnqueue,
	})
	return s
}

// EnsureDefaults registers the built-in recurring jobs, preserving any
// last-run history already stored.
func (s *Scheduler) EnsureDefaults(ctx context.Context, maintenanceCron string) error {
	schedule, err := cron.ParseStandard(maintenanceCron)
	if err != nil {
		return fmt.Errorf("parse maintenance cron %q: %w", maintenanceCron, err)
	}
	next := schedule.Next(time.Now().UTC())
	job := &requests.ScheduledJob{
		Name:           "maintenance",
		JobType:        string(TypeMaintenance),
		CronExpression: maintenanceCron,
		Enabled:        true,
		NextRun:        &next,
	}
	return s.store.UpsertScheduledJob(ctx, job)
}

// Sync reconciles the broker's periodic entries with the scheduled_jobs
// table: enabled rows are (re)registered, disabled or deleted ones removed.
func (s *Scheduler) Sync(ctx context.Context) error {
	rows, err := s.store.ListScheduledJobs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if !row.Enabled {
			continue
		}
		jobType, err := ParseType(row.JobType)
		if err != nil {
			s.logger.WarnContext(ctx, "scheduled job has unknown type",
				logging.String("schedule", row.Name), logging.Error(err))
			continue
		}
		schedule, err := cron.ParseStandard(row.CronExpression)
		if err != nil {
			s.logger.WarnContext(ctx, "scheduled job has invalid cron expression",
				logging.String("schedule", row.Name), logging.Error(err))
			continue
		}
		wanted[row.Name] = struct{}{}

		if entryID, registered := s.entries[row.Name]; registered {
			if err := s.scheduler.Unregister(entryID); err != nil {
				s.logger.WarnContext(ctx, "unregister stale entry failed",
					logging.String("schedule", row.Name), logging.Error(err))
			}
		}
		task := asynq.NewTask(row.JobType, []byte("{}"))
		entryID, err := s.scheduler.Register(row.CronExpression, task,
			asynq.Queue(queueFor(jobType)), asynq.MaxRetry(0))
		if err != nil {
			s.logger.ErrorContext(ctx, "register periodic entry failed",
				logging.String("schedule", row.Name), logging.Error(err))
			continue
		}
		s.entries[row.Name] = entryID
		s.schedules[row.Name] = schedule
		s.types[row.JobType] = row.Name
		s.logger.InfoContext(ctx, "periodic job registered",
			logging.String("schedule", row.Name),
			logging.String("cron", row.CronExpression))
	}

	for name, entryID := range s.entries {
		if _, still := wanted[name]; still {
			continue
		}
		if err := s.scheduler.Unregister(entryID); err != nil {
			s.logger.WarnContext(ctx, "unregister removed entry failed",
				logging.String("schedule", name), logging.Error(err))
		}
		delete(s.entries, name)
		delete(s.schedules, name)
	}
	return nil
}

// afterEnqueue stamps last_run/next_run when a periodic entry fires. The
// ledger row for the fired task appears lazily when a worker picks it up.
func (s *Scheduler) afterEnqueue(info *asynq.TaskInfo, err error) {
	if err != nil || info == nil {
		if err != nil {
			s.logger.Error("periodic enqueue failed", logging.Error(err))
		}
		return
	}

	s.mu.Lock()
	name, known := s.types[info.Type]
	schedule := s.schedules[name]
	s.mu.Unlock()
	if !known || schedule == nil {
		return
	}

	now := time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.StampScheduledJobRun(ctx, name, now, schedule.Next(now)); err != nil {
		s.logger.Warn("stamp scheduled run failed",
			logging.String("schedule", name), logging.Error(err))
	}
}

// Start runs the periodic trigger loop in the background.
func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

// Shutdown stops the trigger loop.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
