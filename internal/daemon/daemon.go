// Package daemon coordinates the background services: the job worker pool,
// the cron scheduler, and the HTTP API. It enforces single-instance execution
// through a lock file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"listenarr/internal/api"
	"listenarr/internal/config"
	"listenarr/internal/jobs"
	"listenarr/internal/logging"
	"listenarr/internal/requests"
)

// Daemon owns the worker pool and scheduler lifecycles.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *requests.Store
	server    *jobs.Server
	scheduler *jobs.Scheduler

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	api     *apiServer
}

// Status is the runtime snapshot the HTTP API and CLI render.
type Status struct {
	Running      bool                           `json:"running"`
	Requests     requests.HealthSummary         `json:"requests"`
	Jobs         map[requests.JobStatus]int     `json:"jobs"`
	Schedules    []*requests.ScheduledJob       `json:"schedules"`
	DatabasePath string                         `json:"databasePath"`
	LockFilePath string                         `json:"lockFilePath"`
}

// New constructs a daemon with initialized dependencies. The API server binds
// on Start when service and bind address are provided.
func New(cfg *config.Config, store *requests.Store, server *jobs.Server,
	scheduler *jobs.Scheduler, service *api.RequestService,
	metricsHandler http.Handler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || server == nil {
		return nil, errors.New("daemon requires config, store, and job server")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "listenarrd.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:     store,
		server:    server,
		scheduler: scheduler,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	if service != nil {
		d.api = newAPIServer(cfg.Paths.APIBind, d, service, metricsHandler, logger)
	}
	return d, nil
}

// Start acquires the instance lock and launches the worker pool, the
// scheduler, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another listenarr daemon instance is already running")
	}

	if err := d.server.Start(); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start job server: %w", err)
	}
	if d.scheduler != nil {
		if err := d.scheduler.Start(); err != nil {
			d.server.Shutdown()
			_ = d.lock.Unlock()
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	if d.api != nil {
		if err := d.api.start(ctx); err != nil {
			if d.scheduler != nil {
				d.scheduler.Shutdown()
			}
			d.server.Shutdown()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.InfoContext(ctx, "daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop drains in-flight jobs and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.api != nil {
		d.api.shutdown()
	}
	if d.scheduler != nil {
		d.scheduler.Shutdown()
	}
	d.server.Shutdown()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops background processing and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status reports the current runtime snapshot.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	summary, err := d.store.Summary(ctx)
	if err != nil {
		return Status{}, err
	}
	jobCounts, err := d.store.CountJobsByStatus(ctx)
	if err != nil {
		return Status{}, err
	}
	schedules, err := d.store.ListScheduledJobs(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		Requests:     summary,
		Jobs:         jobCounts,
		Schedules:    schedules,
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}, nil
}
