// Package daemonrun is the daemon composition root: it builds every service
// from configuration, wires the job handlers, and runs the daemon until a
// shutdown signal arrives.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"listenarr/internal/api"
	"listenarr/internal/config"
	"listenarr/internal/daemon"
	"listenarr/internal/deps"
	"listenarr/internal/download"
	"listenarr/internal/downloadclient"
	"listenarr/internal/indexer"
	"listenarr/internal/jobs"
	"listenarr/internal/library"
	"listenarr/internal/logging"
	"listenarr/internal/maintenance"
	"listenarr/internal/notifications"
	"listenarr/internal/organizer"
	"listenarr/internal/ranking"
	"listenarr/internal/requests"
	"listenarr/internal/search"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the listenarr daemon loop and blocks until the context is
// cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, closeLog, err := logging.New(logging.Options{
		Format:   cfg.Logging.Format,
		Level:    level,
		FilePath: cfg.LogFilePath(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	for _, tool := range deps.Check(deps.ForConfig(cfg)) {
		if tool.Available {
			logger.Debug("external tool resolved",
				logging.String("tool", tool.Name), logging.String("path", tool.Path))
			continue
		}
		logger.Warn("external tool unavailable, feature degraded",
			logging.String("tool", tool.Name),
			logging.String("feature", tool.Feature),
			logging.String("detail", tool.Detail))
	}

	if err := pingRedis(signalCtx, cfg.Redis); err != nil {
		logger.Error("redis preflight failed", logging.Error(err))
		return err
	}

	store, err := requests.OpenPath(cfg.DatabasePath())
	if err != nil {
		logger.Error("open request store", logging.Error(err))
		return err
	}
	defer store.Close()

	// Jobs left active by a previous process are either retried or parked
	// before the worker pool starts.
	if reset, err := store.ResetOrphanedJobs(signalCtx); err != nil {
		logger.Warn("orphaned job reset failed", logging.Error(err))
	} else if reset > 0 {
		logger.Info("orphaned jobs recovered", logging.Int64("count", reset))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := jobs.NewMetrics(registry)

	queueClient := jobs.NewClient(redisOpt, store, cfg.Jobs.MaxAttempts, logger)
	defer queueClient.Close()

	notifier := notifications.NewService(notifications.Config{
		WebhookURL:     cfg.Notifications.WebhookURL,
		RequestTimeout: time.Duration(cfg.Notifications.RequestTimeout) * time.Second,
		Available:      cfg.Notifications.Available,
		Failed:         cfg.Notifications.Failed,
		Warn:           cfg.Notifications.Warn,
	}, logger)

	handlers, err := buildHandlers(signalCtx, cfg, store, queueClient, notifier, logger)
	if err != nil {
		logger.Error("wire job handlers", logging.Error(err))
		return err
	}

	server := jobs.NewServer(redisOpt, store, handlers, notifier, jobs.Concurrency{
		Total:    cfg.Jobs.Concurrency,
		Search:   cfg.Jobs.SearchConcurrency,
		Monitor:  cfg.Jobs.MonitorConcurrency,
		Organize: cfg.Jobs.OrganizeConcurrency,
		Scan:     cfg.Jobs.ScanConcurrency,
	}, cfg.Jobs.MaxAttempts, metrics, logger)

	scheduler := jobs.NewScheduler(redisOpt, store, logger)
	if err := scheduler.EnsureDefaults(signalCtx, cfg.Jobs.MaintenanceCron); err != nil {
		logger.Error("seed default schedules", logging.Error(err))
		return err
	}
	if err := scheduler.Sync(signalCtx); err != nil {
		logger.Error("sync schedules", logging.Error(err))
		return err
	}

	service := api.NewRequestService(store, queueClient, cfg.Requests.RequireApproval).
		WithMaxImportRetries(cfg.Organizer.MaxImportRetries)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	d, err := daemon.New(cfg, store, server, scheduler, service, metricsHandler, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return err
	}
	defer d.Stop()

	// Schedule edits made through the API are reconciled periodically.
	go resyncSchedules(signalCtx, scheduler, logger)

	<-signalCtx.Done()
	logger.Info("listenarr daemon shutting down")
	return nil
}

// buildHandlers constructs the stage processors and binds one to each job
// type.
func buildHandlers(ctx context.Context, cfg *config.Config, store *requests.Store,
	queueClient *jobs.Client, notifier notifications.Publisher, logger *slog.Logger) (jobs.Handlers, error) {

	searcher := indexer.NewClient(indexer.Config{
		URL:            cfg.Indexer.URL,
		APIKey:         cfg.Indexer.APIKey,
		TimeoutSeconds: cfg.Indexer.TimeoutSeconds,
	})
	searchProcessor := search.NewProcessor(store, searcher, queueClient, rankingWeights(cfg.Ranking), logger)

	transferClient, err := downloadclient.NewQBittorrent(ctx, downloadclient.QBittorrentConfig{
		URL:            cfg.DownloadClient.URL,
		Username:       cfg.DownloadClient.Username,
		Password:       cfg.DownloadClient.Password,
		Category:       cfg.DownloadClient.Category,
		TimeoutSeconds: cfg.DownloadClient.TimeoutSeconds,
	})
	if err != nil {
		return jobs.Handlers{}, err
	}
	downloadCfg := download.Config{
		PollInterval:  time.Duration(cfg.Jobs.MonitorPollSeconds) * time.Second,
		MaxInterval:   time.Duration(cfg.Jobs.MonitorMaxSeconds) * time.Second,
		NotFoundGrace: time.Duration(cfg.Jobs.NotFoundGraceSecs) * time.Second,
	}
	mapper := downloadclient.PathMapper{
		RemotePrefix: cfg.DownloadClient.RemotePath,
		LocalPrefix:  cfg.DownloadClient.LocalPath,
	}
	starter := download.NewStarter(store, transferClient, queueClient, downloadCfg, logger)
	monitor := download.NewMonitor(store, transferClient, queueClient, mapper, downloadCfg, logger)

	importer := organizer.New(organizer.Config{
		LibraryDir:       cfg.Paths.LibraryDir,
		PathTemplate:     cfg.Organizer.PathTemplate,
		FilenameTemplate: cfg.Organizer.FilenameTemplate,
		MergeChapters:    cfg.Organizer.MergeChapters,
		TagFiles:         cfg.Organizer.TagFiles,
		TaggingTool:      cfg.Organizer.TaggingTool,
		CoverMaxBytes:    cfg.Organizer.CoverMaxBytes,
		CoverTimeout:     time.Duration(cfg.Organizer.CoverTimeoutSeconds) * time.Second,
	}, logger)
	organizeProcessor := organizer.NewProcessor(store, importer, queueClient, organizer.ProcessorConfig{
		ScanOnImport: cfg.Library.ScanOnImport,
		LibraryID:    cfg.Library.AudiobookLibraryID,
	}, logger)

	scanner := library.NewClient(library.Config{
		URL:            cfg.Library.URL,
		APIKey:         cfg.Library.APIKey,
		TimeoutSeconds: 30,
	})

	sweeper := maintenance.NewProcessor(store, queueClient, maintenance.Config{
		JobRetention: time.Duration(cfg.Jobs.LedgerRetentionDays) * 24 * time.Hour,
	}, logger)

	return jobs.Handlers{
		SearchIndexers:  searchProcessor.Process,
		DownloadTorrent: starter.Process,
		DownloadMonitor: monitor.Process,
		OrganizeFiles:   organizeProcessor.Process,
		LibraryScan: func(ctx context.Context, payload jobs.ScanPayload) error {
			return scanner.TriggerScan(ctx, payload.LibraryID)
		},
		SendNotification: func(ctx context.Context, payload jobs.NotificationPayload) error {
			return notifier.Publish(ctx, notifications.Event(payload.Event), notifications.Payload{
				RequestID: payload.RequestID,
				Title:     payload.Title,
				Author:    payload.Author,
				UserName:  payload.UserName,
				Message:   payload.Message,
				Timestamp: payload.Timestamp,
			})
		},
		Maintenance: sweeper.Process,
	}, nil
}

func rankingWeights(cfg config.Ranking) ranking.Weights {
	weights := ranking.DefaultWeights()
	if cfg.TitleWeight > 0 {
		weights.Title = cfg.TitleWeight
	}
	if cfg.FormatWeight > 0 {
		weights.Format = cfg.FormatWeight
	}
	if cfg.SizeWeight > 0 {
		weights.Size = cfg.SizeWeight
	}
	if cfg.SeederWeight > 0 {
		weights.Seeder = cfg.SeederWeight
	}
	if len(cfg.PreferredFormats) > 0 {
		weights.PreferredFormats = cfg.PreferredFormats
	}
	if cfg.MinSeeders > 0 {
		weights.MinSeeders = cfg.MinSeeders
	}
	if len(cfg.BonusKeywords) > 0 {
		weights.BonusKeywords = cfg.BonusKeywords
	}
	if len(cfg.PenaltyKeywords) > 0 {
		weights.PenaltyKeywords = cfg.PenaltyKeywords
	}
	return weights
}

// pingRedis verifies the broker is reachable before any component depends on
// it, so misconfiguration fails fast with a clear error.
func pingRedis(ctx context.Context, cfg config.Redis) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis at %s unreachable: %w", cfg.Addr, err)
	}
	return nil
}

func resyncSchedules(ctx context.Context, scheduler *jobs.Scheduler, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := scheduler.Sync(ctx); err != nil {
				logger.Warn("schedule sync failed", logging.Error(err))
			}
		}
	}
}
