package jobs

import (
	"context"
	"testing"
)

func TestEnsureDefaultsSeedsMaintenanceSchedule(t *testing.T) {
	redisOpt := startBroker(t)
	store := openStore(t)
	scheduler := NewScheduler(redisOpt, store, nil)

	ctx := context.Background()
	if err := scheduler.EnsureDefaults(ctx, "*/15 * * * *"); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}

	rows, err := store.ListScheduledJobs(ctx)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(rows))
	}
	row := rows[0]
	if row.Name != "maintenance" || row.JobType != string(TypeMaintenance) || !row.Enabled {
		t.Fatalf("unexpected schedule row: %+v", row)
	}
	if row.NextRun == nil {
		t.Fatal("expected next run to be computed")
	}
}

func TestEnsureDefaultsRejectsInvalidCron(t *testing.T) {
	redisOpt := startBroker(t)
	store := openStore(t)
	scheduler := NewScheduler(redisOpt, store, nil)

	if err := scheduler.EnsureDefaults(context.Background(), "not a cron"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestSyncTracksEnabledFlag(t *testing.T) {
	redisOpt := startBroker(t)
	store := openStore(t)
	scheduler := NewScheduler(redisOpt, store, nil)

	ctx := context.Background()
	if err := scheduler.EnsureDefaults(ctx, "*/15 * * * *"); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}

	if err := scheduler.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	scheduler.mu.Lock()
	registered := len(scheduler.entries)
	scheduler.mu.Unlock()
	if registered != 1 {
		t.Fatalf("expected 1 registered entry, got %d", registered)
	}

	if err := store.SetScheduledJobEnabled(ctx, "maintenance", false); err != nil {
		t.Fatalf("disable schedule: %v", err)
	}
	if err := scheduler.Sync(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	scheduler.mu.Lock()
	registered = len(scheduler.entries)
	scheduler.mu.Unlock()
	if registered != 0 {
		t.Fatalf("expected disabled schedule to be unregistered, got %d entries", registered)
	}
}
