package requests

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestRequest(title string) *Request {
	return &Request{
		MediaType: MediaAudiobook,
		Title:     title,
		Author:    "Ann Leckie",
		UserName:  "alice",
	}
}

func TestCreateRequestDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	request := newTestRequest("Ancillary Justice")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if request.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if request.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", request.Status)
	}

	stored, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Title != "Ancillary Justice" || stored.Author != "Ann Leckie" {
		t.Fatalf("unexpected stored request: %+v", stored)
	}
	if stored.MaxImportRetries != 3 {
		t.Fatalf("expected default max import retries, got %d", stored.MaxImportRetries)
	}
}

func TestCreateRequestRejectsDuplicateActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newTestRequest("Ancillary Justice")
	if err := store.CreateRequest(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	duplicate := newTestRequest("Ancillary Justice")
	if err := store.CreateRequest(ctx, duplicate); !errors.Is(err, ErrDuplicateActive) {
		t.Fatalf("expected ErrDuplicateActive, got %v", err)
	}

	// Same title for the other media type is a different item.
	ebook := newTestRequest("Ancillary Justice")
	ebook.MediaType = MediaEbook
	if err := store.CreateRequest(ctx, ebook); err != nil {
		t.Fatalf("create ebook request: %v", err)
	}
}

func TestCreateRequestAllowedAfterTerminalState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newTestRequest("Ancillary Sword")
	if err := store.CreateRequest(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := store.SetFailed(ctx, first.ID, "no results"); err != nil {
		t.Fatalf("fail first: %v", err)
	}

	second := newTestRequest("Ancillary Sword")
	if err := store.CreateRequest(ctx, second); err != nil {
		t.Fatalf("expected re-request after failure, got %v", err)
	}
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	request := newTestRequest("Ancillary Mercy")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}

	updated, err := store.Transition(ctx, request.ID, StatusPending, StatusSearching)
	if err != nil {
		t.Fatalf("pending -> searching: %v", err)
	}
	if updated.Status != StatusSearching {
		t.Fatalf("expected searching, got %s", updated.Status)
	}

	if _, err := store.Transition(ctx, request.ID, StatusSearching, StatusAvailable); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// Guarded update: the row is searching, not pending.
	if _, err := store.Transition(ctx, request.ID, StatusPending, StatusSearching); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTransitionStampsCompletedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	request := newTestRequest("Provenance")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}
	for _, step := range [][2]Status{
		{StatusPending, StatusSearching},
		{StatusSearching, StatusDownloading},
		{StatusDownloading, StatusDownloaded},
		{StatusDownloaded, StatusProcessing},
		{StatusProcessing, StatusAvailable},
	} {
		if _, err := store.Transition(ctx, request.ID, step[0], step[1]); err != nil {
			t.Fatalf("%s -> %s: %v", step[0], step[1], err)
		}
	}

	stored, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.CompletedAt == nil {
		t.Fatal("expected completed_at once available")
	}
}

func TestApproveAndDeny(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	request := newTestRequest("Translation State")
	request.Status = StatusAwaitingApproval
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}

	approved, err := store.Approve(ctx, request.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusPending {
		t.Fatalf("expected pending after approval, got %s", approved.Status)
	}

	other := newTestRequest("The Raven Tower")
	other.Status = StatusAwaitingApproval
	if err := store.CreateRequest(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}
	denied, err := store.Deny(ctx, other.ID)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.Status != StatusDenied {
		t.Fatalf("expected denied, got %s", denied.Status)
	}
}

func TestCancelOnlyAffectsActiveRequests(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	request := newTestRequest("The Left Hand of Darkness")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := store.Cancel(ctx, request.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := store.Cancel(ctx, request.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second cancel, got %v", err)
	}
}

func TestListRequestsFiltersDeletedAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := newTestRequest("Book One")
	failed := newTestRequest("Book Two")
	deleted := newTestRequest("Book Three")
	for _, request := range []*Request{active, failed, deleted} {
		if err := store.CreateRequest(ctx, request); err != nil {
			t.Fatalf("create %s: %v", request.Title, err)
		}
	}
	if err := store.SetFailed(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := store.SoftDelete(ctx, deleted.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	all, err := store.ListRequests(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 visible requests, got %d", len(all))
	}

	onlyFailed, err := store.ListRequests(ctx, StatusFailed)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].ID != failed.ID {
		t.Fatalf("unexpected failed list: %+v", onlyFailed)
	}

	// Soft-deleted rows stay reachable by id.
	if _, err := store.GetRequest(ctx, deleted.ID); err != nil {
		t.Fatalf("get deleted: %v", err)
	}
}

func TestSummaryCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	titles := []string{"A", "B", "C", "D"}
	ids := make([]int64, 0, len(titles))
	for _, title := range titles {
		request := newTestRequest(title)
		if err := store.CreateRequest(ctx, request); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		ids = append(ids, request.ID)
	}
	if err := store.SetFailed(ctx, ids[0], "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	for _, step := range [][2]Status{
		{StatusPending, StatusSearching},
		{StatusSearching, StatusDownloading},
		{StatusDownloading, StatusDownloaded},
		{StatusDownloaded, StatusProcessing},
		{StatusProcessing, StatusAvailable},
	} {
		if _, err := store.Transition(ctx, ids[1], step[0], step[1]); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 4 || summary.Failed != 1 || summary.Available != 1 || summary.Active != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestDownloadHistorySingleOpenTransfer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	request := newTestRequest("Downloaded Book")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}

	history := &DownloadHistory{
		RequestID:    request.ID,
		ClientID:     "qbittorrent-main",
		ClientType:   "qbittorrent",
		TransferHash: "abc123",
	}
	if err := store.OpenDownload(ctx, history); err != nil {
		t.Fatalf("open download: %v", err)
	}

	second := &DownloadHistory{RequestID: request.ID, ClientID: "qbittorrent-main", ClientType: "qbittorrent"}
	if err := store.OpenDownload(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second open transfer, got %v", err)
	}

	open, err := store.OpenDownloadForRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("open download for request: %v", err)
	}
	if open.TransferHash != "abc123" {
		t.Fatalf("unexpected transfer hash %q", open.TransferHash)
	}

	if err := store.CloseDownload(ctx, history.ID, DownloadCompleted, "", "/downloads/book"); err != nil {
		t.Fatalf("close download: %v", err)
	}
	if err := store.CloseDownload(ctx, history.ID, DownloadCompleted, "", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on double close, got %v", err)
	}
	if _, err := store.OpenDownloadForRequest(ctx, request.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after close, got %v", err)
	}

	// A new transfer may open once the previous one is closed.
	retry := &DownloadHistory{RequestID: request.ID, ClientID: "qbittorrent-main", ClientType: "qbittorrent"}
	if err := store.OpenDownload(ctx, retry); err != nil {
		t.Fatalf("open retry transfer: %v", err)
	}

	downloads, err := store.ListDownloads(ctx, request.ID)
	if err != nil {
		t.Fatalf("list downloads: %v", err)
	}
	if len(downloads) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(downloads))
	}
}

func TestScheduledJobUpsertPreservesLastRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &ScheduledJob{
		Name:           "maintenance",
		JobType:        "maintenance",
		CronExpression: "*/15 * * * *",
		Enabled:        true,
	}
	if err := store.UpsertScheduledJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ranAt := time.Now().UTC().Truncate(time.Second)
	nextRun := ranAt.Add(15 * time.Minute)
	if err := store.StampScheduledJobRun(ctx, "maintenance", ranAt, nextRun); err != nil {
		t.Fatalf("stamp run: %v", err)
	}

	job.CronExpression = "*/30 * * * *"
	if err := store.UpsertScheduledJob(ctx, job); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	stored, err := store.GetScheduledJob(ctx, "maintenance")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CronExpression != "*/30 * * * *" {
		t.Fatalf("expected updated cron, got %q", stored.CronExpression)
	}
	if stored.LastRun == nil || !stored.LastRun.Equal(ranAt) {
		t.Fatalf("expected preserved last_run %v, got %v", ranAt, stored.LastRun)
	}
}

func TestScheduledJobEnableDisable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &ScheduledJob{Name: "ledger-prune", JobType: "maintenance", CronExpression: "0 3 * * *", Enabled: true}
	if err := store.UpsertScheduledJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.SetScheduledJobEnabled(ctx, "ledger-prune", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	stored, err := store.GetScheduledJob(ctx, "ledger-prune")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Enabled {
		t.Fatal("expected disabled job")
	}
	if err := store.SetScheduledJobEnabled(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobLedgerLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &Job{
		ID:          "0191d3a1-0000-7000-8000-000000000001",
		Type:        "search_indexers",
		PayloadJSON: `{"requestId":1}`,
		MaxAttempts: 3,
	}
	if err := store.InsertJob(ctx, job); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if err := store.InsertJob(ctx, job); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate insert, got %v", err)
	}

	if err := store.MarkJobActive(ctx, job.ID, job.Type, job.PayloadJSON, 3); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	active, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if active.Status != JobActive || active.Attempts != 1 || active.StartedAt == nil {
		t.Fatalf("unexpected active job: %+v", active)
	}

	if err := store.MarkJobFailed(ctx, job.ID, "indexer timeout", "", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	retried, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if retried.Status != JobPending || retried.FinishedAt != nil {
		t.Fatalf("expected pending retry, got %+v", retried)
	}

	if err := store.MarkJobActive(ctx, job.ID, job.Type, job.PayloadJSON, 3); err != nil {
		t.Fatalf("mark active again: %v", err)
	}
	if err := store.MarkJobCompleted(ctx, job.ID, `{"candidates":3}`); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	done, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != JobCompleted || done.Attempts != 2 || done.FinishedAt == nil {
		t.Fatalf("unexpected completed job: %+v", done)
	}
	if done.ResultJSON != `{"candidates":3}` {
		t.Fatalf("unexpected result json %q", done.ResultJSON)
	}
}

func TestMarkJobActiveCreatesMissingLedgerRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Scheduler-fired jobs hit the worker without a prior explicit enqueue.
	if err := store.MarkJobActive(ctx, "timer-maintenance-1", "maintenance", "{}", 1); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	job, err := store.GetJob(ctx, "timer-maintenance-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobActive || job.Type != "maintenance" || job.Attempts != 1 {
		t.Fatalf("unexpected lazily created job: %+v", job)
	}
}

func TestResetOrphanedJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	retryable := &Job{ID: "job-retryable", Type: "organize_files", PayloadJSON: "{}", MaxAttempts: 3}
	exhausted := &Job{ID: "job-exhausted", Type: "organize_files", PayloadJSON: "{}", MaxAttempts: 1}
	for _, job := range []*Job{retryable, exhausted} {
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := store.MarkJobActive(ctx, job.ID, job.Type, job.PayloadJSON, job.MaxAttempts); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}

	changed, err := store.ResetOrphanedJobs(ctx)
	if err != nil {
		t.Fatalf("reset orphaned: %v", err)
	}
	if changed != 2 {
		t.Fatalf("expected 2 changed rows, got %d", changed)
	}

	first, err := store.GetJob(ctx, retryable.ID)
	if err != nil {
		t.Fatalf("get retryable: %v", err)
	}
	if first.Status != JobPending {
		t.Fatalf("expected pending, got %s", first.Status)
	}
	second, err := store.GetJob(ctx, exhausted.ID)
	if err != nil {
		t.Fatalf("get exhausted: %v", err)
	}
	if second.Status != JobStuck {
		t.Fatalf("expected stuck, got %s", second.Status)
	}
}

func TestPruneJobsRemovesOnlyOldFinishedRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &Job{ID: "job-old", Type: "send_notification", PayloadJSON: "{}"}
	fresh := &Job{ID: "job-fresh", Type: "send_notification", PayloadJSON: "{}"}
	pending := &Job{ID: "job-pending", Type: "send_notification", PayloadJSON: "{}"}
	for _, job := range []*Job{old, fresh, pending} {
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := store.MarkJobCompleted(ctx, old.ID, ""); err != nil {
		t.Fatalf("complete old: %v", err)
	}
	if err := store.MarkJobCompleted(ctx, fresh.ID, ""); err != nil {
		t.Fatalf("complete fresh: %v", err)
	}
	// Backdate the old row so the cutoff catches it.
	stale := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339Nano)
	if err := store.execWithoutResultRetry(ctx, "UPDATE jobs SET updated_at = ? WHERE id = ?", stale, old.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	pruned, err := store.PruneJobs(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}
	if _, err := store.GetJob(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old row gone, got %v", err)
	}
	if _, err := store.GetJob(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh row should remain: %v", err)
	}
	if _, err := store.GetJob(ctx, pending.ID); err != nil {
		t.Fatalf("pending row should remain: %v", err)
	}
}

func TestStatusHelpers(t *testing.T) {
	if IsTerminal(StatusDownloading) {
		t.Fatal("downloading is not terminal")
	}
	if !IsTerminal(StatusWarn) {
		t.Fatal("warn is terminal")
	}
	if !IsReRequestable(StatusFailed) || IsReRequestable(StatusDenied) {
		t.Fatal("re-requestable set mismatch")
	}
	if !CanTransition(StatusProcessing, StatusAwaitingImport) {
		t.Fatal("processing -> awaiting_import is a retry path")
	}
	if CanTransition(StatusAvailable, StatusFailed) {
		t.Fatal("available never fails")
	}
	if _, ok := ParseStatus(" Downloading "); !ok {
		t.Fatal("ParseStatus should normalize case and whitespace")
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Fatal("ParseStatus should reject unknown values")
	}
}

func TestParkReturnsActiveRequestToWaiting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	request := newTestRequest("Ancillary Mercy")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := store.Transition(ctx, request.ID, StatusPending, StatusSearching); err != nil {
		t.Fatalf("advance request: %v", err)
	}

	if err := store.Park(ctx, request.ID, StatusAwaitingSearch, "indexers unreachable"); err != nil {
		t.Fatalf("park: %v", err)
	}
	stored, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != StatusAwaitingSearch {
		t.Fatalf("expected awaiting_search, got %s", stored.Status)
	}
	if stored.ErrorMessage != "indexers unreachable" {
		t.Fatalf("expected recorded message, got %q", stored.ErrorMessage)
	}
}

func TestParkRejectsTerminalTargetsAndInactiveRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	request := newTestRequest("Provenance")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := store.Park(ctx, request.ID, StatusFailed, "boom"); err == nil {
		t.Fatal("parking in a terminal status must be rejected")
	}

	if err := store.Cancel(ctx, request.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := store.Park(ctx, request.ID, StatusAwaitingSearch, "late write"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for cancelled request, got %v", err)
	}
	stored, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != StatusCancelled {
		t.Fatalf("cancelled request must stay cancelled, got %s", stored.Status)
	}
}
