package organizer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"listenarr/internal/jobs"
	"listenarr/internal/notifications"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

type fakeImporter struct {
	result Result
	err    error
	calls  int
	metas  []Metadata
}

func (f *fakeImporter) Organize(ctx context.Context, source string, meta Metadata) (Result, error) {
	f.calls++
	f.metas = append(f.metas, meta)
	return f.result, f.err
}

type enqueueRecorder struct {
	organizes     []jobs.OrganizePayload
	scans         []jobs.ScanPayload
	notifications []jobs.NotificationPayload
	nextID        int
}

func (r *enqueueRecorder) id() string {
	r.nextID++
	return fmt.Sprintf("job-%d", r.nextID)
}

func (r *enqueueRecorder) EnqueueSearch(ctx context.Context, payload jobs.SearchPayload, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueDownload(ctx context.Context, payload jobs.DownloadPayload, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueMonitor(ctx context.Context, payload jobs.MonitorPayload, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueOrganize(ctx context.Context, payload jobs.OrganizePayload, opts ...jobs.EnqueueOption) (string, error) {
	r.organizes = append(r.organizes, payload)
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueScan(ctx context.Context, payload jobs.ScanPayload, opts ...jobs.EnqueueOption) (string, error) {
	r.scans = append(r.scans, payload)
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueNotification(ctx context.Context, payload jobs.NotificationPayload, opts ...jobs.EnqueueOption) (string, error) {
	r.notifications = append(r.notifications, payload)
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueMaintenance(ctx context.Context, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func openProcessorStore(t *testing.T) *requests.Store {
	t.Helper()
	store, err := requests.OpenPath(filepath.Join(t.TempDir(), "organize.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createDownloadedRequest(t *testing.T, store *requests.Store) *requests.Request {
	t.Helper()
	ctx := context.Background()
	request := &requests.Request{
		MediaType: requests.MediaAudiobook,
		Title:     "Piranesi",
		Author:    "Susanna Clarke",
		UserName:  "sam",
		CoverURL:  "https://covers.example/piranesi.jpg",
	}
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("create request: %v", err)
	}
	for _, step := range []requests.Status{
		requests.StatusSearching,
		requests.StatusDownloading,
		requests.StatusDownloaded,
	} {
		updated, err := store.Transition(ctx, request.ID, request.Status, step)
		if err != nil {
			t.Fatalf("advance request to %s: %v", step, err)
		}
		request = updated
	}
	return request
}

func TestProcessorImportSuccess(t *testing.T) {
	store := openProcessorStore(t)
	importer := &fakeImporter{result: Result{
		Success:         true,
		TargetPath:      "/library/Susanna Clarke/Piranesi",
		AudioFiles:      []string{"/library/Susanna Clarke/Piranesi/Piranesi.m4b"},
		FilesMovedCount: 1,
	}}
	queue := &enqueueRecorder{}
	processor := NewProcessor(store, importer, queue,
		ProcessorConfig{ScanOnImport: true, LibraryID: "lib-audiobooks"}, nil)

	ctx := context.Background()
	request := createDownloadedRequest(t, store)

	err := processor.Process(ctx, jobs.OrganizePayload{
		RequestID:    request.ID,
		DownloadPath: "/mnt/downloads/Piranesi",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if importer.calls != 1 {
		t.Fatalf("expected one import, got %d", importer.calls)
	}
	meta := importer.metas[0]
	if meta.Title != "Piranesi" || meta.Author != "Susanna Clarke" || meta.CoverURL == "" {
		t.Fatalf("request metadata not passed through: %+v", meta)
	}

	stored, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != requests.StatusAvailable {
		t.Fatalf("expected available, got %s", stored.Status)
	}
	if stored.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", stored.Progress)
	}
	if stored.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}

	if len(queue.scans) != 1 || queue.scans[0].LibraryID != "lib-audiobooks" {
		t.Fatalf("expected one library scan, got %+v", queue.scans)
	}
	if len(queue.notifications) != 1 || queue.notifications[0].Event != string(notifications.EventRequestAvailable) {
		t.Fatalf("expected availability notification, got %+v", queue.notifications)
	}
}

func TestProcessorScanDisabled(t *testing.T) {
	store := openProcessorStore(t)
	importer := &fakeImporter{result: Result{Success: true, TargetPath: "/library/x", FilesMovedCount: 1}}
	queue := &enqueueRecorder{}
	processor := NewProcessor(store, importer, queue, ProcessorConfig{}, nil)

	request := createDownloadedRequest(t, store)
	if err := processor.Process(context.Background(), jobs.OrganizePayload{
		RequestID:    request.ID,
		DownloadPath: "/mnt/downloads/x",
	}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(queue.scans) != 0 {
		t.Fatal("scan should not be enqueued when disabled")
	}
	if len(queue.notifications) != 1 {
		t.Fatalf("availability notification still expected, got %d", len(queue.notifications))
	}
}

func TestProcessorRetryableFailureParksAndReschedules(t *testing.T) {
	store := openProcessorStore(t)
	importer := &fakeImporter{err: services.Wrap(services.ErrNotFound, "organize", "discover",
		"download payload has no audio", ErrNoAudioFiles)}
	queue := &enqueueRecorder{}
	processor := NewProcessor(store, importer, queue, ProcessorConfig{}, nil)

	ctx := context.Background()
	request := createDownloadedRequest(t, store)
	payload := jobs.OrganizePayload{RequestID: request.ID, DownloadPath: "/mnt/downloads/empty"}

	if err := processor.Process(ctx, payload); err != nil {
		t.Fatalf("retryable import failure is a stage outcome: %v", err)
	}

	stored, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != requests.StatusAwaitingImport {
		t.Fatalf("expected awaiting_import, got %s", stored.Status)
	}
	if stored.ImportAttempts != 1 {
		t.Fatalf("expected one consumed attempt, got %d", stored.ImportAttempts)
	}
	if !strings.Contains(stored.ErrorMessage, "import failed") {
		t.Fatalf("unexpected error message %q", stored.ErrorMessage)
	}
	if len(queue.organizes) != 1 {
		t.Fatalf("expected one rescheduled organize job, got %d", len(queue.organizes))
	}
	if queue.organizes[0].DownloadPath != payload.DownloadPath {
		t.Fatalf("reschedule must carry the original path, got %q", queue.organizes[0].DownloadPath)
	}
}

func TestProcessorExhaustedRetriesDegradeToWarn(t *testing.T) {
	store := openProcessorStore(t)
	importer := &fakeImporter{result: Result{Success: false, Errors: []string{"copy partA.m4b: permission denied"}}}
	queue := &enqueueRecorder{}
	processor := NewProcessor(store, importer, queue, ProcessorConfig{}, nil)

	ctx := context.Background()
	request := createDownloadedRequest(t, store)
	payload := jobs.OrganizePayload{RequestID: request.ID, DownloadPath: "/mnt/downloads/x"}

	// Default MaxImportRetries is 3: two parked retries, then warn.
	for attempt := 0; attempt < 3; attempt++ {
		if err := processor.Process(ctx, payload); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
	}

	stored, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != requests.StatusWarn {
		t.Fatalf("expected warn after exhausted retries, got %s", stored.Status)
	}
	if stored.ImportAttempts != 3 {
		t.Fatalf("expected 3 consumed attempts, got %d", stored.ImportAttempts)
	}
	if !strings.Contains(stored.ErrorMessage, "permission denied") {
		t.Fatalf("error message should surface the copy failure, got %q", stored.ErrorMessage)
	}
	if len(queue.organizes) != 2 {
		t.Fatalf("expected two rescheduled jobs before warn, got %d", len(queue.organizes))
	}
	if len(queue.notifications) != 1 || queue.notifications[0].Event != string(notifications.EventRequestWarn) {
		t.Fatalf("expected warn notification, got %+v", queue.notifications)
	}
}

func TestProcessorNonRetryableErrorPropagates(t *testing.T) {
	store := openProcessorStore(t)
	importer := &fakeImporter{err: services.Wrap(services.ErrValidation, "organize", "resolve_target",
		"path template references unknown variable", nil)}
	processor := NewProcessor(store, importer, &enqueueRecorder{}, ProcessorConfig{}, nil)

	request := createDownloadedRequest(t, store)
	err := processor.Process(context.Background(), jobs.OrganizePayload{
		RequestID:    request.ID,
		DownloadPath: "/mnt/downloads/x",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error to propagate, got %v", err)
	}
}

func TestProcessorSkipsInactiveRequest(t *testing.T) {
	store := openProcessorStore(t)
	importer := &fakeImporter{result: Result{Success: true}}
	processor := NewProcessor(store, importer, &enqueueRecorder{}, ProcessorConfig{}, nil)

	ctx := context.Background()
	request := createDownloadedRequest(t, store)
	if err := store.Cancel(ctx, request.ID); err != nil {
		t.Fatalf("cancel request: %v", err)
	}

	if err := processor.Process(ctx, jobs.OrganizePayload{RequestID: request.ID}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if importer.calls != 0 {
		t.Fatal("cancelled request must not be imported")
	}
}
