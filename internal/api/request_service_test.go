package api

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"listenarr/internal/jobs"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

type enqueueRecorder struct {
	searches []jobs.SearchPayload
	nextID   int
}

func (r *enqueueRecorder) id() string {
	r.nextID++
	return fmt.Sprintf("job-%d", r.nextID)
}

func (r *enqueueRecorder) EnqueueSearch(ctx context.Context, payload jobs.SearchPayload, opts ...jobs.EnqueueOption) (string, error) {
	r.searches = append(r.searches, payload)
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueDownload(ctx context.Context, payload jobs.DownloadPayload, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueMonitor(ctx context.Context, payload jobs.MonitorPayload, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueOrganize(ctx context.Context, payload jobs.OrganizePayload, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueScan(ctx context.Context, payload jobs.ScanPayload, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueNotification(ctx context.Context, payload jobs.NotificationPayload, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func (r *enqueueRecorder) EnqueueMaintenance(ctx context.Context, opts ...jobs.EnqueueOption) (string, error) {
	return r.id(), nil
}

func openStore(t *testing.T) *requests.Store {
	t.Helper()
	store, err := requests.OpenPath(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateEnqueuesSearchWithoutApprovalGate(t *testing.T) {
	store := openStore(t)
	queue := &enqueueRecorder{}
	service := NewRequestService(store, queue, false)

	view, err := service.Create(context.Background(), CreateRequestInput{
		Title:    "The Fifth Season",
		Author:   "N. K. Jemisin",
		UserName: "sam",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Status != string(requests.StatusPending) {
		t.Fatalf("expected pending, got %s", view.Status)
	}
	if len(queue.searches) != 1 {
		t.Fatalf("expected immediate search enqueue, got %d", len(queue.searches))
	}
	if queue.searches[0].RequestID != view.ID || queue.searches[0].Audiobook.Title != "The Fifth Season" {
		t.Fatalf("unexpected search payload: %+v", queue.searches[0])
	}
}

func TestCreateParksInAwaitingApprovalWhenGated(t *testing.T) {
	store := openStore(t)
	queue := &enqueueRecorder{}
	service := NewRequestService(store, queue, true)

	ctx := context.Background()
	view, err := service.Create(ctx, CreateRequestInput{Title: "The Obelisk Gate"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Status != string(requests.StatusAwaitingApproval) {
		t.Fatalf("expected awaiting_approval, got %s", view.Status)
	}
	if len(queue.searches) != 0 {
		t.Fatal("gated request must not be searched before approval")
	}

	approved, err := service.Approve(ctx, view.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != string(requests.StatusPending) {
		t.Fatalf("expected pending after approval, got %s", approved.Status)
	}
	if len(queue.searches) != 1 {
		t.Fatalf("approval should enqueue the search, got %d", len(queue.searches))
	}
}

func TestDenyIsTerminal(t *testing.T) {
	store := openStore(t)
	queue := &enqueueRecorder{}
	service := NewRequestService(store, queue, true)

	ctx := context.Background()
	view, err := service.Create(ctx, CreateRequestInput{Title: "The Stone Sky"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	denied, err := service.Deny(ctx, view.ID)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.Status != string(requests.StatusDenied) {
		t.Fatalf("expected denied, got %s", denied.Status)
	}
	if len(queue.searches) != 0 {
		t.Fatal("denied request must not be searched")
	}
}

func TestCreateRejectsDuplicateActive(t *testing.T) {
	store := openStore(t)
	service := NewRequestService(store, &enqueueRecorder{}, false)

	ctx := context.Background()
	input := CreateRequestInput{Title: "Same Book", Author: "Same Author"}
	if _, err := service.Create(ctx, input); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.Create(ctx, input); !errors.Is(err, requests.ErrDuplicateActive) {
		t.Fatalf("expected duplicate-active rejection, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	service := NewRequestService(openStore(t), &enqueueRecorder{}, false)

	if _, err := service.Create(context.Background(), CreateRequestInput{Title: "   "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty title, got %v", err)
	}
	if _, err := service.Create(context.Background(), CreateRequestInput{Title: "x", MediaType: "vinyl"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown media type, got %v", err)
	}
}

func TestListFiltersByStatusName(t *testing.T) {
	store := openStore(t)
	service := NewRequestService(store, &enqueueRecorder{}, false)

	ctx := context.Background()
	first, err := service.Create(ctx, CreateRequestInput{Title: "Book One"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.Create(ctx, CreateRequestInput{Title: "Book Two"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := service.Cancel(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	pending, err := service.List(ctx, "pending")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "Book Two" {
		t.Fatalf("unexpected pending listing: %+v", pending)
	}

	if _, err := service.List(ctx, "bogus"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestDescribeReportsReRequestableTerminalStates(t *testing.T) {
	store := openStore(t)
	service := NewRequestService(store, &enqueueRecorder{}, true)

	ctx := context.Background()
	view, err := service.Create(ctx, CreateRequestInput{Title: "The Stone Sky"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.ReRequestable {
		t.Fatal("an active request must not be re-requestable")
	}

	if err := store.SetFailed(ctx, view.ID, "no results"); err != nil {
		t.Fatalf("fail request: %v", err)
	}
	failed, err := service.Describe(ctx, view.ID)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !failed.ReRequestable {
		t.Fatal("a failed request should permit a fresh request for the item")
	}

	denied, err := service.Create(ctx, CreateRequestInput{Title: "The Stone Sky"})
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if _, err := service.Deny(ctx, denied.ID); err != nil {
		t.Fatalf("deny: %v", err)
	}
	view, err = service.Describe(ctx, denied.ID)
	if err != nil {
		t.Fatalf("describe denied: %v", err)
	}
	if view.ReRequestable {
		t.Fatal("a denied request must stay blocked")
	}
}
