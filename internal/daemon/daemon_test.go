package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"

	"listenarr/internal/api"
	"listenarr/internal/config"
	"listenarr/internal/jobs"
	"listenarr/internal/requests"
)

func testSetup(t *testing.T) (*config.Config, *requests.Store, asynq.RedisClientOpt) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Redis.Addr = server.Addr()

	store, err := requests.OpenPath(filepath.Join(cfg.Paths.LogDir, "daemon.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &cfg, store, asynq.RedisClientOpt{Addr: server.Addr()}
}

func TestDaemonStartStopAndSingleInstanceLock(t *testing.T) {
	cfg, store, redisOpt := testSetup(t)

	server := jobs.NewServer(redisOpt, store, jobs.Handlers{}, nil, jobs.Concurrency{}, 3, nil, nil)
	d, err := New(cfg, store, server, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	second := jobs.NewServer(redisOpt, store, jobs.Handlers{}, nil, jobs.Concurrency{}, 3, nil, nil)
	other, err := New(cfg, store, second, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("second instance should be rejected by the lock")
	}

	d.Stop()
	if err := other.Start(ctx); err != nil {
		t.Fatalf("lock should be free after stop: %v", err)
	}
	other.Stop()
}

func TestDaemonAPIServesStatusAndRequests(t *testing.T) {
	cfg, store, redisOpt := testSetup(t)

	client := jobs.NewClient(redisOpt, store, 3, nil)
	defer client.Close()
	service := api.NewRequestService(store, client, false)

	handlers := jobs.Handlers{
		SearchIndexers: func(ctx context.Context, payload jobs.SearchPayload) error { return nil },
	}
	server := jobs.NewServer(redisOpt, store, handlers, nil, jobs.Concurrency{}, 3, nil, nil)
	d, err := New(cfg, store, server, nil, service, nil, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	base := "http://" + d.api.listener.Addr().String()
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	body := strings.NewReader(`{"title":"Annihilation","author":"Jeff VanderMeer","userName":"sam"}`)
	resp, err = httpClient.Post(base+"/api/v1/requests", "application/json", body)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	var created api.RequestView
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	if created.Status != string(requests.StatusPending) {
		t.Fatalf("expected pending request, got %s", created.Status)
	}

	resp, err = httpClient.Get(fmt.Sprintf("%s/api/v1/requests/%d", base, created.ID))
	if err != nil {
		t.Fatalf("describe request: %v", err)
	}
	var fetched api.RequestView
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode describe response: %v", err)
	}
	resp.Body.Close()
	if fetched.Title != "Annihilation" {
		t.Fatalf("unexpected request: %+v", fetched)
	}

	resp, err = httpClient.Get(base + "/api/v1/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status response: %v", err)
	}
	resp.Body.Close()
	if !status.Running {
		t.Fatal("daemon should report running")
	}
	if status.Requests.Total != 1 || status.Requests.Active != 1 {
		t.Fatalf("unexpected request summary: %+v", status.Requests)
	}

	// The create should have enqueued a search job in the ledger.
	resp, err = httpClient.Get(base + "/api/v1/jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	var jobList api.JobListResponse
	if err := json.NewDecoder(resp.Body).Decode(&jobList); err != nil {
		t.Fatalf("decode jobs response: %v", err)
	}
	resp.Body.Close()
	if len(jobList.Jobs) == 0 {
		t.Fatal("expected the enqueued search job in the ledger listing")
	}
}
