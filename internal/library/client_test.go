package library

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"listenarr/internal/services"
)

func TestTriggerScan(t *testing.T) {
	var gotPath, gotAuth, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, APIKey: "token"})
	if err := client.TriggerScan(context.Background(), "lib-audiobooks"); err != nil {
		t.Fatalf("trigger scan: %v", err)
	}
	if gotPath != "/api/libraries/lib-audiobooks/scan" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("unexpected method %q", gotMethod)
	}
}

func TestTriggerScanErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, services.ErrConfiguration},
		{"missing library", http.StatusNotFound, services.ErrConfiguration},
		{"server error", http.StatusBadGateway, services.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client := NewClient(Config{URL: server.URL, APIKey: "token"})
			err := client.TriggerScan(context.Background(), "lib-1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
			}
		})
	}
}

func TestTriggerScanRequiresLibraryID(t *testing.T) {
	client := NewClient(Config{URL: "http://localhost:13378"})
	if err := client.TriggerScan(context.Background(), " "); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
