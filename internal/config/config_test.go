package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("file should not exist")
	}
	if resolved != path {
		t.Fatalf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Jobs.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want default 3", cfg.Jobs.MaxAttempts)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[jobs]
monitor_poll_seconds = 5
monitor_max_seconds = 60

[download_client]
url = "http://qbit.local:8080/"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Jobs.MonitorPollSeconds != 5 || cfg.Jobs.MonitorMaxSeconds != 60 {
		t.Fatalf("monitor intervals = %d/%d", cfg.Jobs.MonitorPollSeconds, cfg.Jobs.MonitorMaxSeconds)
	}
	if cfg.DownloadClient.URL != "http://qbit.local:8080" {
		t.Fatalf("client url not normalized: %q", cfg.DownloadClient.URL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Jobs.MaxAttempts = 0
	cfg.Jobs.MaintenanceCron = "not a cron"
	cfg.Organizer.PathTemplate = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"max_attempts", "maintenance_cron", "path_template"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateMonitorIntervalOrdering(t *testing.T) {
	cfg := Default()
	cfg.Jobs.MonitorPollSeconds = 120
	cfg.Jobs.MonitorMaxSeconds = 60
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected failure when max interval below base interval")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[download_client]") {
		t.Fatal("sample config missing download_client section")
	}
}
