package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for values the daemon cannot run with.
// Validation failures are returned as a single aggregated error.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		problems = append(problems, "paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		problems = append(problems, "redis.addr must be set")
	}
	if c.Jobs.MaxAttempts < 1 {
		problems = append(problems, "jobs.max_attempts must be at least 1")
	}
	if c.Jobs.Concurrency < 1 {
		problems = append(problems, "jobs.concurrency must be at least 1")
	}
	if c.Jobs.MonitorPollSeconds < 1 {
		problems = append(problems, "jobs.monitor_poll_seconds must be at least 1")
	}
	if c.Jobs.MonitorMaxSeconds < c.Jobs.MonitorPollSeconds {
		problems = append(problems, "jobs.monitor_max_seconds must not be below jobs.monitor_poll_seconds")
	}
	if c.Organizer.MaxImportRetries < 0 {
		problems = append(problems, "organizer.max_import_retries must not be negative")
	}
	if strings.TrimSpace(c.Organizer.PathTemplate) == "" {
		problems = append(problems, "organizer.path_template must be set")
	}
	if cronSpec := strings.TrimSpace(c.Jobs.MaintenanceCron); cronSpec != "" {
		if _, err := cron.ParseStandard(cronSpec); err != nil {
			problems = append(problems, fmt.Sprintf("jobs.maintenance_cron is not a valid cron expression: %v", err))
		}
	}
	for _, sub := range []struct {
		name  string
		value int
	}{
		{"jobs.search_concurrency", c.Jobs.SearchConcurrency},
		{"jobs.monitor_concurrency", c.Jobs.MonitorConcurrency},
		{"jobs.organize_concurrency", c.Jobs.OrganizeConcurrency},
		{"jobs.scan_concurrency", c.Jobs.ScanConcurrency},
	} {
		if sub.value < 1 {
			problems = append(problems, sub.name+" must be at least 1")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
}
