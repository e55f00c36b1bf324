package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Redis contains connection settings for the job broker.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Indexer contains configuration for the Prowlarr-compatible search backend.
type Indexer struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DownloadClient contains configuration for the qBittorrent download client.
type DownloadClient struct {
	URL            string `toml:"url"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	Category       string `toml:"category"`
	RemotePath     string `toml:"remote_path"`
	LocalPath      string `toml:"local_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Library contains configuration for the Audiobookshelf library backend.
type Library struct {
	URL                string `toml:"url"`
	APIKey             string `toml:"api_key"`
	AudiobookLibraryID string `toml:"audiobook_library_id"`
	EbookLibraryID     string `toml:"ebook_library_id"`
	ScanOnImport       bool   `toml:"scan_on_import"`
}

// Organizer contains configuration for the file organization stage.
type Organizer struct {
	PathTemplate        string `toml:"path_template"`
	FilenameTemplate    string `toml:"filename_template"`
	MergeChapters       bool   `toml:"merge_chapters"`
	TagFiles            bool   `toml:"tag_files"`
	TaggingTool         string `toml:"tagging_tool"`
	MaxImportRetries    int    `toml:"max_import_retries"`
	CoverMaxBytes       int64  `toml:"cover_max_bytes"`
	CoverTimeoutSeconds int    `toml:"cover_timeout_seconds"`
}

// Ranking contains weights for candidate scoring.
type Ranking struct {
	PreferredFormats []string `toml:"preferred_formats"`
	TitleWeight      float64  `toml:"title_weight"`
	FormatWeight     float64  `toml:"format_weight"`
	SizeWeight       float64  `toml:"size_weight"`
	SeederWeight     float64  `toml:"seeder_weight"`
	MinSeeders       int      `toml:"min_seeders"`
	BonusKeywords    []string `toml:"bonus_keywords"`
	PenaltyKeywords  []string `toml:"penalty_keywords"`
}

// Notifications contains configuration for webhook event delivery.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
	Available      bool   `toml:"available"`
	Failed         bool   `toml:"failed"`
	Warn           bool   `toml:"warn"`
}

// Jobs contains job queue tuning: retry ceilings, per-type concurrency, and
// monitor poll intervals.
type Jobs struct {
	MaxAttempts         int    `toml:"max_attempts"`
	Concurrency         int    `toml:"concurrency"`
	SearchConcurrency   int    `toml:"search_concurrency"`
	MonitorConcurrency  int    `toml:"monitor_concurrency"`
	OrganizeConcurrency int    `toml:"organize_concurrency"`
	ScanConcurrency     int    `toml:"scan_concurrency"`
	MonitorPollSeconds  int    `toml:"monitor_poll_seconds"`
	MonitorMaxSeconds   int    `toml:"monitor_max_seconds"`
	NotFoundGraceSecs   int    `toml:"not_found_grace_seconds"`
	MaintenanceCron     string `toml:"maintenance_cron"`
	LedgerRetentionDays int    `toml:"ledger_retention_days"`
}

// Requests contains request workflow settings.
type Requests struct {
	RequireApproval bool `toml:"require_approval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Listenarr.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Redis: job broker connection
//   - Indexer: Prowlarr-compatible search backend
//   - DownloadClient: qBittorrent connection and path mapping
//   - Library: Audiobookshelf backend and scan triggering
//   - Organizer: templates, tagging, merge, and retry limits
//   - Ranking: candidate scoring weights
//   - Notifications: webhook event delivery
//   - Jobs: queue concurrency, retries, and monitor intervals
//   - Requests: approval workflow
//   - Logging: log format and level
type Config struct {
	Paths          Paths          `toml:"paths"`
	Redis          Redis          `toml:"redis"`
	Indexer        Indexer        `toml:"indexer"`
	DownloadClient DownloadClient `toml:"download_client"`
	Library        Library        `toml:"library"`
	Organizer      Organizer      `toml:"organizer"`
	Ranking        Ranking        `toml:"ranking"`
	Notifications  Notifications  `toml:"notifications"`
	Jobs           Jobs           `toml:"jobs"`
	Requests       Requests       `toml:"requests"`
	Logging        Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/listenarr/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. The bool reports whether the
// file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("listenarr.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// LibraryDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite database location under the log directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.LogDir, "listenarr.db")
}

// LogFilePath returns the daemon log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "listenarr.log")
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Indexer.URL = strings.TrimRight(strings.TrimSpace(c.Indexer.URL), "/")
	c.DownloadClient.URL = strings.TrimRight(strings.TrimSpace(c.DownloadClient.URL), "/")
	c.Library.URL = strings.TrimRight(strings.TrimSpace(c.Library.URL), "/")
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
