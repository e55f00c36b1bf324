package config

const (
	defaultStagingDir       = "~/.local/share/listenarr/staging"
	defaultLibraryDir       = "~/audiobooks"
	defaultLogDir           = "~/.local/share/listenarr/logs"
	defaultAPIBind          = "127.0.0.1:8577"
	defaultRedisAddr        = "127.0.0.1:6379"
	defaultLogFormat        = "text"
	defaultLogLevel         = "info"
	defaultPathTemplate     = "{Author}/{Series/}{Title}"
	defaultFilenameTemplate = "{Title}"
	defaultTaggingTool      = "tone"
	defaultMaintenanceCron  = "*/15 * * * *"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		Indexer: Indexer{
			TimeoutSeconds: 30,
		},
		DownloadClient: DownloadClient{
			Category:       "listenarr",
			TimeoutSeconds: 30,
		},
		Library: Library{
			ScanOnImport: true,
		},
		Organizer: Organizer{
			PathTemplate:        defaultPathTemplate,
			FilenameTemplate:    defaultFilenameTemplate,
			MergeChapters:       false,
			TagFiles:            true,
			TaggingTool:         defaultTaggingTool,
			MaxImportRetries:    3,
			CoverMaxBytes:       8 << 20,
			CoverTimeoutSeconds: 30,
		},
		Ranking: Ranking{
			PreferredFormats: []string{"m4b", "flac"},
			TitleWeight:      1.0,
			FormatWeight:     0.4,
			SizeWeight:       0.4,
			SeederWeight:     0.6,
			MinSeeders:       1,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Available:      true,
			Failed:         true,
			Warn:           true,
		},
		Jobs: Jobs{
			MaxAttempts:         3,
			Concurrency:         8,
			SearchConcurrency:   2,
			MonitorConcurrency:  4,
			OrganizeConcurrency: 2,
			ScanConcurrency:     1,
			MonitorPollSeconds:  15,
			MonitorMaxSeconds:   300,
			NotFoundGraceSecs:   120,
			MaintenanceCron:     defaultMaintenanceCron,
			LedgerRetentionDays: 30,
		},
		Requests: Requests{
			RequireApproval: false,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
