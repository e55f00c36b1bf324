package requests

import (
	"strings"
	"time"
)

// MediaType distinguishes audiobook requests from ebook sidecar requests.
type MediaType string

const (
	MediaAudiobook MediaType = "audiobook"
	MediaEbook     MediaType = "ebook"
)

// Status represents the lifecycle of a fulfillment request.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusAwaitingSearch   Status = "awaiting_search"
	StatusSearching        Status = "searching"
	StatusDownloading      Status = "downloading"
	StatusDownloaded       Status = "downloaded"
	StatusAwaitingImport   Status = "awaiting_import"
	StatusProcessing       Status = "processing"
	StatusAvailable        Status = "available"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusWarn             Status = "warn"
	StatusCancelled        Status = "cancelled"
	StatusDenied           Status = "denied"
)

var allStatuses = []Status{
	StatusPending,
	StatusAwaitingApproval,
	StatusAwaitingSearch,
	StatusSearching,
	StatusDownloading,
	StatusDownloaded,
	StatusAwaitingImport,
	StatusProcessing,
	StatusAvailable,
	StatusCompleted,
	StatusFailed,
	StatusWarn,
	StatusCancelled,
	StatusDenied,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// terminalStatuses are states a request never leaves without explicit
// re-request or admin action.
var terminalStatuses = map[Status]struct{}{
	StatusAvailable: {},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusWarn:      {},
	StatusCancelled: {},
	StatusDenied:    {},
}

// reRequestableStatuses are terminal states that permit a fresh request for
// the same item without admin intervention.
var reRequestableStatuses = map[Status]struct{}{
	StatusFailed:    {},
	StatusWarn:      {},
	StatusCancelled: {},
}

var validTransitions = map[Status][]Status{
	StatusAwaitingApproval: {StatusPending, StatusDenied, StatusCancelled},
	StatusPending:          {StatusAwaitingSearch, StatusSearching, StatusCancelled},
	StatusAwaitingSearch:   {StatusSearching, StatusCancelled},
	StatusSearching:        {StatusAwaitingSearch, StatusDownloading, StatusFailed, StatusCancelled},
	StatusDownloading:      {StatusDownloaded, StatusFailed, StatusCancelled},
	StatusDownloaded:       {StatusProcessing, StatusAwaitingImport, StatusCancelled},
	StatusAwaitingImport:   {StatusProcessing, StatusWarn, StatusFailed, StatusCancelled},
	StatusProcessing:       {StatusAvailable, StatusAwaitingImport, StatusWarn, StatusFailed, StatusCancelled},
	StatusAvailable:        {StatusCompleted},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the fulfillment pipeline.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsReRequestable reports whether a terminal status permits creating a fresh
// request for the same item.
func IsReRequestable(status Status) bool {
	_, ok := reRequestableStatuses[status]
	return ok
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, candidate := range validTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ActiveStatuses returns the statuses counted against the one-active-request
// invariant.
func ActiveStatuses() []Status {
	active := make([]Status, 0, len(allStatuses))
	for _, status := range allStatuses {
		if !IsTerminal(status) {
			active = append(active, status)
		}
	}
	return active
}

// Request represents one user's desire for one item, persisted in SQLite.
type Request struct {
	ID               int64
	MediaType        MediaType
	Title            string
	Author           string
	ASIN             string
	UserName         string
	Status           Status
	Progress         int
	ErrorMessage     string
	ParentRequestID  *int64
	ImportAttempts   int
	MaxImportRetries int
	SelectedJSON     string
	RuntimeSeconds   int
	CoverURL         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	DeletedAt        *time.Time
}

// IsActive reports whether the request still occupies the pipeline.
func (r Request) IsActive() bool {
	return !IsTerminal(r.Status) && r.DeletedAt == nil
}

// DownloadStatus tracks the lifecycle of one transfer attempt.
type DownloadStatus string

const (
	DownloadActive    DownloadStatus = "active"
	DownloadCompleted DownloadStatus = "completed"
	DownloadFailed    DownloadStatus = "failed"
	DownloadCancelled DownloadStatus = "cancelled"
)

// DownloadHistory records one transfer attempt tied to a request.
type DownloadHistory struct {
	ID           int64
	RequestID    int64
	ClientID     string
	ClientType   string
	TransferHash string
	Status       DownloadStatus
	ErrorMessage string
	SourcePath   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScheduledJob is a recurring trigger definition keyed by a stable name.
type ScheduledJob struct {
	ID             int64
	Name           string
	JobType        string
	CronExpression string
	Enabled        bool
	LastRun        *time.Time
	NextRun        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HealthSummary describes aggregated request counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Active     int
	Available  int
	Failed     int
	Warn       int
	AwaitingOK int
}
