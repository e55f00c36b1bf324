// Package jobs is the durable work queue: a Redis-backed broker carries the
// tasks, while a SQLite ledger row mirrors every task's lifecycle so state
// survives broker loss. Job types form a closed set dispatched through a
// switch, and each type has its own payload struct so handlers never fish
// fields out of a generic bag.
package jobs

import (
	"fmt"
	"time"
)

// Type enumerates every kind of work the queue carries.
type Type string

const (
	TypeSearchIndexers   Type = "search_indexers"
	TypeDownloadTorrent  Type = "download_torrent"
	TypeDownloadMonitor  Type = "download_monitor"
	TypeOrganizeFiles    Type = "organize_files"
	TypeLibraryScan      Type = "library_scan"
	TypeSendNotification Type = "send_notification"
	TypeMaintenance      Type = "maintenance"
)

var allTypes = []Type{
	TypeSearchIndexers,
	TypeDownloadTorrent,
	TypeDownloadMonitor,
	TypeOrganizeFiles,
	TypeLibraryScan,
	TypeSendNotification,
	TypeMaintenance,
}

// AllTypes returns every known job type.
func AllTypes() []Type {
	cp := make([]Type, len(allTypes))
	copy(cp, allTypes)
	return cp
}

// ParseType validates a job type string.
func ParseType(value string) (Type, error) {
	for _, t := range allTypes {
		if string(t) == value {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", value)
}

// Queue names, in descending priority. Pipeline-advancing work outranks the
// polling loop, which outranks housekeeping.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// QueueWeights is the server-side priority ratio between queues.
var QueueWeights = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

func queueFor(jobType Type) string {
	switch jobType {
	case TypeSearchIndexers, TypeDownloadTorrent:
		return QueueCritical
	case TypeDownloadMonitor, TypeOrganizeFiles, TypeLibraryScan:
		return QueueDefault
	default:
		return QueueLow
	}
}

func queuePriority(queue string) int {
	return QueueWeights[queue]
}

// Item identifies the requested media an early-stage job works on.
type Item struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	ASIN   string `json:"asin,omitempty"`
}

// TorrentRef is the selected candidate a download job submits.
type TorrentRef struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	InfoHash  string `json:"infoHash,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	Seeders   int    `json:"seeders,omitempty"`
	Indexer   string `json:"indexer,omitempty"`
}

// SearchPayload drives a search_indexers job.
type SearchPayload struct {
	RequestID int64 `json:"requestId"`
	Audiobook Item  `json:"audiobook"`
}

// DownloadPayload drives a download_torrent job.
type DownloadPayload struct {
	RequestID int64      `json:"requestId"`
	Audiobook Item       `json:"audiobook"`
	Torrent   TorrentRef `json:"torrent"`
}

// MonitorPayload drives one iteration of the download_monitor loop. The loop
// state lives in the payload, not in process memory: a worker crash between
// polls loses nothing.
type MonitorPayload struct {
	RequestID         int64      `json:"requestId"`
	DownloadHistoryID int64      `json:"downloadHistoryId"`
	DownloadClientID  string     `json:"downloadClientId"`
	DownloadClient    string     `json:"downloadClient"`
	TransferHash      string     `json:"transferHash"`
	LastProgress      int        `json:"lastProgress,omitempty"`
	StallCount        int        `json:"stallCount,omitempty"`
	NotFoundSince     *time.Time `json:"notFoundSince,omitempty"`
}

// OrganizePayload drives an organize_files job.
type OrganizePayload struct {
	RequestID    int64  `json:"requestId"`
	AudiobookID  int64  `json:"audiobookId"`
	DownloadPath string `json:"downloadPath"`
}

// ScanPayload drives a library_scan job.
type ScanPayload struct {
	LibraryID string `json:"libraryId"`
	RequestID int64  `json:"requestId,omitempty"`
}

// NotificationPayload drives a send_notification job.
type NotificationPayload struct {
	Event     string    `json:"event"`
	RequestID int64     `json:"requestId,omitempty"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MaintenancePayload drives a maintenance sweep. Empty today; a struct keeps
// the payload shape uniform across types.
type MaintenancePayload struct{}

// requestRef extracts the request id from any payload that carries one, for
// the failure escalation path.
type requestRef struct {
	RequestID int64 `json:"requestId"`
}
