// Package downloadclient abstracts the torrent client the monitor loop polls.
// The daemon only needs three capabilities: submit a transfer, read its
// progress and state, and cancel it.
package downloadclient

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
)

// TransferState reduces the client's many internal states to the ones the
// monitor loop acts on.
type TransferState string

const (
	StateDownloading TransferState = "downloading"
	StateStalled     TransferState = "stalled"
	StateCompleted   TransferState = "completed"
	StateErrored     TransferState = "errored"
)

// Transfer is a snapshot of one tracked download.
type Transfer struct {
	Hash        string
	Name        string
	Progress    float64 // fractional, 0..1
	State       TransferState
	ContentPath string
	SavePath    string
}

// ErrTransferNotFound indicates the client no longer tracks the hash. Freshly
// submitted transfers may be briefly invisible, so callers apply a grace
// period before treating this as terminal.
var ErrTransferNotFound = errors.New("transfer not found in download client")

// Client is the capability surface the download stages depend on.
type Client interface {
	// Submit hands a magnet link or torrent URL to the client and returns the
	// transfer hash used for subsequent polling.
	Submit(ctx context.Context, link string) (string, error)
	// Status returns the current snapshot for a hash, or ErrTransferNotFound.
	Status(ctx context.Context, hash string) (Transfer, error)
	// Cancel removes the transfer, optionally deleting downloaded data.
	Cancel(ctx context.Context, hash string, deleteFiles bool) error
}

// NormalizeProgress converts a client progress report to a 0-100 integer.
// Fractional values in [0,1] scale by 100 and round; values above 1 are
// treated as already-percent.
func NormalizeProgress(progress float64) int {
	if progress <= 0 {
		return 0
	}
	if progress <= 1 {
		progress *= 100
	}
	normalized := int(math.Round(progress))
	if normalized > 100 {
		normalized = 100
	}
	return normalized
}

// PathMapper translates paths the download client reports into paths visible
// to this process, for setups where the client runs on another host or in a
// container with different mounts.
type PathMapper struct {
	RemotePrefix string
	LocalPrefix  string
}

// Map rewrites a remote path onto the local mount. Paths outside the remote
// prefix, or an unconfigured mapper, pass through unchanged.
func (m PathMapper) Map(remotePath string) string {
	if m.RemotePrefix == "" || m.LocalPrefix == "" || remotePath == "" {
		return remotePath
	}
	remote := strings.TrimRight(m.RemotePrefix, "/")
	if remotePath == remote {
		return m.LocalPrefix
	}
	if !strings.HasPrefix(remotePath, remote+"/") {
		return remotePath
	}
	relative := strings.TrimPrefix(remotePath, remote+"/")
	return filepath.Join(m.LocalPrefix, filepath.FromSlash(relative))
}
