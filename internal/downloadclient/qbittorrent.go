package downloadclient

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"listenarr/internal/services"
)

// QBittorrent implements Client against the qBittorrent WebUI API.
type QBittorrent struct {
	client   *qbt.Client
	category string
}

// QBittorrentConfig carries connection settings for one qBittorrent instance.
type QBittorrentConfig struct {
	URL            string
	Username       string
	Password       string
	Category       string
	TimeoutSeconds int
}

// NewQBittorrent connects and authenticates against a qBittorrent instance.
func NewQBittorrent(ctx context.Context, cfg QBittorrentConfig) (*QBittorrent, error) {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	client := qbt.NewClient(qbt.Config{
		Host:     cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  timeout,
	})

	loginCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()
	if err := client.LoginCtx(loginCtx); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "download", "client_login",
			"connect to qBittorrent", err)
	}

	category := cfg.Category
	if category == "" {
		category = "listenarr"
	}
	return &QBittorrent{client: client, category: category}, nil
}

var magnetHashPattern = regexp.MustCompile(`(?i)xt=urn:btih:([0-9a-z]{32,40})`)

// Submit adds a magnet link or torrent URL under the configured category.
// The hash comes straight from magnet links; for torrent URLs it is located
// by diffing the category's transfer list around the add call.
func (q *QBittorrent) Submit(ctx context.Context, link string) (string, error) {
	options := map[string]string{"category": q.category}

	if match := magnetHashPattern.FindStringSubmatch(link); match != nil {
		if err := q.client.AddTorrentFromUrlCtx(ctx, link, options); err != nil {
			return "", services.Wrap(services.ErrTransient, "download", "client_submit",
				"add magnet to qBittorrent", err)
		}
		return strings.ToLower(match[1]), nil
	}

	before, err := q.categoryHashes(ctx)
	if err != nil {
		return "", err
	}
	if err := q.client.AddTorrentFromUrlCtx(ctx, link, options); err != nil {
		return "", services.Wrap(services.ErrTransient, "download", "client_submit",
			"add torrent to qBittorrent", err)
	}

	// The client registers the transfer asynchronously after fetching the
	// torrent file, so poll briefly for the new hash.
	deadline := time.Now().Add(15 * time.Second)
	for {
		after, err := q.categoryHashes(ctx)
		if err != nil {
			return "", err
		}
		for hash := range after {
			if _, known := before[hash]; !known {
				return hash, nil
			}
		}
		if time.Now().After(deadline) {
			return "", services.Wrap(services.ErrTransient, "download", "client_submit",
				"submitted transfer did not appear in client", nil)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (q *QBittorrent) categoryHashes(ctx context.Context) (map[string]struct{}, error) {
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Category: q.category})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "download", "client_list",
			"list category transfers", err)
	}
	hashes := make(map[string]struct{}, len(torrents))
	for _, torrent := range torrents {
		hashes[strings.ToLower(torrent.Hash)] = struct{}{}
	}
	return hashes, nil
}

// Status polls one transfer by hash.
func (q *QBittorrent) Status(ctx context.Context, hash string) (Transfer, error) {
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return Transfer{}, services.Wrap(services.ErrTransient, "download", "client_status",
			fmt.Sprintf("poll transfer %s", hash), err)
	}
	if len(torrents) == 0 {
		return Transfer{}, ErrTransferNotFound
	}
	torrent := torrents[0]
	return Transfer{
		Hash:        strings.ToLower(torrent.Hash),
		Name:        torrent.Name,
		Progress:    torrent.Progress,
		State:       mapTorrentState(torrent.State, torrent.Progress),
		ContentPath: torrent.ContentPath,
		SavePath:    torrent.SavePath,
	}, nil
}

// Cancel removes a transfer from the client.
func (q *QBittorrent) Cancel(ctx context.Context, hash string, deleteFiles bool) error {
	if err := q.client.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles); err != nil {
		return services.Wrap(services.ErrTransient, "download", "client_cancel",
			fmt.Sprintf("delete transfer %s", hash), err)
	}
	return nil
}

func mapTorrentState(state qbt.TorrentState, progress float64) TransferState {
	switch state {
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return StateErrored
	case qbt.TorrentStateUploading, qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp,
		qbt.TorrentStateQueuedUp, qbt.TorrentStateStalledUp, qbt.TorrentStateForcedUp,
		qbt.TorrentStateCheckingUp:
		return StateCompleted
	case qbt.TorrentStateStalledDl:
		return StateStalled
	default:
		if progress >= 1 {
			return StateCompleted
		}
		return StateDownloading
	}
}
