// Package search implements the first pipeline stage: query the indexers,
// rank the candidates, persist the selection, and hand off to the download
// stage.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"listenarr/internal/indexer"
	"listenarr/internal/jobs"
	"listenarr/internal/logging"
	"listenarr/internal/notifications"
	"listenarr/internal/ranking"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

// Selection is the persisted record of which candidate won and why.
type Selection struct {
	Candidate ranking.Candidate `json:"candidate"`
	Breakdown ranking.Breakdown `json:"breakdown"`
	Rejected  int               `json:"rejectedCount"`
}

// Processor handles search_indexers jobs.
type Processor struct {
	store    *requests.Store
	searcher indexer.Searcher
	queue    jobs.Enqueuer
	weights  ranking.Weights
	logger   *slog.Logger
}

// NewProcessor wires the search stage.
func NewProcessor(store *requests.Store, searcher indexer.Searcher, queue jobs.Enqueuer,
	weights ranking.Weights, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		store:    store,
		searcher: searcher,
		queue:    queue,
		weights:  weights,
		logger:   logger.With(logging.String(logging.FieldComponent, "search")),
	}
}

// Process runs one search stage. An empty result set is a stage outcome, not
// a job failure: the request fails terminally and the job completes.
func (p *Processor) Process(ctx context.Context, payload jobs.SearchPayload) error {
	ctx = services.WithRequestID(ctx, payload.RequestID)
	ctx = services.WithStage(ctx, "search")

	request, err := p.store.GetRequest(ctx, payload.RequestID)
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			p.logger.WarnContext(ctx, "search target no longer exists",
				logging.Int64(logging.FieldRequestID, payload.RequestID))
			return nil
		}
		return err
	}
	if !request.IsActive() {
		p.logger.InfoContext(ctx, "skipping search for inactive request",
			logging.String("status", string(request.Status)))
		return nil
	}

	if err := p.markSearching(ctx, request); err != nil {
		return err
	}

	query := buildQuery(payload.Audiobook)
	releases, err := p.searcher.Search(ctx, query)
	if err != nil {
		return err
	}

	candidates := make([]ranking.Candidate, 0, len(releases))
	for _, release := range releases {
		candidates = append(candidates, ranking.Candidate{
			Title:       release.Title,
			SizeBytes:   release.Size,
			Seeders:     release.Seeders,
			Indexer:     release.Indexer,
			DownloadURL: release.Link(),
			InfoHash:    release.InfoHash,
		})
	}

	target := ranking.Target{
		Title:          payload.Audiobook.Title,
		Author:         payload.Audiobook.Author,
		RuntimeSeconds: request.RuntimeSeconds,
	}
	ranked := ranking.Rank(target, candidates, p.weights)
	if len(ranked) == 0 {
		message := fmt.Sprintf("no suitable results found for %q", query)
		p.logger.InfoContext(ctx, "search exhausted",
			logging.Int("releases", len(releases)),
			logging.String("query", query))
		if err := p.store.SetFailed(ctx, request.ID, message); err != nil {
			return err
		}
		_, err := p.queue.EnqueueNotification(ctx, jobs.NotificationPayload{
			Event:     string(notifications.EventRequestFailed),
			RequestID: request.ID,
			Title:     request.Title,
			Author:    request.Author,
			UserName:  request.UserName,
			Message:   message,
		})
		return err
	}

	best := ranked[0]
	selection := Selection{Candidate: best.Candidate, Breakdown: best.Breakdown, Rejected: len(ranked) - 1}
	selectedJSON, err := json.Marshal(selection)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	request.SelectedJSON = string(selectedJSON)
	if err := p.store.UpdateRequest(ctx, request); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "candidate selected",
		logging.String("release", best.Candidate.Title),
		logging.String("indexer", best.Candidate.Indexer),
		logging.Int("seeders", best.Candidate.Seeders),
		logging.Float64("score", best.Breakdown.Total))

	_, err = p.queue.EnqueueDownload(ctx, jobs.DownloadPayload{
		RequestID: request.ID,
		Audiobook: payload.Audiobook,
		Torrent: jobs.TorrentRef{
			Title:     best.Candidate.Title,
			Link:      best.Candidate.DownloadURL,
			InfoHash:  best.Candidate.InfoHash,
			SizeBytes: best.Candidate.SizeBytes,
			Seeders:   best.Candidate.Seeders,
			Indexer:   best.Candidate.Indexer,
		},
	})
	return err
}

// markSearching moves the request into searching from either entry status.
// A request already in searching is a redelivered job and passes through.
func (p *Processor) markSearching(ctx context.Context, request *requests.Request) error {
	switch request.Status {
	case requests.StatusSearching:
		return nil
	case requests.StatusPending, requests.StatusAwaitingSearch:
		updated, err := p.store.Transition(ctx, request.ID, request.Status, requests.StatusSearching)
		if err != nil {
			return err
		}
		*request = *updated
		return nil
	default:
		return services.Wrap(services.ErrValidation, "search", "transition",
			fmt.Sprintf("request in status %s cannot be searched", request.Status), nil)
	}
}

func buildQuery(item jobs.Item) string {
	parts := make([]string, 0, 2)
	if title := strings.TrimSpace(item.Title); title != "" {
		parts = append(parts, title)
	}
	if author := strings.TrimSpace(item.Author); author != "" {
		parts = append(parts, author)
	}
	return strings.Join(parts, " ")
}
