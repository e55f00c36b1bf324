package api

import (
	"context"
	"fmt"
	"strings"

	"listenarr/internal/jobs"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

// RequestService implements the request workflow operations: creation with
// optional approval gating, the moderation verbs, and read queries.
type RequestService struct {
	store            *requests.Store
	queue            jobs.Enqueuer
	requireApproval  bool
	maxImportRetries int
}

// NewRequestService constructs the workflow service.
func NewRequestService(store *requests.Store, queue jobs.Enqueuer, requireApproval bool) *RequestService {
	return &RequestService{store: store, queue: queue, requireApproval: requireApproval}
}

// WithMaxImportRetries overrides the import attempt ceiling stamped on new
// requests.
func (s *RequestService) WithMaxImportRetries(retries int) *RequestService {
	if retries > 0 {
		s.maxImportRetries = retries
	}
	return s
}

// Create records a new request. With approval gating enabled the request
// parks in awaiting_approval; otherwise the search stage is enqueued
// immediately.
func (s *RequestService) Create(ctx context.Context, input CreateRequestInput) (RequestView, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return RequestView{}, services.Wrap(services.ErrValidation, "api", "create_request", "title is required", nil)
	}
	mediaType := requests.MediaAudiobook
	if trimmed := strings.TrimSpace(input.MediaType); trimmed != "" {
		switch requests.MediaType(trimmed) {
		case requests.MediaAudiobook, requests.MediaEbook:
			mediaType = requests.MediaType(trimmed)
		default:
			return RequestView{}, services.Wrap(services.ErrValidation, "api", "create_request",
				fmt.Sprintf("unknown media type %q", trimmed), nil)
		}
	}

	request := &requests.Request{
		MediaType:        mediaType,
		Title:            title,
		Author:           strings.TrimSpace(input.Author),
		ASIN:             strings.TrimSpace(input.ASIN),
		UserName:         strings.TrimSpace(input.UserName),
		CoverURL:         strings.TrimSpace(input.CoverURL),
		MaxImportRetries: s.maxImportRetries,
	}
	if s.requireApproval {
		request.Status = requests.StatusAwaitingApproval
	}
	if err := s.store.CreateRequest(ctx, request); err != nil {
		return RequestView{}, err
	}

	if !s.requireApproval {
		if err := s.enqueueSearch(ctx, request); err != nil {
			return RequestView{}, err
		}
	}
	return FromRequest(request), nil
}

// Approve releases a gated request into the pipeline.
func (s *RequestService) Approve(ctx context.Context, id int64) (RequestView, error) {
	request, err := s.store.Approve(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	if err := s.enqueueSearch(ctx, request); err != nil {
		return RequestView{}, err
	}
	return FromRequest(request), nil
}

// Deny rejects a gated request.
func (s *RequestService) Deny(ctx context.Context, id int64) (RequestView, error) {
	request, err := s.store.Deny(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	return FromRequest(request), nil
}

// Cancel withdraws an active request. Stage handlers notice the status change
// and stop on their next execution; the monitor also closes any open
// transfer.
func (s *RequestService) Cancel(ctx context.Context, id int64) error {
	return s.store.Cancel(ctx, id)
}

// List returns requests filtered by status names. Unknown names are rejected.
func (s *RequestService) List(ctx context.Context, statusNames ...string) ([]RequestView, error) {
	statuses := make([]requests.Status, 0, len(statusNames))
	for _, name := range statusNames {
		status, ok := requests.ParseStatus(name)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list_requests",
				fmt.Sprintf("unknown status %q", name), nil)
		}
		statuses = append(statuses, status)
	}
	rows, err := s.store.ListRequests(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromRequests(rows), nil
}

// Describe fetches one request.
func (s *RequestService) Describe(ctx context.Context, id int64) (RequestView, error) {
	request, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	return FromRequest(request), nil
}

// Jobs returns ledger rows filtered by status names.
func (s *RequestService) Jobs(ctx context.Context, statusNames ...string) ([]JobView, error) {
	statuses := make([]requests.JobStatus, 0, len(statusNames))
	for _, name := range statusNames {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, requests.JobStatus(trimmed))
	}
	rows, err := s.store.ListJobs(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(rows), nil
}

// Schedules returns the recurring trigger definitions.
func (s *RequestService) Schedules(ctx context.Context) ([]ScheduleView, error) {
	rows, err := s.store.ListScheduledJobs(ctx)
	if err != nil {
		return nil, err
	}
	return FromSchedules(rows), nil
}

// SetScheduleEnabled flips one trigger on or off. The scheduler picks the
// change up on its next sync.
func (s *RequestService) SetScheduleEnabled(ctx context.Context, name string, enabled bool) error {
	return s.store.SetScheduledJobEnabled(ctx, name, enabled)
}

func (s *RequestService) enqueueSearch(ctx context.Context, request *requests.Request) error {
	_, err := s.queue.EnqueueSearch(ctx, jobs.SearchPayload{
		RequestID: request.ID,
		Audiobook: jobs.Item{
			ID:     request.ID,
			Title:  request.Title,
			Author: request.Author,
			ASIN:   request.ASIN,
		},
	})
	if err != nil {
		return fmt.Errorf("enqueue search: %w", err)
	}
	return nil
}
