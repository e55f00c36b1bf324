package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateRequest inserts a new request. The unique partial index enforces the
// one-active-request-per-item invariant; violations surface as
// ErrDuplicateActive.
func (s *Store) CreateRequest(ctx context.Context, request *Request) error {
	if request == nil {
		return errors.New("request is required")
	}
	if strings.TrimSpace(request.Title) == "" {
		return errors.New("request title is required")
	}
	if request.MediaType == "" {
		request.MediaType = MediaAudiobook
	}
	if request.Status == "" {
		request.Status = StatusPending
	}
	if request.MaxImportRetries <= 0 {
		request.MaxImportRetries = 3
	}
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO requests (media_type, title, author, asin, user_name, status, progress, error_message,
            parent_request_id, import_attempts, max_import_retries, selected_candidate_json, runtime_seconds,
            cover_url, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(request.MediaType),
		request.Title,
		nullableString(request.Author),
		nullableString(request.ASIN),
		nullableString(request.UserName),
		string(request.Status),
		request.Progress,
		nullableString(request.ErrorMessage),
		nullableInt64(request.ParentRequestID),
		request.ImportAttempts,
		request.MaxImportRetries,
		nullableString(request.SelectedJSON),
		request.RuntimeSeconds,
		nullableString(request.CoverURL),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActive
		}
		return fmt.Errorf("insert request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("request insert id: %w", err)
	}
	request.ID = id
	return nil
}

// GetRequest fetches one request by id, including soft-deleted rows.
func (s *Store) GetRequest(ctx context.Context, id int64) (*Request, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM requests WHERE id = ?", id)
	request, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return request, nil
}

// ListRequests returns non-deleted requests, optionally filtered by status.
func (s *Store) ListRequests(ctx context.Context, statuses ...Status) ([]*Request, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + requestColumns + " FROM requests WHERE deleted_at IS NULL"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " AND status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var result []*Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		result = append(result, request)
	}
	return result, rows.Err()
}

// UpdateRequest persists mutable request fields.
func (s *Store) UpdateRequest(ctx context.Context, request *Request) error {
	if request == nil || request.ID == 0 {
		return errors.New("request with id is required")
	}
	request.UpdatedAt = time.Now().UTC()
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE requests
         SET status = ?, progress = ?, error_message = ?, import_attempts = ?, max_import_retries = ?,
             selected_candidate_json = ?, runtime_seconds = ?, cover_url = ?, updated_at = ?, completed_at = ?
         WHERE id = ?`,
		string(request.Status),
		request.Progress,
		nullableString(request.ErrorMessage),
		request.ImportAttempts,
		request.MaxImportRetries,
		nullableString(request.SelectedJSON),
		request.RuntimeSeconds,
		nullableString(request.CoverURL),
		request.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(request.CompletedAt),
		request.ID,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return nil
}

// Transition moves a request between statuses, enforcing the state machine and
// guarding against concurrent writers with a conditional update. The returned
// request reflects the stored row after the transition.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status) (*Request, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := time.Now().UTC()
	var completed any
	if to == StatusAvailable || to == StatusCompleted {
		completed = now.Format(time.RFC3339Nano)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE requests SET status = ?, updated_at = ?,
             completed_at = COALESCE(?, completed_at)
         WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		string(to),
		now.Format(time.RFC3339Nano),
		completed,
		id,
		string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("transition request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: request %d is not %s", ErrConflict, id, from)
	}
	return s.GetRequest(ctx, id)
}

// SetFailed marks the request failed with the given user-visible message.
func (s *Store) SetFailed(ctx context.Context, id int64, message string) error {
	now := time.Now().UTC()
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE requests SET status = ?, error_message = ?, progress = 0, updated_at = ?
         WHERE id = ? AND deleted_at IS NULL`,
		string(StatusFailed),
		message,
		now.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set request failed: %w", err)
	}
	return nil
}

// Park moves an active request back into a waiting status and records the
// error that interrupted it. A parked request stays in the pipeline for the
// maintenance sweep to re-drive instead of ending terminally.
func (s *Store) Park(ctx context.Context, id int64, to Status, message string) error {
	if IsTerminal(to) {
		return fmt.Errorf("cannot park request %d in terminal status %s", id, to)
	}
	active := ActiveStatuses()
	args := make([]any, 0, len(active)+4)
	args = append(args, string(to), message, time.Now().UTC().Format(time.RFC3339Nano), id)
	for _, status := range active {
		args = append(args, string(status))
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE requests SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND deleted_at IS NULL AND status IN (`+makePlaceholders(len(active))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("park request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: request %d is not active", ErrConflict, id)
	}
	return nil
}

// SetProgress persists a 0-100 progress value.
func (s *Store) SetProgress(ctx context.Context, id int64, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE requests SET progress = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		percent,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set request progress: %w", err)
	}
	return nil
}

// Approve releases a request from awaiting_approval into the search pipeline.
func (s *Store) Approve(ctx context.Context, id int64) (*Request, error) {
	return s.Transition(ctx, id, StatusAwaitingApproval, StatusPending)
}

// Deny terminally rejects an awaiting_approval request.
func (s *Store) Deny(ctx context.Context, id int64) (*Request, error) {
	return s.Transition(ctx, id, StatusAwaitingApproval, StatusDenied)
}

// Cancel terminally stops a request from any non-terminal state.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	active := ActiveStatuses()
	args := make([]any, 0, len(active)+3)
	args = append(args, string(StatusCancelled), time.Now().UTC().Format(time.RFC3339Nano), id)
	for _, status := range active {
		args = append(args, string(status))
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE requests SET status = ?, updated_at = ?
         WHERE id = ? AND deleted_at IS NULL AND status IN (`+makePlaceholders(len(active))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: request %d is not active", ErrConflict, id)
	}
	return nil
}

// SoftDelete hides a request without removing the row; jobs may still
// reference it.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE requests SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("soft delete request: %w", err)
	}
	return nil
}

// ListStaleByStatus returns non-deleted requests sitting in the given status
// since before the cutoff. The maintenance job uses this to re-drive stalled
// pipeline entries.
func (s *Store) ListStaleByStatus(ctx context.Context, status Status, cutoff time.Time) ([]*Request, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+requestColumns+` FROM requests
         WHERE deleted_at IS NULL AND status = ? AND updated_at < ?
         ORDER BY updated_at ASC`,
		string(status),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale requests: %w", err)
	}
	defer rows.Close()

	var result []*Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		result = append(result, request)
	}
	return result, rows.Err()
}

// Summary aggregates request counts for health and CLI reporting.
func (s *Store) Summary(ctx context.Context) (HealthSummary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(1) FROM requests WHERE deleted_at IS NULL GROUP BY status")
	if err != nil {
		return HealthSummary{}, fmt.Errorf("summarize requests: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var statusStr string
		var count int
		if err := rows.Scan(&statusStr, &count); err != nil {
			return HealthSummary{}, err
		}
		status := Status(statusStr)
		summary.Total += count
		switch {
		case status == StatusAvailable || status == StatusCompleted:
			summary.Available += count
		case status == StatusFailed:
			summary.Failed += count
		case status == StatusWarn:
			summary.Warn += count
		case status == StatusAwaitingApproval:
			summary.AwaitingOK += count
			summary.Active += count
		case !IsTerminal(status):
			summary.Active += count
		}
	}
	return summary, rows.Err()
}
