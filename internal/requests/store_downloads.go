package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OpenDownload records a new active transfer for a request. The partial unique
// index allows at most one open transfer per request; violations surface as
// ErrConflict.
func (s *Store) OpenDownload(ctx context.Context, history *DownloadHistory) error {
	if history == nil || history.RequestID == 0 {
		return errors.New("download history with request id is required")
	}
	if history.Status == "" {
		history.Status = DownloadActive
	}
	now := time.Now().UTC()
	history.CreatedAt = now
	history.UpdatedAt = now

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO download_history (request_id, client_id, client_type, transfer_hash, status,
            error_message, source_path, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		history.RequestID,
		history.ClientID,
		history.ClientType,
		nullableString(history.TransferHash),
		string(history.Status),
		nullableString(history.ErrorMessage),
		nullableString(history.SourcePath),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: request %d already has an open transfer", ErrConflict, history.RequestID)
		}
		return fmt.Errorf("insert download history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("download history insert id: %w", err)
	}
	history.ID = id
	return nil
}

// OpenDownloadForRequest returns the single active transfer for a request, or
// ErrNotFound when the monitoring loop has nothing to track.
func (s *Store) OpenDownloadForRequest(ctx context.Context, requestID int64) (*DownloadHistory, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, request_id, client_id, client_type, transfer_hash, status, error_message,
            source_path, created_at, updated_at
         FROM download_history WHERE request_id = ? AND status = ?`,
		requestID,
		string(DownloadActive),
	)
	history, err := scanDownloadHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open download: %w", err)
	}
	return history, nil
}

// CloseDownload finalizes an active transfer with a terminal status. Closing
// an already-closed row returns ErrConflict, which keeps retried monitor runs
// from double-finalizing.
func (s *Store) CloseDownload(ctx context.Context, id int64, status DownloadStatus, errorMessage, sourcePath string) error {
	if status == DownloadActive {
		return errors.New("close requires a terminal download status")
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE download_history
         SET status = ?, error_message = ?, source_path = COALESCE(NULLIF(?, ''), source_path), updated_at = ?
         WHERE id = ? AND status = ?`,
		string(status),
		nullableString(errorMessage),
		sourcePath,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		string(DownloadActive),
	)
	if err != nil {
		return fmt.Errorf("close download: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: download %d is not active", ErrConflict, id)
	}
	return nil
}

// ListDownloads returns the full transfer history for a request, newest first.
func (s *Store) ListDownloads(ctx context.Context, requestID int64) ([]*DownloadHistory, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, request_id, client_id, client_type, transfer_hash, status, error_message,
            source_path, created_at, updated_at
         FROM download_history WHERE request_id = ? ORDER BY created_at DESC, id DESC`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var result []*DownloadHistory
	for rows.Next() {
		history, err := scanDownloadHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download history: %w", err)
		}
		result = append(result, history)
	}
	return result, rows.Err()
}

func scanDownloadHistory(scanner interface{ Scan(dest ...any) error }) (*DownloadHistory, error) {
	var (
		id           int64
		requestID    int64
		clientID     string
		clientType   string
		transferHash sql.NullString
		statusStr    string
		errorMessage sql.NullString
		sourcePath   sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&id, &requestID, &clientID, &clientType, &transferHash,
		&statusStr, &errorMessage, &sourcePath, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	history := &DownloadHistory{
		ID:           id,
		RequestID:    requestID,
		ClientID:     clientID,
		ClientType:   clientType,
		TransferHash: transferHash.String,
		Status:       DownloadStatus(statusStr),
		ErrorMessage: errorMessage.String,
		SourcePath:   sourcePath.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		history.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		history.UpdatedAt = updated
	}
	return history, nil
}
