package requests

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

const requestColumns = "id, media_type, title, author, asin, user_name, status, progress, error_message, parent_request_id, import_attempts, max_import_retries, selected_candidate_json, runtime_seconds, cover_url, created_at, updated_at, completed_at, deleted_at"

func scanRequest(scanner interface{ Scan(dest ...any) error }) (*Request, error) {
	var (
		id             int64
		mediaType      string
		title          string
		author         sql.NullString
		asin           sql.NullString
		userName       sql.NullString
		statusStr      string
		progress       sql.NullInt64
		errorMessage   sql.NullString
		parentID       sql.NullInt64
		importAttempts sql.NullInt64
		maxRetries     sql.NullInt64
		selectedJSON   sql.NullString
		runtimeSecs    sql.NullInt64
		coverURL       sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
		completedRaw   sql.NullString
		deletedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&mediaType,
		&title,
		&author,
		&asin,
		&userName,
		&statusStr,
		&progress,
		&errorMessage,
		&parentID,
		&importAttempts,
		&maxRetries,
		&selectedJSON,
		&runtimeSecs,
		&coverURL,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&deletedRaw,
	); err != nil {
		return nil, err
	}

	request := &Request{
		ID:               id,
		MediaType:        MediaType(mediaType),
		Title:            title,
		Author:           author.String,
		ASIN:             asin.String,
		UserName:         userName.String,
		Status:           Status(statusStr),
		Progress:         int(progress.Int64),
		ErrorMessage:     errorMessage.String,
		ImportAttempts:   int(importAttempts.Int64),
		MaxImportRetries: int(maxRetries.Int64),
		SelectedJSON:     selectedJSON.String,
		RuntimeSeconds:   int(runtimeSecs.Int64),
		CoverURL:         coverURL.String,
	}
	if parentID.Valid {
		v := parentID.Int64
		request.ParentRequestID = &v
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		request.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		request.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			request.CompletedAt = &completed
		}
	}
	if deletedRaw.Valid {
		if deleted, err := parseTimeString(deletedRaw.String); err == nil {
			request.DeletedAt = &deleted
		}
	}
	return request, nil
}
