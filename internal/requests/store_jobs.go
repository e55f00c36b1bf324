package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, broker_id, job_type, status, priority, attempts, max_attempts, payload_json, result_json, error_message, stack_trace, created_at, updated_at, started_at, finished_at"

// InsertJob records a pending ledger row before the matching broker task is
// enqueued. The ledger is the durable source of truth when broker state is
// lost.
func (s *Store) InsertJob(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job with id is required")
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO jobs (id, broker_id, job_type, status, priority, attempts, max_attempts,
            payload_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		nullableString(job.BrokerID),
		job.Type,
		string(job.Status),
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.PayloadJSON,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: job %s already recorded", ErrConflict, job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches one ledger row by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns ledger rows, optionally filtered by status, newest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// MarkJobActive flips a ledger row to active and bumps its attempt count.
// A missing row is created on the fly; scheduler-fired jobs reach the worker
// before any explicit enqueue path wrote a ledger entry.
func (s *Store) MarkJobActive(ctx context.Context, id, jobType, payloadJSON string, maxAttempts int) error {
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
         WHERE id = ?`,
		string(JobActive), nowStr, nowStr, id,
	)
	if err != nil {
		return fmt.Errorf("mark job active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	started := now
	job := &Job{
		ID:          id,
		Type:        jobType,
		Status:      JobActive,
		Attempts:    1,
		MaxAttempts: maxAttempts,
		PayloadJSON: payloadJSON,
		StartedAt:   &started,
	}
	if err := s.InsertJob(ctx, job); err != nil {
		if errors.Is(err, ErrConflict) {
			return s.MarkJobActive(ctx, id, jobType, payloadJSON, maxAttempts)
		}
		return err
	}
	return s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET status = ?, attempts = 1, started_at = ?, updated_at = ? WHERE id = ?`,
		string(JobActive), nowStr, nowStr, id,
	)
}

// MarkJobCompleted finalizes a ledger row with an optional result document.
func (s *Store) MarkJobCompleted(ctx context.Context, id, resultJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET status = ?, result_json = ?, error_message = NULL, finished_at = ?, updated_at = ?
         WHERE id = ?`,
		string(JobCompleted), nullableString(resultJSON), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// MarkJobFailed records a failed attempt. Exhausted jobs stay failed; jobs
// with retries left return to pending for the broker's next delivery.
func (s *Store) MarkJobFailed(ctx context.Context, id, errorMessage, stackTrace string, exhausted bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	status := JobPending
	finished := any(nil)
	if exhausted {
		status = JobFailed
		finished = now
	}
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, stack_trace = ?, finished_at = ?, updated_at = ?
         WHERE id = ?`,
		string(status), nullableString(errorMessage), nullableString(stackTrace), finished, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// MarkJobCancelled finalizes a ledger row whose broker task was revoked.
func (s *Store) MarkJobCancelled(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET status = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		string(JobCancelled), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	return nil
}

// ResetOrphanedJobs moves rows stuck in active from a previous process run.
// Rows with attempts left go back to pending; exhausted rows are marked stuck
// for operator attention. Returns how many rows changed.
func (s *Store) ResetOrphanedJobs(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	retryRes, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ?
         WHERE status = ? AND attempts < max_attempts`,
		string(JobPending), now, string(JobActive),
	)
	if err != nil {
		return 0, fmt.Errorf("reset orphaned jobs: %w", err)
	}
	stuckRes, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, finished_at = ?, updated_at = ?
         WHERE status = ? AND attempts >= max_attempts`,
		string(JobStuck), now, now, string(JobActive),
	)
	if err != nil {
		return 0, fmt.Errorf("mark stuck jobs: %w", err)
	}
	retried, _ := retryRes.RowsAffected()
	stuck, _ := stuckRes.RowsAffected()
	return retried + stuck, nil
}

// PruneJobs removes finished ledger rows older than the cutoff. Returns how
// many rows were deleted.
func (s *Store) PruneJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(JobCompleted), string(JobFailed), string(JobCancelled),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountJobsByStatus aggregates the ledger for status reporting.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var statusStr string
		var count int
		if err := rows.Scan(&statusStr, &count); err != nil {
			return nil, err
		}
		counts[JobStatus(statusStr)] = count
	}
	return counts, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		brokerID     sql.NullString
		jobType      string
		statusStr    string
		priority     int
		attempts     int
		maxAttempts  int
		payloadJSON  string
		resultJSON   sql.NullString
		errorMessage sql.NullString
		stackTrace   sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&id, &brokerID, &jobType, &statusStr, &priority, &attempts, &maxAttempts,
		&payloadJSON, &resultJSON, &errorMessage, &stackTrace,
		&createdRaw, &updatedRaw, &startedRaw, &finishedRaw,
	); err != nil {
		return nil, err
	}
	job := &Job{
		ID:           id,
		BrokerID:     brokerID.String,
		Type:         jobType,
		Status:       JobStatus(statusStr),
		Priority:     priority,
		Attempts:     attempts,
		MaxAttempts:  maxAttempts,
		PayloadJSON:  payloadJSON,
		ResultJSON:   resultJSON.String,
		ErrorMessage: errorMessage.String,
		StackTrace:   stackTrace.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	return job, nil
}
