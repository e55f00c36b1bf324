package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const scheduledJobColumns = "id, name, job_type, cron_expression, enabled, last_run, next_run, created_at, updated_at"

// UpsertScheduledJob creates or refreshes a recurring trigger keyed by name.
// Definitions declared in code win over stored rows, so upsert overwrites the
// type and cron expression but preserves last_run.
func (s *Store) UpsertScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if job == nil || strings.TrimSpace(job.Name) == "" {
		return errors.New("scheduled job name is required")
	}
	now := time.Now().UTC()
	job.UpdatedAt = now

	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO scheduled_jobs (name, job_type, cron_expression, enabled, next_run, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
            job_type = excluded.job_type,
            cron_expression = excluded.cron_expression,
            enabled = excluded.enabled,
            next_run = excluded.next_run,
            updated_at = excluded.updated_at`,
		job.Name,
		job.JobType,
		job.CronExpression,
		boolToInt(job.Enabled),
		nullableTime(job.NextRun),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert scheduled job: %w", err)
	}

	stored, err := s.GetScheduledJob(ctx, job.Name)
	if err != nil {
		return err
	}
	job.ID = stored.ID
	job.LastRun = stored.LastRun
	job.CreatedAt = stored.CreatedAt
	return nil
}

// GetScheduledJob fetches a recurring trigger by its stable name.
func (s *Store) GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+scheduledJobColumns+" FROM scheduled_jobs WHERE name = ?", name)
	job, err := scanScheduledJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	return job, nil
}

// ListScheduledJobs returns all recurring triggers ordered by name.
func (s *Store) ListScheduledJobs(ctx context.Context) ([]*ScheduledJob, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+scheduledJobColumns+" FROM scheduled_jobs ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var result []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// SetScheduledJobEnabled flips a trigger on or off without touching its cron
// expression.
func (s *Store) SetScheduledJobEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE scheduled_jobs SET enabled = ?, updated_at = ? WHERE name = ?`,
		boolToInt(enabled),
		time.Now().UTC().Format(time.RFC3339Nano),
		name,
	)
	if err != nil {
		return fmt.Errorf("set scheduled job enabled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// StampScheduledJobRun records a firing and the next expected run time.
func (s *Store) StampScheduledJobRun(ctx context.Context, name string, ranAt, nextRun time.Time) error {
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE scheduled_jobs SET last_run = ?, next_run = ?, updated_at = ? WHERE name = ?`,
		ranAt.UTC().Format(time.RFC3339Nano),
		nextRun.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		name,
	)
	if err != nil {
		return fmt.Errorf("stamp scheduled job run: %w", err)
	}
	return nil
}

// DeleteScheduledJob removes a trigger definition. Missing rows are not an
// error; sync passes call this for every retired name.
func (s *Store) DeleteScheduledJob(ctx context.Context, name string) error {
	err := s.execWithoutResultRetry(ctx, "DELETE FROM scheduled_jobs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete scheduled job: %w", err)
	}
	return nil
}

func scanScheduledJob(scanner interface{ Scan(dest ...any) error }) (*ScheduledJob, error) {
	var (
		id         int64
		name       string
		jobType    string
		cronExpr   string
		enabled    int
		lastRaw    sql.NullString
		nextRaw    sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &name, &jobType, &cronExpr, &enabled, &lastRaw, &nextRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	job := &ScheduledJob{
		ID:             id,
		Name:           name,
		JobType:        jobType,
		CronExpression: cronExpr,
		Enabled:        enabled != 0,
	}
	if lastRaw.Valid {
		if last, err := parseTimeString(lastRaw.String); err == nil {
			job.LastRun = &last
		}
	}
	if nextRaw.Valid {
		if next, err := parseTimeString(nextRaw.String); err == nil {
			job.NextRun = &next
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
