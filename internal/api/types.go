// Package api exposes the request workflow as a service layer shared by the
// daemon's HTTP surface and the CLI, with JSON DTOs decoupled from the
// persistence models.
package api

import (
	"time"

	"listenarr/internal/requests"
)

// RequestView is the API representation of a fulfillment request.
type RequestView struct {
	ID             int64      `json:"id"`
	MediaType      string     `json:"mediaType"`
	Title          string     `json:"title"`
	Author         string     `json:"author,omitempty"`
	ASIN           string     `json:"asin,omitempty"`
	UserName       string     `json:"userName,omitempty"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	ImportAttempts int        `json:"importAttempts"`
	ReRequestable  bool       `json:"reRequestable"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// JobView is the API representation of a ledger row.
type JobView struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// ScheduleView is the API representation of a recurring trigger.
type ScheduleView struct {
	Name           string     `json:"name"`
	JobType        string     `json:"jobType"`
	CronExpression string     `json:"cronExpression"`
	Enabled        bool       `json:"enabled"`
	LastRun        *time.Time `json:"lastRun,omitempty"`
	NextRun        *time.Time `json:"nextRun,omitempty"`
}

// CreateRequestInput is the payload for creating a request.
type CreateRequestInput struct {
	MediaType string `json:"mediaType"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	ASIN      string `json:"asin,omitempty"`
	UserName  string `json:"userName,omitempty"`
	CoverURL  string `json:"coverUrl,omitempty"`
}

// RequestListResponse wraps a request listing.
type RequestListResponse struct {
	Requests []RequestView `json:"requests"`
}

// JobListResponse wraps a ledger listing.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// ScheduleListResponse wraps a schedule listing.
type ScheduleListResponse struct {
	Schedules []ScheduleView `json:"schedules"`
}

// FromRequest converts a persistence model into its API view.
func FromRequest(request *requests.Request) RequestView {
	return RequestView{
		ID:             request.ID,
		MediaType:      string(request.MediaType),
		Title:          request.Title,
		Author:         request.Author,
		ASIN:           request.ASIN,
		UserName:       request.UserName,
		Status:         string(request.Status),
		Progress:       request.Progress,
		ErrorMessage:   request.ErrorMessage,
		ImportAttempts: request.ImportAttempts,
		ReRequestable:  requests.IsReRequestable(request.Status),
		CreatedAt:      request.CreatedAt,
		UpdatedAt:      request.UpdatedAt,
		CompletedAt:    request.CompletedAt,
	}
}

// FromRequests converts a slice of persistence models.
func FromRequests(rows []*requests.Request) []RequestView {
	views := make([]RequestView, 0, len(rows))
	for _, row := range rows {
		views = append(views, FromRequest(row))
	}
	return views
}

// FromJob converts a ledger row into its API view.
func FromJob(job *requests.Job) JobView {
	return JobView{
		ID:          job.ID,
		Type:        job.Type,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Error:       job.ErrorMessage,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}
}

// FromJobs converts a slice of ledger rows.
func FromJobs(rows []*requests.Job) []JobView {
	views := make([]JobView, 0, len(rows))
	for _, row := range rows {
		views = append(views, FromJob(row))
	}
	return views
}

// FromSchedule converts a schedule row into its API view.
func FromSchedule(schedule *requests.ScheduledJob) ScheduleView {
	return ScheduleView{
		Name:           schedule.Name,
		JobType:        schedule.JobType,
		CronExpression: schedule.CronExpression,
		Enabled:        schedule.Enabled,
		LastRun:        schedule.LastRun,
		NextRun:        schedule.NextRun,
	}
}

// FromSchedules converts a slice of schedule rows.
func FromSchedules(rows []*requests.ScheduledJob) []ScheduleView {
	views := make([]ScheduleView, 0, len(rows))
	for _, row := range rows {
		views = append(views, FromSchedule(row))
	}
	return views
}
