package requests

import "time"

// JobStatus mirrors the broker-side lifecycle of a queued unit of work.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobStuck     JobStatus = "stuck"
	JobCancelled JobStatus = "cancelled"
)

// Job is the durable ledger record for one queued unit of work. It is the
// source of truth when broker state is lost; only the queue's lifecycle
// handlers mutate it.
type Job struct {
	ID           string
	BrokerID     string
	Type         string
	Status       JobStatus
	Priority     int
	Attempts     int
	MaxAttempts  int
	PayloadJSON  string
	ResultJSON   string
	ErrorMessage string
	StackTrace   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}
