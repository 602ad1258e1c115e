package domain

import (
	"encoding/json"
	"time"
)

// JobID identifies a job; ids grow monotonically and break FIFO ties.
type JobID int64

// Job is a persisted unit of asynchronous work
type Job struct {
	ID        JobID
	Type      string
	Payload   json.RawMessage
	Status    JobStatus
	Attempts  int
	LastError string
	RunAfter  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobFilter narrows a job listing. AfterID pages backwards from newest.
type JobFilter struct {
	Status  JobStatus
	Type    string
	AfterID JobID
	Limit   int
}

// EnqueueNotification is published after a job is enqueued so idle
// workers can start a pass early.
type EnqueueNotification struct {
	JobID    JobID     `json:"job_id"`
	Type     string    `json:"type"`
	RunAfter time.Time `json:"run_after"`
}
