package domain

import (
	"context"
	"time"
)

// ScheduleKind selects the recurrence policy of a cron job.
type ScheduleKind string

const (
	ScheduleEvery ScheduleKind = "every" // fixed period
	ScheduleCron  ScheduleKind = "cron"  // five-field cron expression
	ScheduleAt    ScheduleKind = "at"    // one-shot
)

// Job run outcomes recorded in JobState.LastStatus.
const (
	JobStatusOK    = "ok"
	JobStatusError = "error"
)

// CronSchedule is a closed variant over the three schedule kinds.
// Only the fields of the selected Kind are meaningful.
type CronSchedule struct {
	Kind    ScheduleKind `json:"kind"`
	EveryMs int64        `json:"every_ms,omitempty"`
	Expr    string       `json:"expr,omitempty"`
	TZ      string       `json:"tz,omitempty"`
	AtMs    int64        `json:"at_ms,omitempty"`
}

// CronPayload is what a job hands to the agent loop when it fires.
type CronPayload struct {
	Message string `json:"message"`
	// Channel and ChatID, when set, route the reply to that channel.
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// JobState is the scheduler-owned part of a job. Zero timestamps mean unset.
type JobState struct {
	NextRunAtMs int64  `json:"next_run_at_ms,omitempty"`
	LastRunAtMs int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// CronJob is a persisted scheduled job.
type CronJob struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Enabled     bool         `json:"enabled"`
	Schedule    CronSchedule `json:"schedule"`
	Payload     CronPayload  `json:"payload"`
	State       JobState     `json:"state"`
	CreatedAtMs int64        `json:"created_at_ms"`
	UpdatedAtMs int64        `json:"updated_at_ms"`
}

// CronRun records one execution of a cron job.
type CronRun struct {
	JobID     string    `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Forced    bool      `json:"forced,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// CronStore provides persistent storage for cron jobs and their execution history.
// Every method is atomic with respect to the stored document.
type CronStore interface {
	Save(ctx context.Context, job CronJob) error
	Get(ctx context.Context, id string) (*CronJob, error)
	List(ctx context.Context) ([]CronJob, error)
	Delete(ctx context.Context, id string) error
	SaveRun(ctx context.Context, run CronRun) error
	ListRuns(ctx context.Context, jobID string, limit int) ([]CronRun, error)
}
