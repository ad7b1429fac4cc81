package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/usecase/cronjob"
)

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

// CronTool lets the model manage scheduled jobs.
type CronTool struct {
	service *cronjob.Service
	logger  *slog.Logger
}

// NewCronTool creates a cron tool backed by the given service.
func NewCronTool(service *cronjob.Service, logger *slog.Logger) *CronTool {
	return &CronTool{service: service, logger: logger}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Schedule messages to yourself: add, list, enable, disable, remove, run and inspect cron jobs. " +
		"Schedules are 'every' (interval in ms), 'cron' (five-field expression) or 'at' (one-shot time)."
}

func (t *CronTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"enum": ["add", "list", "get", "enable", "disable", "remove", "run", "runs"],
					"description": "The operation to perform"
				},
				"job_id": {
					"type": "string",
					"description": "Job ID (required for get, enable, disable, remove, run, runs)"
				},
				"name": {
					"type": "string",
					"description": "Human-readable job name (add)"
				},
				"message": {
					"type": "string",
					"description": "Message handed to the agent when the job fires (add)"
				},
				"schedule": {
					"type": "object",
					"properties": {
						"kind": {"type": "string", "enum": ["every", "cron", "at"]},
						"every_ms": {"type": "integer", "minimum": 1, "description": "Interval for 'every'"},
						"expr": {"type": "string", "description": "Cron expression for 'cron', e.g. '0 9 * * *'"},
						"tz": {"type": "string", "description": "IANA time zone for 'cron'"},
						"at_ms": {"type": "integer", "description": "Unix milliseconds for 'at'"},
						"at": {"type": "string", "description": "RFC 3339 timestamp for 'at', alternative to at_ms"}
					},
					"required": ["kind"]
				},
				"channel": {
					"type": "string",
					"description": "Channel that receives the job's reply (optional)"
				},
				"chat_id": {
					"type": "string",
					"description": "Chat within the channel (optional)"
				},
				"include_disabled": {
					"type": "boolean",
					"description": "Include disabled jobs in list"
				},
				"force": {
					"type": "boolean",
					"description": "Run even when the job is disabled (run)"
				},
				"limit": {
					"type": "integer",
					"description": "Max runs to return (runs, 1-100, default 10)"
				}
			},
			"required": ["action"]
		}`),
	}
}

type cronScheduleParams struct {
	Kind    domain.ScheduleKind `json:"kind"`
	EveryMs int64               `json:"every_ms"`
	Expr    string              `json:"expr"`
	TZ      string              `json:"tz"`
	AtMs    int64               `json:"at_ms"`
	At      string              `json:"at"`
}

func (p cronScheduleParams) toSchedule() (domain.CronSchedule, error) {
	s := domain.CronSchedule{Kind: p.Kind, EveryMs: p.EveryMs, Expr: p.Expr, TZ: p.TZ, AtMs: p.AtMs}
	if p.Kind == domain.ScheduleAt && p.AtMs == 0 && p.At != "" {
		ts, err := time.Parse(time.RFC3339, p.At)
		if err != nil {
			return s, domain.NewDomainError("CronTool.add", domain.ErrInvalidSchedule,
				fmt.Sprintf("invalid 'at' timestamp %q", p.At))
		}
		s.AtMs = ts.UnixMilli()
	}
	return s, nil
}

type cronParams struct {
	Action          string              `json:"action"`
	JobID           string              `json:"job_id"`
	Name            string              `json:"name"`
	Message         string              `json:"message"`
	Schedule        *cronScheduleParams `json:"schedule,omitempty"`
	Channel         string              `json:"channel"`
	ChatID          string              `json:"chat_id"`
	IncludeDisabled bool                `json:"include_disabled"`
	Force           bool                `json:"force"`
	Limit           int                 `json:"limit"`
}

func (t *CronTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.cron", t.logger, params,
		Dispatch(func(p cronParams) string { return p.Action }, ActionMap[cronParams]{
			"add":     t.handleAdd,
			"list":    t.handleList,
			"get":     t.handleGet,
			"enable":  t.handleToggle(true),
			"disable": t.handleToggle(false),
			"remove":  t.handleRemove,
			"run":     t.handleRun,
			"runs":    t.handleRuns,
		}),
	)
}

func (t *CronTool) handleAdd(ctx context.Context, p cronParams) (any, error) {
	if p.Schedule == nil {
		return nil, fmt.Errorf("'schedule' is required for add action")
	}
	if err := ValidateAll(
		RequireField("message", p.Message),
		RequireTogether("channel", p.Channel, "chat_id", p.ChatID),
	); err != nil {
		return nil, err
	}
	sched, err := p.Schedule.toSchedule()
	if err != nil {
		return nil, err
	}
	return t.service.AddJob(ctx, cronjob.AddJobRequest{
		Name:     p.Name,
		Schedule: sched,
		Message:  p.Message,
		Channel:  p.Channel,
		ChatID:   p.ChatID,
	})
}

func (t *CronTool) handleList(_ context.Context, p cronParams) (any, error) {
	jobs := t.service.ListJobs(p.IncludeDisabled)
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}
	return jobs, nil
}

func (t *CronTool) handleGet(_ context.Context, p cronParams) (any, error) {
	if err := RequireField("job_id", p.JobID); err != nil {
		return nil, err
	}
	return t.service.GetJob(p.JobID)
}

func (t *CronTool) handleToggle(enabled bool) ActionHandler[cronParams] {
	return func(ctx context.Context, p cronParams) (any, error) {
		if err := RequireField("job_id", p.JobID); err != nil {
			return nil, err
		}
		return t.service.EnableJob(ctx, p.JobID, enabled)
	}
}

func (t *CronTool) handleRemove(ctx context.Context, p cronParams) (any, error) {
	if err := RequireField("job_id", p.JobID); err != nil {
		return nil, err
	}
	removed, err := t.service.RemoveJob(ctx, p.JobID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"removed": removed}, nil
}

func (t *CronTool) handleRun(ctx context.Context, p cronParams) (any, error) {
	if err := RequireField("job_id", p.JobID); err != nil {
		return nil, err
	}
	ran, err := t.service.RunJob(ctx, p.JobID, p.Force)
	if err != nil {
		return nil, err
	}
	if !ran {
		return fmt.Sprintf("Job %s was not run (disabled or already running).", p.JobID), nil
	}
	job, err := t.service.GetJob(p.JobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (t *CronTool) handleRuns(ctx context.Context, p cronParams) (any, error) {
	if err := RequireField("job_id", p.JobID); err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultRunsLimit
	}
	if err := ValidateRange("limit", limit, 1, maxRunsLimit); err != nil {
		return nil, err
	}
	return t.service.ListRuns(ctx, p.JobID, limit)
}
