package channel

import (
	"net/http"
	"strings"
	"time"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/usecase/cronjob"
)

const defaultJobName = "New job"

// jobView is the JSON shape of a cron job in the admin API.
type jobView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	ScheduleKind string `json:"scheduleKind"`
	EverySeconds int64  `json:"everySeconds"`
	CronExpr     string `json:"cronExpr"`
	TZ           string `json:"tz,omitempty"`
	AtISO        string `json:"atIso"`
	Message      string `json:"message"`
	Channel      string `json:"channel,omitempty"`
	ChatID       string `json:"chatId,omitempty"`
	NextRunAtMs  int64  `json:"nextRunAtMs"`
	LastRunAtMs  int64  `json:"lastRunAtMs"`
	LastStatus   string `json:"lastStatus"`
	LastError    string `json:"lastError"`
}

func (h *HTTPChannel) toJobView(j domain.CronJob) jobView {
	v := jobView{
		ID:           j.ID,
		Name:         j.Name,
		Enabled:      j.Enabled,
		ScheduleKind: string(j.Schedule.Kind),
		EverySeconds: j.Schedule.EveryMs / 1000,
		CronExpr:     j.Schedule.Expr,
		TZ:           j.Schedule.TZ,
		Message:      j.Payload.Message,
		Channel:      j.Payload.Channel,
		ChatID:       j.Payload.ChatID,
		NextRunAtMs:  j.State.NextRunAtMs,
		LastRunAtMs:  j.State.LastRunAtMs,
		LastStatus:   j.State.LastStatus,
		LastError:    j.State.LastError,
	}
	if j.Schedule.AtMs > 0 {
		v.AtISO = time.UnixMilli(j.Schedule.AtMs).In(h.deps.Location).Format("2006-01-02T15:04")
	}
	return v
}

func (h *HTTPChannel) handleCronList(w http.ResponseWriter, r *http.Request) {
	includeDisabled := strings.TrimSpace(r.URL.Query().Get("all")) != "0"
	jobs := h.deps.Cron.ListJobs(includeDisabled)
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, h.toJobView(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

type addJobRequest struct {
	Name         string `json:"name"`
	Message      string `json:"message"`
	ScheduleType string `json:"scheduleType"`
	EverySeconds int64  `json:"everySeconds"`
	CronExpr     string `json:"cronExpr"`
	TZ           string `json:"tz"`
	AtTime       string `json:"atTime"`
	Channel      string `json:"channel"`
	ChatID       string `json:"chatId"`
}

func (h *HTTPChannel) handleCronAdd(w http.ResponseWriter, r *http.Request) {
	var req addJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sched, err := h.parseSchedule(req)
	if err != nil {
		writeError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultJobName
	}

	job, err := h.deps.Cron.AddJob(r.Context(), cronjob.AddJobRequest{
		Name:     name,
		Schedule: sched,
		Message:  strings.TrimSpace(req.Message),
		Channel:  strings.TrimSpace(req.Channel),
		ChatID:   strings.TrimSpace(req.ChatID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": h.toJobView(*job)})
}

func (h *HTTPChannel) parseSchedule(req addJobRequest) (domain.CronSchedule, error) {
	const op = "cron.add"
	kind := strings.ToLower(strings.TrimSpace(req.ScheduleType))
	if kind == "" {
		kind = string(domain.ScheduleEvery)
	}
	switch domain.ScheduleKind(kind) {
	case domain.ScheduleEvery:
		if req.EverySeconds <= 0 {
			return domain.CronSchedule{}, domain.NewDomainError(op, domain.ErrInvalidSchedule, "everySeconds must be > 0")
		}
		return domain.CronSchedule{Kind: domain.ScheduleEvery, EveryMs: req.EverySeconds * 1000}, nil
	case domain.ScheduleCron:
		expr := strings.TrimSpace(req.CronExpr)
		if expr == "" {
			return domain.CronSchedule{}, domain.NewDomainError(op, domain.ErrInvalidSchedule, "cronExpr is required for cron schedule")
		}
		return domain.CronSchedule{Kind: domain.ScheduleCron, Expr: expr, TZ: strings.TrimSpace(req.TZ)}, nil
	case domain.ScheduleAt:
		at, err := parseAtTime(strings.TrimSpace(req.AtTime), h.deps.Location)
		if err != nil {
			return domain.CronSchedule{}, domain.NewDomainError(op, domain.ErrInvalidSchedule, err.Error())
		}
		return domain.CronSchedule{Kind: domain.ScheduleAt, AtMs: at.UnixMilli()}, nil
	default:
		return domain.CronSchedule{}, domain.NewDomainError(op, domain.ErrInvalidSchedule, "scheduleType must be one of: every, cron, at")
	}
}

// parseAtTime accepts RFC 3339 or a zone-less ISO date-time read in loc.
func parseAtTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, errAtRequired
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errAtFormat
}

var (
	errAtRequired = domain.NewDomainError("cron.add", domain.ErrInvalidSchedule, "atTime is required for at schedule")
	errAtFormat   = domain.NewDomainError("cron.add", domain.ErrInvalidSchedule, "invalid atTime format, expected ISO date-time")
)

type jobIDRequest struct {
	JobID   string   `json:"jobId"`
	Enabled flexBool `json:"enabled"`
	Force   flexBool `json:"force"`
}

func (h *HTTPChannel) decodeJobID(w http.ResponseWriter, r *http.Request) (jobIDRequest, bool) {
	var req jobIDRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		writeError(w, domain.NewDomainError("cron", domain.ErrInvalidInput, "jobId is required"))
		return req, false
	}
	return req, true
}

func (h *HTTPChannel) handleCronToggle(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeJobID(w, r)
	if !ok {
		return
	}
	job, err := h.deps.Cron.EnableJob(r.Context(), req.JobID, bool(req.Enabled))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": h.toJobView(*job)})
}

func (h *HTTPChannel) handleCronRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeJobID(w, r)
	if !ok {
		return
	}
	if _, err := h.deps.Cron.RemoveJob(r.Context(), req.JobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobId": req.JobID})
}

func (h *HTTPChannel) handleCronRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeJobID(w, r)
	if !ok {
		return
	}
	ran, err := h.deps.Cron.RunJob(r.Context(), req.JobID, bool(req.Force))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ran {
		writeJSON(w, http.StatusConflict, errorBody{Error: "job was not run (disabled or already running)"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobId": req.JobID})
}
