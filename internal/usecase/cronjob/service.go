package cronjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/tracer"
)

const (
	defaultPollInterval = time.Second
	defaultJobTimeout   = 5 * time.Minute
)

// Deliverer publishes a job's reply to a channel.
type Deliverer interface {
	PublishOutbound(ctx context.Context, msg domain.OutboundMessage) error
}

// AddJobRequest describes a new job.
type AddJobRequest struct {
	Name     string              `json:"name"`
	Schedule domain.CronSchedule `json:"schedule"`
	Message  string              `json:"message"`
	Channel  string              `json:"channel,omitempty"`
	ChatID   string              `json:"chat_id,omitempty"`
}

// Status is a point-in-time summary of the scheduler.
type Status struct {
	Running      bool  `json:"running"`
	Jobs         int   `json:"jobs"`
	EnabledJobs  int   `json:"enabled_jobs"`
	ActiveRuns   int   `json:"active_runs"`
	NextWakeAtMs int64 `json:"next_wake_at_ms,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the default zone for cron expressions without a tz.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithPollInterval sets how often the scheduler wakes to look for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithJobTimeout bounds a single job execution.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithDeliverer routes replies of jobs whose payload names a channel.
func WithDeliverer(d Deliverer) Option {
	return func(s *Service) { s.deliver = d }
}

// Service owns the cron job set: CRUD, next-run bookkeeping and the
// background tick loop that turns due jobs into inbound messages.
//
// All job mutations (CRUD and scheduler state updates) happen under mu.
// Job execution never holds mu.
type Service struct {
	mu      sync.Mutex
	jobs    map[string]*domain.CronJob
	running map[string]bool

	store   domain.CronStore
	handler domain.MessageHandler
	deliver Deliverer
	logger  *slog.Logger

	now          func() time.Time
	loc          *time.Location
	pollInterval time.Duration
	jobTimeout   time.Duration

	loaded bool
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewService creates a Service backed by store. Call Load or Start before use.
func NewService(store domain.CronStore, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		jobs:         make(map[string]*domain.CronJob),
		running:      make(map[string]bool),
		store:        store,
		logger:       logger,
		now:          time.Now,
		loc:          time.Local,
		pollInterval: defaultPollInterval,
		jobTimeout:   defaultJobTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetHandler sets the entry point jobs are dispatched to.
func (s *Service) SetHandler(h domain.MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Load reads persisted jobs into memory. Enabled jobs without a next run
// time get one computed from now.
func (s *Service) Load(ctx context.Context) error {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("cronservice: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	s.jobs = make(map[string]*domain.CronJob, len(jobs))
	for i := range jobs {
		job := jobs[i]
		if job.Enabled && job.State.NextRunAtMs == 0 {
			next, err := FirstRun(job.Schedule, nowMs, s.loc)
			if err != nil {
				s.logger.Warn("disabling job with invalid schedule", "job", job.ID, "error", err)
				job.Enabled = false
			}
			job.State.NextRunAtMs = next
			if err := s.store.Save(ctx, job); err != nil {
				s.logger.Warn("failed to persist job", "job", job.ID, "error", err)
			}
		}
		s.jobs[job.ID] = &job
	}
	s.loaded = true
	s.logger.Info("cron jobs loaded", "total", len(jobs))
	return nil
}

// AddJob validates the schedule, computes the first run and persists the job.
// Invalid schedules fail with ErrInvalidSchedule and nothing is stored.
func (s *Service) AddJob(ctx context.Context, req AddJobRequest) (*domain.CronJob, error) {
	if req.Message == "" {
		return nil, domain.NewDomainError("cronservice.AddJob", domain.ErrInvalidInput, "message is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next, err := FirstRun(req.Schedule, now.UnixMilli(), s.loc)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = truncateName(req.Message)
	}
	job := domain.CronJob{
		ID:       newID(),
		Name:     name,
		Enabled:  true,
		Schedule: req.Schedule,
		Payload: domain.CronPayload{
			Message: req.Message,
			Channel: req.Channel,
			ChatID:  req.ChatID,
		},
		State:       domain.JobState{NextRunAtMs: next},
		CreatedAtMs: now.UnixMilli(),
		UpdatedAtMs: now.UnixMilli(),
	}
	if err := s.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("cronservice: save: %w", err)
	}
	s.jobs[job.ID] = &job

	s.logger.Info("cron job added", "job", job.ID, "name", job.Name,
		"kind", job.Schedule.Kind, "next_run_at_ms", next)
	out := job
	return &out, nil
}

// ListJobs returns jobs ordered by next run time; jobs without one sort last.
func (s *Service) ListJobs(includeDisabled bool) []domain.CronJob {
	s.mu.Lock()
	out := make([]domain.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Enabled || includeDisabled {
			out = append(out, *j)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		a, b := out[i].State.NextRunAtMs, out[k].State.NextRunAtMs
		if (a == 0) != (b == 0) {
			return b == 0
		}
		if a != b {
			return a < b
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// GetJob returns a copy of the job with the given id.
func (s *Service) GetJob(id string) (*domain.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.NewDomainError("cronservice.GetJob", domain.ErrJobNotFound, id)
	}
	out := *j
	return &out, nil
}

// EnableJob toggles a job. Enabling recomputes the next run from now;
// disabling leaves the stale next run in place, where it is ignored. An at
// job that already fired cannot be enabled again.
func (s *Service) EnableJob(ctx context.Context, id string, enabled bool) (*domain.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.NewDomainError("cronservice.EnableJob", domain.ErrJobNotFound, id)
	}

	if enabled && spent(j) {
		return nil, domain.NewDomainError("cronservice.EnableJob", domain.ErrInvalidSchedule,
			fmt.Sprintf("at job %s already fired", id))
	}

	updated := *j
	now := s.now().UnixMilli()
	updated.Enabled = enabled
	updated.UpdatedAtMs = now
	if enabled {
		next, err := FirstRun(updated.Schedule, now, s.loc)
		if err != nil {
			return nil, err
		}
		updated.State.NextRunAtMs = next
	}
	if err := s.store.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("cronservice: save: %w", err)
	}
	*j = updated

	s.logger.Info("cron job toggled", "job", id, "enabled", enabled)
	out := updated
	return &out, nil
}

// RemoveJob deletes a job. An unknown id returns false with ErrJobNotFound.
func (s *Service) RemoveJob(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false, domain.NewDomainError("cronservice.RemoveJob", domain.ErrJobNotFound, id)
	}
	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		return false, fmt.Errorf("cronservice: delete: %w", err)
	}
	delete(s.jobs, id)

	s.logger.Info("cron job removed", "job", id)
	return true, nil
}

// RunJob executes a job synchronously. A disabled job only runs when force
// is set. The run updates last_* like a scheduled firing but leaves the
// next run of recurring jobs untouched; one-shot jobs are disabled and
// refuse any later run. It returns false when the job was not run.
func (s *Service) RunJob(ctx context.Context, id string, force bool) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false, domain.NewDomainError("cronservice.RunJob", domain.ErrJobNotFound, id)
	}
	if spent(j) {
		s.mu.Unlock()
		return false, domain.NewDomainError("cronservice.RunJob", domain.ErrInvalidSchedule,
			fmt.Sprintf("at job %s already fired", id))
	}
	if (!j.Enabled && !force) || s.running[id] {
		s.mu.Unlock()
		return false, nil
	}
	s.running[id] = true
	job := *j
	s.mu.Unlock()

	s.execute(ctx, job, s.now(), true)
	return true, nil
}

// spent reports whether j is an at job that has already fired. Such a job
// never runs again.
func spent(j *domain.CronJob) bool {
	return j.Schedule.Kind == domain.ScheduleAt && j.State.LastRunAtMs != 0
}

// ListRuns returns the execution history of a job, most recent first.
func (s *Service) ListRuns(ctx context.Context, id string, limit int) ([]domain.CronRun, error) {
	if _, err := s.GetJob(id); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, id, limit)
}

// Status summarizes the scheduler.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:    s.cancel != nil,
		Jobs:       len(s.jobs),
		ActiveRuns: len(s.running),
	}
	for _, j := range s.jobs {
		if !j.Enabled {
			continue
		}
		st.EnabledJobs++
		if n := j.State.NextRunAtMs; n > 0 && (st.NextWakeAtMs == 0 || n < st.NextWakeAtMs) {
			st.NextWakeAtMs = n
		}
	}
	return st
}

// Start loads jobs if needed and launches the tick loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loaded := s.loaded
	s.mu.Unlock()

	if !loaded {
		if err := s.Load(ctx); err != nil {
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
	s.logger.Info("cron scheduler started", "poll_interval", s.pollInterval)
	return nil
}

// Stop halts the tick loop and waits for in-flight jobs, which see a
// cancelled context.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick advances every due job's schedule under the lock, then dispatches
// the payloads without it. Each job runs in its own goroutine.
func (s *Service) tick(ctx context.Context) {
	now := s.now()
	nowMs := now.UnixMilli()

	s.mu.Lock()
	var due []domain.CronJob
	for id, j := range s.jobs {
		if !j.Enabled || j.State.NextRunAtMs == 0 || j.State.NextRunAtMs > nowMs || s.running[id] {
			continue
		}
		next, enabled, err := NextAfterFire(j.Schedule, j.State.NextRunAtMs, nowMs, s.loc)
		if err != nil {
			s.logger.Warn("cannot compute next run, disabling job", "job", id, "error", err)
			enabled = false
		}
		j.State.NextRunAtMs = next
		j.Enabled = enabled
		j.UpdatedAtMs = nowMs
		if err := s.store.Save(ctx, *j); err != nil {
			s.logger.Warn("failed to persist job state", "job", id, "error", err)
		}
		s.running[id] = true
		due = append(due, *j)
	}
	s.mu.Unlock()

	for _, job := range due {
		s.wg.Add(1)
		go func(job domain.CronJob) {
			defer s.wg.Done()
			s.execute(ctx, job, now, false)
		}(job)
	}
}

// execute dispatches the job payload and records the outcome. The caller
// must have marked the job as running.
func (s *Service) execute(ctx context.Context, job domain.CronJob, firedAt time.Time, forced bool) {
	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	runCtx, span := tracer.StartSpan(runCtx, "cron.run_job",
		tracer.StringAttr("cron.job_id", job.ID),
		tracer.BoolAttr("cron.forced", forced),
	)

	start := time.Now()
	out, err := s.dispatch(runCtx, job)
	if err == nil && out.IsError {
		err = errors.New(out.Content)
	}
	tracer.End(span, err)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Warn("cron job failed", "job", job.ID, "error", err, "duration", elapsed)
	} else {
		s.logger.Info("cron job completed", "job", job.ID, "duration", elapsed, "forced", forced)
		s.deliverReply(ctx, job, out)
	}

	s.record(context.WithoutCancel(ctx), job.ID, firedAt, elapsed, forced, err)
}

func (s *Service) dispatch(ctx context.Context, job domain.CronJob) (domain.OutboundMessage, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return domain.OutboundMessage{}, errors.New("cron: no message handler configured")
	}

	channel := job.Payload.Channel
	if channel == "" {
		channel = domain.ChannelCron
	}
	chatID := job.Payload.ChatID
	if chatID == "" {
		chatID = job.ID
	}
	// Every run shares the job's own session; the payload channel only
	// addresses the reply.
	return h.Handle(ctx, domain.InboundMessage{
		Channel:    channel,
		ChatID:     chatID,
		SessionKey: domain.SessionKey(domain.ChannelCron, job.ID),
		Content:    job.Payload.Message,
		Timestamp:  s.now(),
		Metadata:   map[string]string{"cron_job_id": job.ID},
	})
}

func (s *Service) deliverReply(ctx context.Context, job domain.CronJob, out domain.OutboundMessage) {
	if s.deliver == nil || job.Payload.Channel == "" || job.Payload.Channel == domain.ChannelCron {
		return
	}
	out.Channel = job.Payload.Channel
	out.ChatID = job.Payload.ChatID
	if out.Timestamp.IsZero() {
		out.Timestamp = s.now()
	}
	if err := s.deliver.PublishOutbound(ctx, out); err != nil {
		s.logger.Warn("cron reply delivery failed", "job", job.ID, "channel", out.Channel, "error", err)
	}
}

// record stores the outcome of a run. Jobs removed mid-run are skipped.
func (s *Service) record(ctx context.Context, id string, firedAt time.Time, elapsed time.Duration, forced bool, runErr error) {
	s.mu.Lock()
	delete(s.running, id)
	j, ok := s.jobs[id]
	if ok {
		j.State.LastRunAtMs = firedAt.UnixMilli()
		j.State.LastStatus = domain.JobStatusOK
		j.State.LastError = ""
		if runErr != nil {
			j.State.LastStatus = domain.JobStatusError
			j.State.LastError = runErr.Error()
		}
		if j.Schedule.Kind == domain.ScheduleAt {
			j.Enabled = false
			j.State.NextRunAtMs = 0
		}
		j.UpdatedAtMs = s.now().UnixMilli()
		if err := s.store.Save(ctx, *j); err != nil {
			s.logger.Warn("failed to persist job state", "job", id, "error", err)
		}
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	run := domain.CronRun{
		JobID:     id,
		StartedAt: firedAt,
		Duration:  elapsed.String(),
		Forced:    forced,
		Success:   runErr == nil,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		s.logger.Warn("failed to record cron run", "job", id, "error", err)
	}
}

// waitIdle blocks until every dispatched job has finished.
func (s *Service) waitIdle() { s.wg.Wait() }

func newID() string {
	return ulid.Make().String()
}

func truncateName(msg string) string {
	r := []rune(msg)
	if len(r) > 30 {
		return string(r[:30])
	}
	return msg
}
