package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/config"
	"chasingclaw/internal/infra/logger"
	"chasingclaw/internal/usecase/cronjob"
)

// echoLLM answers every request with the last user message.
type echoLLM struct {
	mu    sync.Mutex
	calls int
}

func (e *echoLLM) Name() string { return "echo" }

func (e *echoLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	var last string
	for _, m := range req.Messages {
		if m.Role == domain.RoleUser {
			last = m.Content
		}
	}
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "echo: " + last}}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Agent.Workspace = filepath.Join(dir, "workspace")
	cfg.Sessions.DataDir = filepath.Join(dir, "sessions")
	cfg.Cron.DataDir = filepath.Join(dir, "cron")
	cfg.Cron.Timezone = "UTC"
	cfg.Memory.DataDir = filepath.Join(dir, "memory")
	cfg.Skills.Dir = filepath.Join(dir, "skills")
	cfg.Channels.HTTP.Addr = "127.0.0.1:0"
	cfg.Logger.Output = "stderr"
	cfg.Logger.Level = "error"
	return cfg
}

func testRuntime(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	log, closeLog, err := logger.New(cfg.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { closeLog() })

	rt, err := initRuntime(context.Background(), cfg, &echoLLM{}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func TestInitRuntime_Wiring(t *testing.T) {
	rt := testRuntime(t, testConfig(t))

	require.NotNil(t, rt.Cron)
	require.NotNil(t, rt.HTTP)
	assert.Equal(t, []string{"cron", "exec", "filesystem", "memory", "skill"}, rt.Agent.Tools.Names())
}

func TestInitRuntime_DisabledFeatures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cron.Enabled = false
	cfg.Channels.HTTP.Enabled = false
	cfg.Tools.Exec.Enabled = false
	cfg.Memory.Provider = "noop"
	cfg.Skills.Enabled = false

	rt := testRuntime(t, cfg)
	assert.Nil(t, rt.Cron)
	assert.Nil(t, rt.HTTP)
	assert.Equal(t, []string{"filesystem"}, rt.Agent.Tools.Names())
}

func TestInitRuntime_SQLiteCronStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cron.Store = "sqlite"
	rt := testRuntime(t, cfg)

	job, err := rt.Cron.AddJob(context.Background(), cronAddRequest("ping"))
	require.NoError(t, err)

	ran, err := rt.Cron.RunJob(context.Background(), job.ID, false)
	require.NoError(t, err)
	assert.True(t, ran)

	got, err := rt.Cron.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusOK, got.State.LastStatus)

	// The job's conversation lives under its own session.
	history, err := rt.Agent.Sessions.History(domain.SessionKey(domain.ChannelCron, job.ID))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "echo: ping", history[1].Content)
}

func TestInitRuntime_UnknownCronStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cron.Store = "redis"
	log, closeLog, err := logger.New(cfg.Logger)
	require.NoError(t, err)
	defer closeLog()

	_, err = initRuntime(context.Background(), cfg, &echoLLM{}, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cron store")
}

func TestRuntime_StartAndClose(t *testing.T) {
	rt := testRuntime(t, testConfig(t))
	require.NoError(t, rt.Start(context.Background()))
	assert.NotEmpty(t, rt.HTTP.Addr())
	assert.True(t, rt.Cron.Status().Running)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))
	assert.False(t, rt.Cron.Status().Running)
}

func TestChatLoop(t *testing.T) {
	rt := testRuntime(t, testConfig(t))

	in := strings.NewReader("hello\n\n  \nsecond\nexit\nnever sent\n")
	var out bytes.Buffer
	require.NoError(t, chatLoop(context.Background(), rt.Agent.Agent, "t1", in, &out))

	assert.Contains(t, out.String(), "chasingclaw: echo: hello")
	assert.Contains(t, out.String(), "chasingclaw: echo: second")
	assert.NotContains(t, out.String(), "never sent")

	history, err := rt.Agent.Sessions.History("cli:t1")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestChatLoop_EOF(t *testing.T) {
	rt := testRuntime(t, testConfig(t))
	var out bytes.Buffer
	require.NoError(t, chatLoop(context.Background(), rt.Agent.Agent, "t2", strings.NewReader("hi"), &out))
	assert.Contains(t, out.String(), "echo: hi")
}

func TestAsk(t *testing.T) {
	rt := testRuntime(t, testConfig(t))
	reply, err := ask(context.Background(), rt.Agent.Agent, "ping", "one")
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", reply)
}

func cronAddRequest(message string) cronjob.AddJobRequest {
	return cronjob.AddJobRequest{
		Schedule: domain.CronSchedule{Kind: domain.ScheduleEvery, EveryMs: time.Hour.Milliseconds()},
		Message:  message,
	}
}
