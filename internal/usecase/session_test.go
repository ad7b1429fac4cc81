package usecase

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chasingclaw/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManager_GetOrCreate(t *testing.T) {
	sm := newTestSessions(t)

	s1, err := sm.GetOrCreate("webui:alice")
	require.NoError(t, err)
	assert.Equal(t, "webui:alice", s1.Key)
	assert.Len(t, s1.ID, 26)
	assert.Empty(t, s1.Messages)

	s2, err := sm.GetOrCreate("webui:alice")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
}

func TestSessionManager_GetNotFound(t *testing.T) {
	sm := newTestSessions(t)

	_, err := sm.Get("webui:nobody")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionManager_HistoryDoesNotCreate(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)

	hist, err := sm.History("webui:ghost")
	require.NoError(t, err)
	assert.Empty(t, hist)

	_, err = sm.Get("webui:ghost")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	infos, err := sm.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSessionManager_EmptyKey(t *testing.T) {
	sm := newTestSessions(t)

	_, err := sm.GetOrCreate("")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.ErrorIs(t, sm.Append(""), domain.ErrInvalidInput)
}

func TestSessionManager_AppendAndHistory(t *testing.T) {
	sm := newTestSessions(t)

	require.NoError(t, sm.Append("webui:a",
		domain.Message{Role: domain.RoleUser, Content: "hi"},
		domain.Message{Role: domain.RoleAssistant, Content: "hello"},
	))

	hist, err := sm.History("webui:a")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "hi", hist[0].Content)
	assert.Equal(t, "hello", hist[1].Content)
	assert.False(t, hist[0].Timestamp.IsZero())

	// Returned history is a copy.
	hist[0].Content = "changed"
	again, err := sm.History("webui:a")
	require.NoError(t, err)
	assert.Equal(t, "hi", again[0].Content)
}

func TestSessionManager_FileFormat(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, sm.Append("cli", domain.Message{Role: domain.RoleUser, Content: "one"}))
	require.NoError(t, sm.Append("cli", domain.Message{Role: domain.RoleAssistant, Content: "two"}))

	f, err := os.Open(filepath.Join(dir, "cli.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 3)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &meta))
	assert.Equal(t, "metadata", meta["_type"])
	assert.Equal(t, "cli", meta["key"])

	var msg domain.Message
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &msg))
	assert.Equal(t, "two", msg.Content)
}

func TestSessionManager_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)

	created, err := sm.GetOrCreate("webhook:42")
	require.NoError(t, err)
	require.NoError(t, sm.Append("webhook:42",
		domain.Message{Role: domain.RoleUser, Content: "q"},
		domain.Message{
			Role:      domain.RoleAssistant,
			ToolCalls: []domain.ToolCall{{ID: "c1", Name: "exec", Arguments: json.RawMessage(`{"command":"ls"}`)}},
		},
		domain.Message{Role: domain.RoleTool, Name: "exec", ToolCallID: "c1", Error: "denied"},
	))

	reopened, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)
	sess, err := reopened.Get("webhook:42")
	require.NoError(t, err)
	assert.Equal(t, created.ID, sess.ID)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, "c1", sess.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "denied", sess.Messages[2].Error)
}

func TestSessionManager_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, sm.Append("cli", domain.Message{Role: domain.RoleUser, Content: "kept"}))

	f, err := os.OpenFile(filepath.Join(dir, "cli.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)
	hist, err := reopened.History("cli")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "kept", hist[0].Content)
}

func TestSessionFileName(t *testing.T) {
	assert.Equal(t, "cli.jsonl", sessionFileName("cli"))

	a := sessionFileName("webui:a")
	b := sessionFileName("webui_a")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "webui_a.jsonl", b)
	assert.NotContains(t, sessionFileName("../../etc/passwd"), "/")
}

func TestSessionManager_Clear(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)

	require.ErrorIs(t, sm.Clear("webui:x"), domain.ErrSessionNotFound)

	require.NoError(t, sm.Append("webui:x", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	before, err := sm.Get("webui:x")
	require.NoError(t, err)

	require.NoError(t, sm.Clear("webui:x"))

	after, err := sm.Get("webui:x")
	require.NoError(t, err)
	assert.Empty(t, after.Messages)
	assert.Equal(t, before.ID, after.ID)

	reopened, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)
	hist, err := reopened.History("webui:x")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestSessionManager_List(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, sm.Append("webui:b", domain.Message{Role: domain.RoleUser, Content: "1"}))
	require.NoError(t, sm.Append("cron:job", domain.Message{Role: domain.RoleUser, Content: "1"},
		domain.Message{Role: domain.RoleAssistant, Content: "2"}))

	// A fresh manager discovers sessions from disk.
	reopened, err := NewSessionManager(dir, newTestLogger())
	require.NoError(t, err)
	_, err = reopened.GetOrCreate("webui:a")
	require.NoError(t, err)

	infos, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "cron:job", infos[0].Key)
	assert.Equal(t, 2, infos[0].MessageCount)
	assert.Equal(t, "webui:a", infos[1].Key)
	assert.Equal(t, 0, infos[1].MessageCount)
	assert.Equal(t, "webui:b", infos[2].Key)
}

func TestSessionManager_InMemory(t *testing.T) {
	sm, err := NewSessionManager("", newTestLogger())
	require.NoError(t, err)

	require.NoError(t, sm.Append("cli", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	hist, err := sm.History("cli")
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	infos, err := sm.List()
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestSessionManager_ConcurrentAppends(t *testing.T) {
	sm := newTestSessions(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				key := fmt.Sprintf("webui:%d", w%2)
				assert.NoError(t, sm.Append(key, domain.Message{
					Role:      domain.RoleUser,
					Content:   fmt.Sprintf("%d-%d", w, i),
					Timestamp: time.Now(),
				}))
			}
		}(w)
	}
	wg.Wait()

	for _, key := range []string{"webui:0", "webui:1"} {
		hist, err := sm.History(key)
		require.NoError(t, err)
		assert.Len(t, hist, 40)
	}
}
