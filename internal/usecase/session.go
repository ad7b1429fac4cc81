package usecase

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"chasingclaw/internal/domain"
	"github.com/oklog/ulid/v2"
)

const (
	sessionFileExt      = ".jsonl"
	sessionMetadataType = "metadata"
	maxSessionLineSize  = 16 << 20
)

// Session is a point-in-time snapshot of one conversation.
type Session struct {
	ID        string           `json:"id"`
	Key       string           `json:"key"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Messages  []domain.Message `json:"messages"`
}

// SessionInfo summarizes a stored session for listings.
type SessionInfo struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// sessionMetadata is the first line of every session file.
type sessionMetadata struct {
	Type      string    `json:"_type"`
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionEntry holds one session's state. Its mutex scopes every read and
// append for that key; the manager's map lock only guards lookups.
type sessionEntry struct {
	mu        sync.Mutex
	meta      sessionMetadata
	messages  []domain.Message
	updatedAt time.Time
}

func (e *sessionEntry) snapshot() *Session {
	msgs := make([]domain.Message, len(e.messages))
	copy(msgs, e.messages)
	return &Session{
		ID:        e.meta.ID,
		Key:       e.meta.Key,
		CreatedAt: e.meta.CreatedAt,
		UpdatedAt: e.updatedAt,
		Messages:  msgs,
	}
}

// SessionManager owns append-only conversation histories keyed by session
// key. Each session is persisted as one JSONL file under dataDir; an empty
// dataDir keeps sessions in memory only.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	dataDir  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionManager creates a session manager persisting under dataDir.
func NewSessionManager(dataDir string, logger *slog.Logger) (*SessionManager, error) {
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, domain.WrapOp("NewSessionManager", err)
		}
	}
	return &SessionManager{
		sessions: make(map[string]*sessionEntry),
		dataDir:  dataDir,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// GetOrCreate returns the session for key, loading it from disk or creating
// it on first reference.
func (sm *SessionManager) GetOrCreate(key string) (*Session, error) {
	entry, err := sm.entry(key, true)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshot(), nil
}

// Get returns the session for key, or ErrSessionNotFound.
func (sm *SessionManager) Get(key string) (*Session, error) {
	entry, err := sm.entry(key, false)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshot(), nil
}

// History returns a copy of the messages stored for key. An unknown key
// yields an empty history and no session is created.
func (sm *SessionManager) History(key string) ([]domain.Message, error) {
	sess, err := sm.Get(key)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// Append adds messages to the session for key, persisting each one before
// it becomes visible to readers.
func (sm *SessionManager) Append(key string, msgs ...domain.Message) error {
	entry, err := sm.entry(key, true)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	for _, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = sm.now()
		}
		if err := sm.appendLine(entry.meta.Key, msg); err != nil {
			return domain.WrapOp("SessionManager.Append", err)
		}
		entry.messages = append(entry.messages, msg)
		entry.updatedAt = msg.Timestamp
	}
	return nil
}

// Clear drops all messages of the session for key, keeping its identity.
func (sm *SessionManager) Clear(key string) error {
	entry, err := sm.entry(key, false)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if sm.dataDir != "" {
		line, err := json.Marshal(entry.meta)
		if err != nil {
			return domain.WrapOp("SessionManager.Clear", err)
		}
		if err := writeFileAtomic(sm.sessionPath(key), append(line, '\n')); err != nil {
			return domain.WrapOp("SessionManager.Clear", err)
		}
	}
	entry.messages = nil
	entry.updatedAt = sm.now()
	return nil
}

// List returns every known session, in memory or on disk, sorted by key.
func (sm *SessionManager) List() ([]SessionInfo, error) {
	seen := make(map[string]bool)
	var infos []SessionInfo

	sm.mu.Lock()
	entries := make([]*sessionEntry, 0, len(sm.sessions))
	for _, e := range sm.sessions {
		entries = append(entries, e)
	}
	sm.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:           e.meta.ID,
			Key:          e.meta.Key,
			CreatedAt:    e.meta.CreatedAt,
			UpdatedAt:    e.updatedAt,
			MessageCount: len(e.messages),
		})
		seen[e.meta.Key] = true
		e.mu.Unlock()
	}

	if sm.dataDir != "" {
		files, err := os.ReadDir(sm.dataDir)
		if err != nil {
			return nil, domain.WrapOp("SessionManager.List", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), sessionFileExt) {
				continue
			}
			meta, msgs, err := sm.readFile(filepath.Join(sm.dataDir, f.Name()))
			if err != nil || meta == nil {
				sm.logger.Warn("skipping unreadable session file", "file", f.Name(), "error", err)
				continue
			}
			if seen[meta.Key] {
				continue
			}
			seen[meta.Key] = true
			updated := meta.CreatedAt
			if len(msgs) > 0 {
				updated = msgs[len(msgs)-1].Timestamp
			}
			infos = append(infos, SessionInfo{
				ID:           meta.ID,
				Key:          meta.Key,
				CreatedAt:    meta.CreatedAt,
				UpdatedAt:    updated,
				MessageCount: len(msgs),
			})
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// entry resolves the in-memory state for key, loading from disk on a miss.
// With create set, a missing session is created and its metadata persisted.
func (sm *SessionManager) entry(key string, create bool) (*sessionEntry, error) {
	if key == "" {
		return nil, domain.NewDomainError("SessionManager", domain.ErrInvalidInput, "session key is required")
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if e, ok := sm.sessions[key]; ok {
		return e, nil
	}

	if sm.dataDir != "" {
		meta, msgs, err := sm.readFile(sm.sessionPath(key))
		switch {
		case err == nil && meta != nil:
			if meta.Key != key {
				return nil, domain.NewDomainError("SessionManager", domain.ErrInvalidInput,
					fmt.Sprintf("session file for %q belongs to %q", key, meta.Key))
			}
			e := &sessionEntry{meta: *meta, messages: msgs, updatedAt: meta.CreatedAt}
			if len(msgs) > 0 {
				e.updatedAt = msgs[len(msgs)-1].Timestamp
			}
			sm.sessions[key] = e
			return e, nil
		case err != nil && !os.IsNotExist(err):
			return nil, domain.WrapOp("SessionManager.load", err)
		}
	}

	if !create {
		return nil, domain.NewDomainError("SessionManager.Get", domain.ErrSessionNotFound, key)
	}

	now := sm.now()
	e := &sessionEntry{
		meta: sessionMetadata{
			Type:      sessionMetadataType,
			ID:        ulid.Make().String(),
			Key:       key,
			CreatedAt: now,
		},
		updatedAt: now,
	}
	if sm.dataDir != "" {
		line, err := json.Marshal(e.meta)
		if err != nil {
			return nil, domain.WrapOp("SessionManager.create", err)
		}
		if err := writeFileAtomic(sm.sessionPath(key), append(line, '\n')); err != nil {
			return nil, domain.WrapOp("SessionManager.create", err)
		}
	}
	sm.sessions[key] = e
	sm.logger.Debug("session created", "session", key, "id", e.meta.ID)
	return e, nil
}

func (sm *SessionManager) appendLine(key string, msg domain.Message) error {
	if sm.dataDir == "" {
		return nil
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(sm.sessionPath(key), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readFile parses a session file. A nil metadata with nil error means the
// file held no metadata record; corrupt message lines are skipped.
func (sm *SessionManager) readFile(path string) (*sessionMetadata, []domain.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var (
		meta *sessionMetadata
		msgs []domain.Message
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxSessionLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if meta == nil && lineNo == 1 {
			var m sessionMetadata
			if err := json.Unmarshal(line, &m); err == nil && m.Type == sessionMetadataType {
				meta = &m
				continue
			}
		}
		var msg domain.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			sm.logger.Warn("skipping corrupt session line", "file", filepath.Base(path), "line", lineNo, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, nil, err
	}
	return meta, msgs, nil
}

func (sm *SessionManager) sessionPath(key string) string {
	return filepath.Join(sm.dataDir, sessionFileName(key))
}

// sessionFileName maps a key to a file name. Keys that need escaping get a
// hash suffix so distinct keys never share a file.
func sessionFileName(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	if safe == key {
		return safe + sessionFileExt
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return fmt.Sprintf("%s_%08x%s", safe, h.Sum32(), sessionFileExt)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
