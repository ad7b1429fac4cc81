package memory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"chasingclaw/internal/domain"
)

const longTermFile = "MEMORY.md"

// noteFrontmatter is the YAML header of a daily note file.
type noteFrontmatter struct {
	Date      string   `yaml:"date"`
	UpdatedAt string   `yaml:"updated_at"`
	Sessions  []string `yaml:"sessions,omitempty"`
}

// FileMemory implements domain.MemoryStore with plain markdown files:
// a hand-curated MEMORY.md for long-term context and one note file per
// day (notes/YYYY-MM-DD.md) that Store appends facts to.
type FileMemory struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewFileMemory creates a file-backed memory store rooted at dir.
func NewFileMemory(dir string) (*FileMemory, error) {
	if err := os.MkdirAll(filepath.Join(dir, "notes"), 0o700); err != nil {
		return nil, domain.NewDomainError("FileMemory.New", domain.ErrMemoryStore, err.Error())
	}
	return &FileMemory{dir: dir, now: time.Now}, nil
}

func (m *FileMemory) Name() string { return "file" }

// Retrieve returns long-term memory followed by today's notes.
func (m *FileMemory) Retrieve(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var parts []string
	longTerm, err := os.ReadFile(filepath.Join(m.dir, longTermFile))
	if err != nil && !os.IsNotExist(err) {
		return "", domain.NewDomainError("FileMemory.Retrieve", domain.ErrMemoryStore, err.Error())
	}
	if s := strings.TrimSpace(string(longTerm)); s != "" {
		parts = append(parts, "## Long-term Memory\n"+s)
	}

	_, body, err := m.readNote(m.now())
	if err != nil {
		return "", domain.NewDomainError("FileMemory.Retrieve", domain.ErrMemoryStore, err.Error())
	}
	if s := strings.TrimSpace(body); s != "" {
		parts = append(parts, "## Today's Notes\n"+s)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Store appends fact to today's note.
func (m *FileMemory) Store(_ context.Context, sessionKey, fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return domain.NewDomainError("FileMemory.Store", domain.ErrInvalidInput, "fact is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	fm, body, err := m.readNote(now)
	if err != nil {
		return domain.NewDomainError("FileMemory.Store", domain.ErrMemoryStore, err.Error())
	}
	fm.Date = now.Format(time.DateOnly)
	fm.UpdatedAt = now.UTC().Format(time.RFC3339)
	if sessionKey != "" && !slices.Contains(fm.Sessions, sessionKey) {
		fm.Sessions = append(fm.Sessions, sessionKey)
	}
	// Collapse newlines so one fact stays one list item.
	line := fmt.Sprintf("- %s %s\n", now.Format("15:04"), strings.Join(strings.Fields(fact), " "))

	if err := writeFileAtomic(m.notePath(now), renderNote(fm, body+line)); err != nil {
		return domain.NewDomainError("FileMemory.Store", domain.ErrMemoryStore, err.Error())
	}
	return nil
}

func (m *FileMemory) notePath(t time.Time) string {
	return filepath.Join(m.dir, "notes", t.Format(time.DateOnly)+".md")
}

func (m *FileMemory) readNote(t time.Time) (noteFrontmatter, string, error) {
	data, err := os.ReadFile(m.notePath(t))
	if os.IsNotExist(err) {
		return noteFrontmatter{}, "", nil
	}
	if err != nil {
		return noteFrontmatter{}, "", err
	}
	return parseNote(data)
}

func renderNote(fm noteFrontmatter, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	enc.Encode(fm)
	enc.Close()
	buf.WriteString("---\n\n")
	buf.WriteString(body)
	return buf.Bytes()
}

// parseNote splits a note into front matter and body. Files without front
// matter are treated as all body.
func parseNote(data []byte) (noteFrontmatter, string, error) {
	var fm noteFrontmatter
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return fm, content, nil
	}
	rest := content[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return fm, "", fmt.Errorf("missing frontmatter end")
	}
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return fm, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, strings.TrimLeft(rest[idx+5:], "\n"), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
