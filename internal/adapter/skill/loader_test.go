package skill

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chasingclaw/internal/domain"
)

const weatherSkill = `---
name: weather
description: Look up the forecast with curl
---
Run curl wttr.in/<city>?format=3 through the exec tool.`

func writeSkill(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileLoaderList(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "weather", "SKILL.md"), weatherSkill)
	writeSkill(t, filepath.Join(dir, "always.md"), "---\nname: house-rules\ndescription: Rules\nalways: true\n---\nBe brief.")
	writeSkill(t, filepath.Join(dir, "notes.txt"), "ignored")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))

	skills, err := NewFileLoader(dir).List(context.Background())
	require.NoError(t, err)
	require.Len(t, skills, 2)

	assert.Equal(t, "house-rules", skills[0].Name)
	assert.True(t, skills[0].Always)
	assert.Equal(t, "Be brief.", skills[0].Body)

	assert.Equal(t, "weather", skills[1].Name)
	assert.Equal(t, "Look up the forecast with curl", skills[1].Description)
	assert.False(t, skills[1].Always)
	assert.Equal(t, filepath.Join(dir, "weather", "SKILL.md"), skills[1].Location)
	assert.True(t, strings.HasPrefix(skills[1].Body, "Run curl"))
}

func TestFileLoaderMissingDir(t *testing.T) {
	skills, err := NewFileLoader(filepath.Join(t.TempDir(), "nope")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestFileLoaderSeesNewFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLoader(dir)

	skills, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, skills)

	writeSkill(t, filepath.Join(dir, "weather.md"), weatherSkill)
	skills, err = l.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, skills, 1)
}

func TestFileLoaderDuplicateName(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "a.md"), weatherSkill)
	writeSkill(t, filepath.Join(dir, "b.md"), weatherSkill)

	_, err := NewFileLoader(dir).List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate skill name "weather"`)
}

func TestFileLoaderTooLarge(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "big.md"), "---\nname: big\n---\n"+strings.Repeat("x", maxSkillFileSize))

	_, err := NewFileLoader(dir).List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestParseSkillFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no frontmatter", "just text", "missing frontmatter delimiter"},
		{"unclosed", "---\nname: x\n", "missing closing frontmatter delimiter"},
		{"no name", "---\ndescription: x\n---\nbody", "missing name"},
		{"bad yaml", "---\nname: [x\n---\nbody", "parse frontmatter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSkillFile(tt.content)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSkillTool(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "weather.md"), weatherSkill)
	tool := NewTool(NewFileLoader(dir), slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, "skill", tool.Schema().Name)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"name":"weather"}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "wttr.in")

	res, err = tool.Execute(context.Background(), json.RawMessage(`{"name":"cooking"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, domain.ErrNotFound.Error())

	res, err = tool.Execute(context.Background(), json.RawMessage(`{`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
