package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/security"
)

func newTestFilesystem(t testing.TB, restrict bool) (*FilesystemTool, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	sb, err := security.NewSandbox(root, restrict)
	require.NoError(t, err)
	return NewFilesystemTool(nil, sb, newTestLogger()), root
}

func execFS(t *testing.T, fs *FilesystemTool, params map[string]any) *domain.ToolResult {
	t.Helper()
	data, err := json.Marshal(params)
	require.NoError(t, err)
	res, err := fs.Execute(context.Background(), data)
	require.NoError(t, err)
	return res
}

func TestFilesystemWriteReadRoundTrip(t *testing.T) {
	fs, root := newTestFilesystem(t, true)

	res := execFS(t, fs, map[string]any{"action": "write", "path": "notes/a.txt", "content": "hello"})
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "wrote 5 bytes")

	data, err := os.ReadFile(filepath.Join(root, "notes", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res = execFS(t, fs, map[string]any{"action": "read", "path": "notes/a.txt"})
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "hello", res.Content)
}

func TestFilesystemEdit(t *testing.T) {
	fs, root := newTestFilesystem(t, true)
	path := filepath.Join(root, "code.go")
	require.NoError(t, os.WriteFile(path, []byte("a := 1\nb := 2\nb := 2\n"), 0o644))

	res := execFS(t, fs, map[string]any{"action": "edit", "path": "code.go", "old_text": "a := 1", "new_text": "a := 10"})
	require.False(t, res.IsError, res.Content)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "a := 10\nb := 2\nb := 2\n", string(data))

	res = execFS(t, fs, map[string]any{"action": "edit", "path": "code.go", "old_text": "b := 2", "new_text": "x"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "occurs 2 times")

	res = execFS(t, fs, map[string]any{"action": "edit", "path": "code.go", "old_text": "zzz", "new_text": "x"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "not found")

	data, _ = os.ReadFile(path)
	assert.Equal(t, "a := 10\nb := 2\nb := 2\n", string(data), "failed edits leave the file untouched")
}

func TestFilesystemList(t *testing.T) {
	fs, root := newTestFilesystem(t, true)

	res := execFS(t, fs, map[string]any{"action": "list"})
	assert.Equal(t, "(empty directory)", res.Content)

	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), nil, 0o644))

	res = execFS(t, fs, map[string]any{"action": "list", "path": "."})
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "f.txt\nsub/\n", res.Content)
}

func TestFilesystemRejectsEscapes(t *testing.T) {
	fs, root := newTestFilesystem(t, true)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s3cret"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	cases := []map[string]any{
		{"action": "read", "path": filepath.Join(outside, "secret.txt")},
		{"action": "read", "path": "../../../../etc/passwd"},
		{"action": "read", "path": "link/secret.txt"},
		{"action": "write", "path": "../escape.txt", "content": "x"},
		{"action": "edit", "path": "link/secret.txt", "old_text": "s3cret", "new_text": "x"},
		{"action": "list", "path": ".."},
	}
	for _, params := range cases {
		res := execFS(t, fs, params)
		assert.True(t, res.IsError, "%v should be rejected", params)
		assert.Contains(t, res.Content, domain.ErrPathOutsideSandbox.Error())
	}

	data, _ := os.ReadFile(filepath.Join(outside, "secret.txt"))
	assert.Equal(t, "s3cret", string(data))
}

func TestFilesystemUnrestrictedAllowsOutside(t *testing.T) {
	fs, _ := newTestFilesystem(t, false)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "x.txt"), []byte("ok"), 0o644))

	res := execFS(t, fs, map[string]any{"action": "read", "path": filepath.Join(outside, "x.txt")})
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "ok", res.Content)
}

func TestFilesystemValidation(t *testing.T) {
	fs, _ := newTestFilesystem(t, true)

	res := execFS(t, fs, map[string]any{"action": "read"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "'path' is required")

	res = execFS(t, fs, map[string]any{"action": "delete", "path": "a"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "unknown action")

	res = execFS(t, fs, map[string]any{"action": "read", "path": "missing.txt"})
	assert.True(t, res.IsError)
}

func FuzzFilesystemStaysInRoot(f *testing.F) {
	fs, root := newTestFilesystem(f, true)
	os.WriteFile(filepath.Join(root, "safe.txt"), []byte("safe"), 0o644)

	f.Add("read", "safe.txt")
	f.Add("read", "../../../../etc/passwd")
	f.Add("write", "../../escape.txt")
	f.Add("list", "..")
	f.Add("write", "a/../../b")
	f.Add("read", "safe.txt\x00../../etc/passwd")

	f.Fuzz(func(t *testing.T, action, path string) {
		params, _ := json.Marshal(filesystemParams{Action: action, Path: path, Content: "x"})
		res, err := fs.Execute(context.Background(), params)
		if err != nil || res.IsError {
			return
		}
		if path == "" || path == "." {
			return
		}
		resolved, verr := fs.sandbox.ValidatePath(path)
		if verr == nil && !strings.HasPrefix(resolved, root) {
			t.Errorf("path %q resolved to %q outside %q", path, resolved, root)
		}
	})
}
