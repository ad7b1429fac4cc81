package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chasingclaw/internal/domain"
)

func newTestSandbox(t *testing.T, restrict bool) *Sandbox {
	t.Helper()
	sb, err := NewSandbox(t.TempDir(), restrict)
	require.NoError(t, err)
	return sb
}

func TestSandboxValidPath(t *testing.T) {
	sb := newTestSandbox(t, true)
	testFile := filepath.Join(sb.Root(), "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("hello"), 0o644))

	resolved, err := sb.ValidatePath(testFile)
	require.NoError(t, err)
	assert.Equal(t, testFile, resolved)
}

func TestSandboxRelativePathUsesRoot(t *testing.T) {
	sb := newTestSandbox(t, true)
	resolved, err := sb.ValidatePath("notes/today.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.Root(), "notes", "today.md"), resolved)
}

func TestSandboxPathTraversal(t *testing.T) {
	sb := newTestSandbox(t, true)

	for _, path := range []string{
		filepath.Join(sb.Root(), "..", "etc", "passwd"),
		"/etc/passwd",
		"../../root/.ssh",
	} {
		_, err := sb.ValidatePath(path)
		if !errors.Is(err, domain.ErrPathOutsideSandbox) {
			t.Errorf("path %q: expected ErrPathOutsideSandbox, got %v", path, err)
		}
	}
}

func TestSandboxUnrestrictedAllowsOutside(t *testing.T) {
	sb := newTestSandbox(t, false)
	outside, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	target := filepath.Join(outside, "x.txt")
	resolved, err := sb.ValidatePath(filepath.Join(outside, "sub", "..", "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, target, resolved)
	assert.False(t, sb.Restricted())
}

func TestSandboxDeepNewPath(t *testing.T) {
	sb := newTestSandbox(t, true)
	resolved, err := sb.ValidatePath("a/b/c/new.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.Root(), "a", "b", "c", "new.txt"), resolved)
}

func TestSandboxSymlinkEscape(t *testing.T) {
	sb := newTestSandbox(t, true)
	outside := t.TempDir()
	link := filepath.Join(sb.Root(), "escape")
	require.NoError(t, os.Symlink(outside, link))

	_, err := sb.ValidatePath(filepath.Join(link, "secret.txt"))
	assert.ErrorIs(t, err, domain.ErrPathOutsideSandbox)
}

func TestSandboxEmptyPath(t *testing.T) {
	sb := newTestSandbox(t, true)
	_, err := sb.ValidatePath("")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewSandboxCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workspace")
	sb, err := NewSandbox(root, true)
	require.NoError(t, err)
	info, err := os.Stat(sb.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewSandboxRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err := NewSandbox(f, true)
	assert.Error(t, err)
}
