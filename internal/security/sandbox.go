package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chasingclaw/internal/domain"
)

// Sandbox resolves tool paths against a workspace root. When restricted,
// any path that resolves outside the root is rejected with
// domain.ErrPathOutsideSandbox.
type Sandbox struct {
	root     string // absolute, resolved workspace root
	restrict bool
}

// NewSandbox creates a sandbox rooted at the given directory, creating it if needed.
func NewSandbox(root string, restrict bool) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}

	return &Sandbox{root: resolved, restrict: restrict}, nil
}

// ValidatePath resolves requested (relative paths are taken from the root)
// and, when restricted, checks that the result stays inside the root.
// Symlinks are followed on the longest existing prefix so paths that do not
// exist yet can still be validated.
func (s *Sandbox) ValidatePath(requested string) (string, error) {
	if requested == "" {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrInvalidInput, "empty path")
	}
	if strings.HasPrefix(requested, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			requested = filepath.Join(home, requested[2:])
		}
	}
	abs := requested
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox, err.Error())
	}

	if s.restrict && !s.Contains(resolved) {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}
	return resolved, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// Restricted reports whether paths are confined to the root.
func (s *Sandbox) Restricted() bool { return s.restrict }

// Contains reports whether an absolute, resolved path lies within the root.
func (s *Sandbox) Contains(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}

// resolveExisting follows symlinks on the deepest existing ancestor of path
// and re-appends the missing tail.
func resolveExisting(path string) (string, error) {
	var tail []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
