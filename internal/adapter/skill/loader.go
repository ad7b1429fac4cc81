package skill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"chasingclaw/internal/domain"
)

// maxSkillFileSize is the maximum allowed skill file size (1 MiB).
const maxSkillFileSize = 1 << 20

// frontmatter is the YAML header of a SKILL.md file.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Always      bool   `yaml:"always"`
}

// FileLoader lists skills from markdown files in a directory. The
// directory is read on every List call so edits show up without a restart.
// It supports two layouts:
//   - Flat: skills/*.md (one file per skill)
//   - Subdirectory: skills/<name>/SKILL.md (one directory per skill)
type FileLoader struct {
	dir string
}

// NewFileLoader creates a loader that reads from the given directory.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

// List returns the skills sorted by name. A missing directory yields none.
func (l *FileLoader) List(_ context.Context) ([]domain.Skill, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skill dir %s: %w", l.dir, err)
	}

	seen := make(map[string]string)
	var skills []domain.Skill
	for _, entry := range entries {
		var path string
		if entry.IsDir() {
			candidate := filepath.Join(l.dir, entry.Name(), "SKILL.md")
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			path = candidate
		} else if strings.HasSuffix(entry.Name(), ".md") {
			path = filepath.Join(l.dir, entry.Name())
		} else {
			continue
		}

		skill, err := readSkill(path)
		if err != nil {
			return nil, err
		}
		if prev, exists := seen[skill.Name]; exists {
			return nil, fmt.Errorf("duplicate skill name %q in %s and %s", skill.Name, prev, path)
		}
		seen[skill.Name] = path
		skills = append(skills, skill)
	}

	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

// Get returns the named skill.
func (l *FileLoader) Get(ctx context.Context, name string) (*domain.Skill, error) {
	skills, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range skills {
		if skills[i].Name == name {
			return &skills[i], nil
		}
	}
	return nil, domain.NewDomainError("skill.Get", domain.ErrNotFound, name)
}

func readSkill(path string) (domain.Skill, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.Skill{}, fmt.Errorf("stat skill file %s: %w", path, err)
	}
	if info.Size() > maxSkillFileSize {
		return domain.Skill{}, fmt.Errorf("skill file %s too large (%d bytes, max %d)", path, info.Size(), maxSkillFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Skill{}, fmt.Errorf("read skill file %s: %w", path, err)
	}
	skill, err := parseSkillFile(string(data))
	if err != nil {
		return domain.Skill{}, fmt.Errorf("parse skill file %s: %w", path, err)
	}
	skill.Location = path
	return skill, nil
}

// parseSkillFile parses a markdown file with YAML frontmatter (--- delimited).
func parseSkillFile(content string) (domain.Skill, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "---") {
		return domain.Skill{}, fmt.Errorf("missing frontmatter delimiter")
	}

	parts := strings.SplitN(content[3:], "\n---", 2)
	if len(parts) != 2 {
		return domain.Skill{}, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(parts[0]), &fm); err != nil {
		return domain.Skill{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	if fm.Name == "" {
		return domain.Skill{}, fmt.Errorf("skill missing name in frontmatter")
	}

	return domain.Skill{
		Name:        fm.Name,
		Description: fm.Description,
		Always:      fm.Always,
		Body:        strings.TrimSpace(parts[1]),
	}, nil
}
