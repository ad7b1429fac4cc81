package domain

import "context"

// Skill is a capability description loaded from a SKILL.md file.
type Skill struct {
	Name        string
	Description string
	Location    string
	Always      bool // include the full body in every prompt
	Body        string
}

// SkillsLoader lists the skills available to the agent.
type SkillsLoader interface {
	List(ctx context.Context) ([]Skill, error)
}
