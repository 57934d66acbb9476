package progress

import (
	"strings"
	"time"
)

// AchievementCategory groups achievements for display and export.
type AchievementCategory string

const (
	CategoryCertification AchievementCategory = "certification"
	CategoryLearning      AchievementCategory = "learning"
	CategoryPractice      AchievementCategory = "practice"
	CategoryGeneral       AchievementCategory = "general"
)

// IsValid checks if the category is one of the known categories.
func (c AchievementCategory) IsValid() bool {
	switch c {
	case CategoryCertification, CategoryLearning, CategoryPractice, CategoryGeneral:
		return true
	}
	return false
}

// ClassifyAchievement derives a category from id naming conventions. It is
// the fallback for grants that do not carry an explicit category.
func ClassifyAchievement(id string) AchievementCategory {
	switch {
	case strings.Contains(id, "certified"):
		return CategoryCertification
	case strings.Contains(id, "module"):
		return CategoryLearning
	case strings.Contains(id, "playground"):
		return CategoryPractice
	default:
		return CategoryGeneral
	}
}

// Achievement is an earned badge.
type Achievement struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Category    AchievementCategory `json:"category"`
	EarnedAt    time.Time           `json:"earned_at"`
}

// AchievementGrant describes an achievement to award.
type AchievementGrant struct {
	ID          string
	Title       string
	Description string
	Category    AchievementCategory
}

// HasAchievement reports whether id was already earned.
func (p *UserProgress) HasAchievement(id string) bool {
	_, ok := p.Achievement(id)
	return ok
}

// Achievement returns the earned achievement with the given id.
func (p *UserProgress) Achievement(id string) (Achievement, bool) {
	for _, a := range p.Achievements {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// GrantAchievement appends the achievement unless its id was already earned,
// and reports whether it was added. A repeated grant keeps the original
// entry and timestamp.
func (p *UserProgress) GrantAchievement(g AchievementGrant, now time.Time) bool {
	if g.ID == "" || p.HasAchievement(g.ID) {
		return false
	}

	category := g.Category
	if category == "" {
		category = ClassifyAchievement(g.ID)
	}
	title := g.Title
	if title == "" {
		title = g.ID
	}

	p.Achievements = append(p.Achievements, Achievement{
		ID:          g.ID,
		Title:       title,
		Description: g.Description,
		Category:    category,
		EarnedAt:    now.UTC(),
	})
	return true
}
