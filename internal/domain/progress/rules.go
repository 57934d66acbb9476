package progress

import (
	"fmt"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
)

// Well-known achievement ids.
const (
	AchievementCurriculumCompleted = "curriculum_completed"
	AchievementFirstPlayground     = "first_playground_session"
	AchievementFirstProject        = "playground_first_project"
	AchievementStreak7             = "streak_7"
	AchievementStreak30            = "streak_30"
)

// ModuleAchievementID returns the id granted when a module is completed.
func ModuleAchievementID(moduleID string) string {
	return fmt.Sprintf("module_%s_completed", moduleID)
}

// CertificationAchievementID returns the id granted when a level is achieved.
func CertificationAchievementID(level string) string {
	return level + "_certified"
}

// Rule inspects an aggregate and returns the grants whose condition holds.
// Rules are evaluated against state, so a rule may keep returning a grant
// that was already earned; RuleSet filters those out.
type Rule func(p *UserProgress, topo *curriculum.Topology) []AchievementGrant

// RuleSet evaluates derived achievement rules in a fixed order.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet creates a rule set evaluating rules in the given order.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// DefaultRules returns the built-in rule set: module and curriculum
// completion, certifications, first playground session and project, and
// 7 and 30 day streaks.
func DefaultRules() *RuleSet {
	return NewRuleSet(
		ModuleCompletionRule,
		CurriculumCompletionRule,
		CertificationRule,
		PlaygroundRule,
		StreakRule,
	)
}

// Evaluate returns grants that hold and are not yet earned, without
// duplicates, in rule order.
func (rs *RuleSet) Evaluate(p *UserProgress, topo *curriculum.Topology) []AchievementGrant {
	var out []AchievementGrant
	seen := make(map[string]bool)

	for _, rule := range rs.rules {
		for _, g := range rule(p, topo) {
			if seen[g.ID] || p.HasAchievement(g.ID) {
				continue
			}
			seen[g.ID] = true
			out = append(out, g)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// BUILT-IN RULES
// ══════════════════════════════════════════════════════════════════════════════

// ModuleCompletionRule grants module_<id>_completed for every completed
// module, in curriculum order.
func ModuleCompletionRule(p *UserProgress, topo *curriculum.Topology) []AchievementGrant {
	var out []AchievementGrant
	for _, m := range topo.Modules() {
		st, ok := p.Modules[m.ID]
		if !ok || !st.Completed {
			continue
		}
		out = append(out, AchievementGrant{
			ID:          ModuleAchievementID(m.ID),
			Title:       fmt.Sprintf("%s completed", m.Name),
			Description: fmt.Sprintf("Completed every lesson of %s", m.Name),
			Category:    CategoryLearning,
		})
	}
	return out
}

// CurriculumCompletionRule grants curriculum_completed once every declared
// module is completed.
func CurriculumCompletionRule(p *UserProgress, topo *curriculum.Topology) []AchievementGrant {
	for _, m := range topo.Modules() {
		st, ok := p.Modules[m.ID]
		if !ok || !st.Completed {
			return nil
		}
	}
	return []AchievementGrant{{
		ID:          AchievementCurriculumCompleted,
		Title:       "Curriculum completed",
		Description: "Completed every module of the curriculum",
		Category:    CategoryLearning,
	}}
}

// CertificationRule grants <level>_certified for achieved levels.
func CertificationRule(p *UserProgress, topo *curriculum.Topology) []AchievementGrant {
	var out []AchievementGrant
	for _, c := range topo.Certifications() {
		st, ok := p.Certifications[c.Level]
		if !ok || !st.Achieved {
			continue
		}
		name := c.Name
		if name == "" {
			name = c.Level
		}
		out = append(out, AchievementGrant{
			ID:          CertificationAchievementID(c.Level),
			Title:       fmt.Sprintf("%s earned", name),
			Description: fmt.Sprintf("Passed the %s certification", c.Level),
			Category:    CategoryCertification,
		})
	}
	return out
}

// PlaygroundRule grants the first session and first project achievements.
func PlaygroundRule(p *UserProgress, _ *curriculum.Topology) []AchievementGrant {
	var out []AchievementGrant
	if p.Playground.SessionsCompleted >= 1 {
		out = append(out, AchievementGrant{
			ID:          AchievementFirstPlayground,
			Title:       "First practice session",
			Description: "Completed a playground session",
			Category:    CategoryPractice,
		})
	}
	if p.Playground.ProjectsCreated >= 1 {
		out = append(out, AchievementGrant{
			ID:          AchievementFirstProject,
			Title:       "First project",
			Description: "Created a project in the playground",
			Category:    CategoryPractice,
		})
	}
	return out
}

// StreakRule grants streak_7 and streak_30.
func StreakRule(p *UserProgress, _ *curriculum.Topology) []AchievementGrant {
	var out []AchievementGrant
	if p.Streak.Current >= 7 {
		out = append(out, AchievementGrant{
			ID:          AchievementStreak7,
			Title:       "Week streak",
			Description: "Active 7 days in a row",
			Category:    CategoryGeneral,
		})
	}
	if p.Streak.Current >= 30 {
		out = append(out, AchievementGrant{
			ID:          AchievementStreak30,
			Title:       "Month streak",
			Description: "Active 30 days in a row",
			Category:    CategoryGeneral,
		})
	}
	return out
}
