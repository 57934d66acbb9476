// Package progress contains the per-user progress aggregate and the
// sub-trackers that mutate it: module and lesson progress, certification
// attempts, playground usage counters, achievements and daily streaks.
//
// The package is pure domain logic. Persistence goes through SnapshotStore,
// which the infrastructure layer implements, and side effects are reported
// as events built here and published by the application layer.
package progress

import (
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// UserProgress is the complete progress record of one learner. It is the
// unit of consistency: loaded, mutated and saved as a whole.
type UserProgress struct {
	UserID string `json:"user_id"`

	// Version is the optimistic concurrency counter. Stores bump it on
	// every successful save.
	Version int64 `json:"version"`

	// LastUpdated is stamped on every mutation.
	LastUpdated time.Time `json:"last_updated"`

	Modules        map[string]*ModuleState        `json:"modules"`
	Certifications map[string]*CertificationState `json:"certifications"`
	Playground     PlaygroundStats                `json:"playground"`

	// Achievements are unique by id and kept in the order they were earned.
	Achievements []Achievement `json:"achievements"`

	Streak    StreakState `json:"streak"`
	Analytics Analytics   `json:"analytics"`
}

// Analytics holds engine-wide counters.
type Analytics struct {
	// TotalTimeSpent accumulates lesson and playground time. Never decreases.
	TotalTimeSpent time.Duration `json:"total_time_spent"`
}

// NewUserProgress creates the default aggregate for a learner seen for the
// first time: every declared module at zero with all but the first locked,
// every certification level unattempted, no achievements and no streak.
func NewUserProgress(userID shared.UserID, topo *curriculum.Topology, now time.Time) *UserProgress {
	p := &UserProgress{
		UserID:         userID.String(),
		LastUpdated:    now.UTC(),
		Modules:        make(map[string]*ModuleState, len(topo.Modules())),
		Certifications: make(map[string]*CertificationState, len(topo.Certifications())),
		Playground: PlaygroundStats{
			MethodologySteps: make(map[string]int),
		},
		Achievements: []Achievement{},
	}

	first := topo.FirstModuleID()
	for _, m := range topo.Modules() {
		p.Modules[m.ID] = newModuleState(m, m.ID != first)
	}
	for _, c := range topo.Certifications() {
		p.Certifications[c.Level] = newCertificationState(c.Level)
	}

	return p
}

// Touch stamps LastUpdated. A backdated now never moves it backwards.
func (p *UserProgress) Touch(now time.Time) {
	if now = now.UTC(); now.After(p.LastUpdated) {
		p.LastUpdated = now
	}
}

// Clone returns a deep copy of the aggregate.
func (p *UserProgress) Clone() *UserProgress {
	if p == nil {
		return nil
	}

	c := *p
	c.Modules = make(map[string]*ModuleState, len(p.Modules))
	for id, m := range p.Modules {
		c.Modules[id] = m.clone()
	}
	c.Certifications = make(map[string]*CertificationState, len(p.Certifications))
	for lvl, cs := range p.Certifications {
		c.Certifications[lvl] = cs.clone()
	}
	c.Playground = p.Playground.clone()
	c.Achievements = append([]Achievement{}, p.Achievements...)
	c.Streak = p.Streak.clone()

	return &c
}

// CompletedModules returns the number of completed modules.
func (p *UserProgress) CompletedModules() int {
	n := 0
	for _, m := range p.Modules {
		if m.Completed {
			n++
		}
	}
	return n
}

// OverallPercent returns completed lessons across the curriculum as a
// percentage of all declared lessons.
func (p *UserProgress) OverallPercent(topo *curriculum.Topology) shared.Percent {
	done := 0
	for _, m := range topo.Modules() {
		if st, ok := p.Modules[m.ID]; ok {
			done += min(st.CompletedLessons(), m.Lessons)
		}
	}
	return shared.PercentOf(done, topo.TotalLessons())
}

// Normalize fills nil collections of an aggregate decoded from storage so
// that trackers can write to it.
func (p *UserProgress) Normalize() {
	if p.Modules == nil {
		p.Modules = make(map[string]*ModuleState)
	}
	for _, m := range p.Modules {
		if m.Lessons == nil {
			m.Lessons = make(map[string]*LessonState)
		}
	}
	if p.Certifications == nil {
		p.Certifications = make(map[string]*CertificationState)
	}
	if p.Playground.MethodologySteps == nil {
		p.Playground.MethodologySteps = make(map[string]int)
	}
	if p.Achievements == nil {
		p.Achievements = []Achievement{}
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func stamp(now time.Time) *time.Time {
	t := now.UTC()
	return &t
}
