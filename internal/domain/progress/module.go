package progress

import (
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ModuleState tracks one curriculum module.
type ModuleState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Locked    bool   `json:"locked"`
	Completed bool   `json:"completed"`

	// Progress is round(100 * completed lessons / declared lessons).
	Progress int `json:"progress"`

	TimeSpent   time.Duration `json:"time_spent"`
	StartedAt   *time.Time    `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at"`

	Lessons map[string]*LessonState `json:"lessons"`
}

// LessonState tracks one lesson inside a module.
type LessonState struct {
	Completed        bool          `json:"completed"`
	TimeSpent        time.Duration `json:"time_spent"`
	Attempts         int           `json:"attempts"`
	FirstCompletedAt *time.Time    `json:"first_completed_at"`
}

// LessonOutcome reports the effects of one lesson activity.
type LessonOutcome struct {
	ModuleID            string
	ModuleJustCompleted bool

	// UnlockedModuleID is the successor unlocked by this activity, if any.
	UnlockedModuleID string
}

func newModuleState(m curriculum.Module, locked bool) *ModuleState {
	return &ModuleState{
		ID:      m.ID,
		Name:    m.Name,
		Locked:  locked,
		Lessons: make(map[string]*LessonState),
	}
}

// CompletedLessons returns how many lessons are marked completed.
func (m *ModuleState) CompletedLessons() int {
	n := 0
	for _, l := range m.Lessons {
		if l.Completed {
			n++
		}
	}
	return n
}

func (m *ModuleState) clone() *ModuleState {
	c := *m
	c.StartedAt = cloneTime(m.StartedAt)
	c.CompletedAt = cloneTime(m.CompletedAt)
	c.Lessons = make(map[string]*LessonState, len(m.Lessons))
	for id, l := range m.Lessons {
		lc := *l
		lc.FirstCompletedAt = cloneTime(l.FirstCompletedAt)
		c.Lessons[id] = &lc
	}
	return &c
}

// RecordLessonActivity records one interaction with a lesson. Attempts and
// time always accumulate; completion is stamped only on the first
// incomplete to complete transition. When the module first reaches 100% it
// is marked completed and its declared successor unlocked.
//
// Unknown module or lesson ids leave the aggregate untouched and return an
// invalid reference error.
func (p *UserProgress) RecordLessonActivity(
	topo *curriculum.Topology,
	moduleID, lessonID string,
	completedNow bool,
	timeDelta time.Duration,
	now time.Time,
) (LessonOutcome, error) {
	out := LessonOutcome{ModuleID: moduleID}

	def, ok := topo.Module(moduleID)
	if !ok {
		return out, fmt.Errorf("%w: %q", shared.ErrUnknownModule, moduleID)
	}
	if !topo.HasLesson(moduleID, lessonID) {
		return out, fmt.Errorf("%w: %q in module %q", shared.ErrUnknownLesson, lessonID, moduleID)
	}
	if timeDelta < 0 {
		return out, shared.ErrNegativeDuration
	}

	mod := p.ensureModule(topo, def)

	lesson, ok := mod.Lessons[lessonID]
	if !ok {
		lesson = &LessonState{}
		mod.Lessons[lessonID] = lesson
	}

	lesson.Attempts++
	lesson.TimeSpent += timeDelta
	mod.TimeSpent += timeDelta
	p.Analytics.TotalTimeSpent += timeDelta
	if mod.StartedAt == nil {
		mod.StartedAt = stamp(now)
	}

	if completedNow && !lesson.Completed {
		lesson.Completed = true
		lesson.FirstCompletedAt = stamp(now)
	}

	done := min(mod.CompletedLessons(), def.Lessons)
	mod.Progress = shared.PercentOf(done, def.Lessons).Int()

	if mod.Progress == 100 && !mod.Completed {
		mod.Completed = true
		mod.CompletedAt = stamp(now)
		out.ModuleJustCompleted = true

		if def.Next != "" {
			if p.unlock(topo, def.Next) {
				out.UnlockedModuleID = def.Next
			}
		}
	}

	return out, nil
}

// ensureModule returns the state of a declared module, creating it when the
// aggregate predates the module's addition to the curriculum.
func (p *UserProgress) ensureModule(topo *curriculum.Topology, def curriculum.Module) *ModuleState {
	if st, ok := p.Modules[def.ID]; ok {
		return st
	}
	st := newModuleState(def, !p.isOpen(topo, def.ID))
	p.Modules[def.ID] = st
	return st
}

// isOpen reports whether a module should start unlocked: it is the entry
// module or a completed module names it as successor.
func (p *UserProgress) isOpen(topo *curriculum.Topology, moduleID string) bool {
	if moduleID == topo.FirstModuleID() {
		return true
	}
	for _, m := range topo.Modules() {
		if m.Next != moduleID {
			continue
		}
		if st, ok := p.Modules[m.ID]; ok && st.Completed {
			return true
		}
	}
	return false
}

// unlock clears the locked flag of moduleID and reports whether it changed.
func (p *UserProgress) unlock(topo *curriculum.Topology, moduleID string) bool {
	st, ok := p.Modules[moduleID]
	if !ok {
		def, _ := topo.Module(moduleID)
		st = newModuleState(def, true)
		p.Modules[moduleID] = st
	}
	if !st.Locked {
		return false
	}
	st.Locked = false
	return true
}
