package progress

import "time"

// PlaygroundActionKind names a practice-tool interaction.
type PlaygroundActionKind string

const (
	ActionSessionCompleted         PlaygroundActionKind = "session_completed"
	ActionProjectCreated           PlaygroundActionKind = "project_created"
	ActionCodeExecuted             PlaygroundActionKind = "code_executed"
	ActionMethodologyStepCompleted PlaygroundActionKind = "methodology_step_completed"
	ActionTimeSpent                PlaygroundActionKind = "time_spent"
)

// IsKnown returns true for the kinds the tracker counts.
func (k PlaygroundActionKind) IsKnown() bool {
	switch k {
	case ActionSessionCompleted, ActionProjectCreated, ActionCodeExecuted,
		ActionMethodologyStepCompleted, ActionTimeSpent:
		return true
	}
	return false
}

// PlaygroundAction is one practice-tool interaction. Step is used by
// methodology_step_completed, Duration by time_spent.
type PlaygroundAction struct {
	Kind     PlaygroundActionKind
	Step     string
	Duration time.Duration
}

// PlaygroundStats holds practice-tool counters.
type PlaygroundStats struct {
	SessionsCompleted int            `json:"sessions_completed"`
	ProjectsCreated   int            `json:"projects_created"`
	CodeExecutions    int            `json:"code_executions"`
	MethodologySteps  map[string]int `json:"methodology_steps"`
	TimeSpent         time.Duration  `json:"time_spent"`
}

func (s PlaygroundStats) clone() PlaygroundStats {
	c := s
	c.MethodologySteps = make(map[string]int, len(s.MethodologySteps))
	for k, v := range s.MethodologySteps {
		c.MethodologySteps[k] = v
	}
	return c
}

// RecordPlaygroundAction bumps the counter matching the action kind and
// reports whether anything changed. Unrecognized kinds, methodology steps
// without a name and non-positive time deltas are ignored.
func (p *UserProgress) RecordPlaygroundAction(a PlaygroundAction) bool {
	pg := &p.Playground

	switch a.Kind {
	case ActionSessionCompleted:
		pg.SessionsCompleted++
	case ActionProjectCreated:
		pg.ProjectsCreated++
	case ActionCodeExecuted:
		pg.CodeExecutions++
	case ActionMethodologyStepCompleted:
		if a.Step == "" {
			return false
		}
		if pg.MethodologySteps == nil {
			pg.MethodologySteps = make(map[string]int)
		}
		pg.MethodologySteps[a.Step]++
	case ActionTimeSpent:
		if a.Duration <= 0 {
			return false
		}
		pg.TimeSpent += a.Duration
		p.Analytics.TotalTimeSpent += a.Duration
	default:
		return false
	}

	return true
}
