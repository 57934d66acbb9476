package query

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPORT ANALYTICS QUERY
// Flattens an aggregate into the summary consumed by the analytics exporter.
// ══════════════════════════════════════════════════════════════════════════════

// ExportAnalyticsQuery contains the parameters of an export.
type ExportAnalyticsQuery struct {
	UserID string
}

// Validate validates the query.
func (q ExportAnalyticsQuery) Validate() error {
	_, err := shared.NewUserID(q.UserID)
	return err
}

// AnalyticsDTO is the exported summary of one learner.
type AnalyticsDTO struct {
	UserID      string    `json:"user_id" yaml:"user_id"`
	Version     int64     `json:"version" yaml:"version"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`

	// ─────────────────────────────────────────────────────────────────────────
	// Curriculum
	// ─────────────────────────────────────────────────────────────────────────

	OverallProgress  int            `json:"overall_progress" yaml:"overall_progress"`
	CompletedModules int            `json:"completed_modules" yaml:"completed_modules"`
	TotalModules     int            `json:"total_modules" yaml:"total_modules"`
	ModuleProgress   map[string]int `json:"module_progress" yaml:"module_progress"`

	// AchievedCertifications lists achieved levels in curriculum order.
	AchievedCertifications []string `json:"achieved_certifications" yaml:"achieved_certifications"`

	// ─────────────────────────────────────────────────────────────────────────
	// Engagement
	// ─────────────────────────────────────────────────────────────────────────

	// Achievements lists earned ids in the order they were earned.
	Achievements []string `json:"achievements" yaml:"achievements"`

	CurrentStreak    int     `json:"current_streak" yaml:"current_streak"`
	LongestStreak    int     `json:"longest_streak" yaml:"longest_streak"`
	TotalTimeSeconds float64 `json:"total_time_seconds" yaml:"total_time_seconds"`

	Playground PlaygroundDTO `json:"playground" yaml:"playground"`
}

// PlaygroundDTO holds the playground counters.
type PlaygroundDTO struct {
	SessionsCompleted int            `json:"sessions_completed" yaml:"sessions_completed"`
	ProjectsCreated   int            `json:"projects_created" yaml:"projects_created"`
	CodeExecutions    int            `json:"code_executions" yaml:"code_executions"`
	MethodologySteps  map[string]int `json:"methodology_steps" yaml:"methodology_steps"`
	TimeSeconds       float64        `json:"time_seconds" yaml:"time_seconds"`
}

// ExportAnalyticsHandler handles analytics exports.
type ExportAnalyticsHandler struct {
	store    progress.SnapshotStore
	topology *curriculum.Topology
	clock    func() time.Time
}

// NewExportAnalyticsHandler creates a new handler. A nil clock uses time.Now.
func NewExportAnalyticsHandler(store progress.SnapshotStore, topology *curriculum.Topology, clock func() time.Time) *ExportAnalyticsHandler {
	if clock == nil {
		clock = time.Now
	}
	return &ExportAnalyticsHandler{store: store, topology: topology, clock: clock}
}

// Handle executes the query.
func (h *ExportAnalyticsHandler) Handle(ctx context.Context, q ExportAnalyticsQuery) (*AnalyticsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	userID, _ := shared.NewUserID(q.UserID)

	p, _, err := loadOrDefault(ctx, h.store, h.topology, userID, h.clock())
	if err != nil {
		return nil, shared.WrapError("query", "ExportAnalytics", shared.ErrStorage, "load progress", err)
	}

	return BuildAnalytics(p, h.topology), nil
}

// BuildAnalytics summarizes p against the curriculum.
func BuildAnalytics(p *progress.UserProgress, topo *curriculum.Topology) *AnalyticsDTO {
	dto := &AnalyticsDTO{
		UserID:                 p.UserID,
		Version:                p.Version,
		LastUpdated:            p.LastUpdated,
		OverallProgress:        p.OverallPercent(topo).Int(),
		CompletedModules:       p.CompletedModules(),
		TotalModules:           len(topo.Modules()),
		ModuleProgress:         make(map[string]int, len(p.Modules)),
		AchievedCertifications: []string{},
		Achievements:           make([]string, 0, len(p.Achievements)),
		CurrentStreak:          p.Streak.Current,
		LongestStreak:          p.Streak.Longest,
		TotalTimeSeconds:       p.Analytics.TotalTimeSpent.Seconds(),
		Playground: PlaygroundDTO{
			SessionsCompleted: p.Playground.SessionsCompleted,
			ProjectsCreated:   p.Playground.ProjectsCreated,
			CodeExecutions:    p.Playground.CodeExecutions,
			MethodologySteps:  make(map[string]int, len(p.Playground.MethodologySteps)),
			TimeSeconds:       p.Playground.TimeSpent.Seconds(),
		},
	}

	for id, m := range p.Modules {
		dto.ModuleProgress[id] = m.Progress
	}
	for _, c := range topo.Certifications() {
		if st, ok := p.Certifications[c.Level]; ok && st.Achieved {
			dto.AchievedCertifications = append(dto.AchievedCertifications, c.Level)
		}
	}
	for _, a := range p.Achievements {
		dto.Achievements = append(dto.Achievements, a.ID)
	}
	for step, n := range p.Playground.MethodologySteps {
		dto.Playground.MethodologySteps[step] = n
	}

	return dto
}
