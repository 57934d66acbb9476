package progress

import (
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODULE EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// ModuleCompletedEvent is raised when a module first reaches 100%.
type ModuleCompletedEvent struct {
	shared.BaseEvent
	Module ModuleState `json:"module"`
}

// NewModuleCompletedEvent snapshots the completed module.
func NewModuleCompletedEvent(p *UserProgress, moduleID string, at time.Time) *ModuleCompletedEvent {
	e := &ModuleCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventModuleCompleted, p.UserID, at),
	}
	if st, ok := p.Modules[moduleID]; ok {
		e.Module = *st.clone()
	}
	return e
}

// Payload implements shared.Event.
func (e *ModuleCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.AggregateId,
		"module_id":    e.Module.ID,
		"module_name":  e.Module.Name,
		"progress":     e.Module.Progress,
		"time_spent":   e.Module.TimeSpent.Seconds(),
		"completed_at": e.Module.CompletedAt,
	}
}

// ModuleUnlockedEvent is raised when completing a module unlocks its successor.
type ModuleUnlockedEvent struct {
	shared.BaseEvent
	ModuleID   string `json:"module_id"`
	UnlockedBy string `json:"unlocked_by"`
}

// NewModuleUnlockedEvent creates an unlock event.
func NewModuleUnlockedEvent(userID, moduleID, unlockedBy string, at time.Time) *ModuleUnlockedEvent {
	return &ModuleUnlockedEvent{
		BaseEvent:  shared.NewBaseEvent(shared.EventModuleUnlocked, userID, at),
		ModuleID:   moduleID,
		UnlockedBy: unlockedBy,
	}
}

// Payload implements shared.Event.
func (e *ModuleUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.AggregateId,
		"module_id":   e.ModuleID,
		"unlocked_by": e.UnlockedBy,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CERTIFICATION EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// CertificationEarnedEvent is raised on the first passing attempt of a level.
type CertificationEarnedEvent struct {
	shared.BaseEvent
	Certification CertificationState `json:"certification"`
}

// NewCertificationEarnedEvent snapshots the achieved certification.
func NewCertificationEarnedEvent(p *UserProgress, level string, at time.Time) *CertificationEarnedEvent {
	e := &CertificationEarnedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCertificationEarned, p.UserID, at),
	}
	if st, ok := p.Certifications[level]; ok {
		e.Certification = *st.clone()
	}
	return e
}

// Payload implements shared.Event.
func (e *CertificationEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.AggregateId,
		"level":         e.Certification.Level,
		"score":         e.Certification.BestScore(),
		"attempt_count": e.Certification.AttemptCount,
		"achieved_at":   e.Certification.AchievedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementEarnedEvent is raised when an achievement is added.
type AchievementEarnedEvent struct {
	shared.BaseEvent
	Achievement Achievement `json:"achievement"`
}

// NewAchievementEarnedEvent creates an achievement event.
func NewAchievementEarnedEvent(userID string, a Achievement) *AchievementEarnedEvent {
	return &AchievementEarnedEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventAchievementEarned, userID, a.EarnedAt),
		Achievement: a,
	}
}

// Payload implements shared.Event.
func (e *AchievementEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.AggregateId,
		"achievement_id": e.Achievement.ID,
		"title":          e.Achievement.Title,
		"description":    e.Achievement.Description,
		"category":       string(e.Achievement.Category),
		"earned_at":      e.Achievement.EarnedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// StreakChangedEvent is raised when a touch grows or restarts the streak.
type StreakChangedEvent struct {
	shared.BaseEvent
	Streak   StreakState `json:"streak"`
	Previous int         `json:"previous"`
}

// NewStreakChangedEvent snapshots the streak after the change.
func NewStreakChangedEvent(p *UserProgress, previous int, at time.Time) *StreakChangedEvent {
	return &StreakChangedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventStreakChanged, p.UserID, at),
		Streak:    p.Streak.clone(),
		Previous:  previous,
	}
}

// Payload implements shared.Event.
func (e *StreakChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.AggregateId,
		"current":  e.Streak.Current,
		"longest":  e.Streak.Longest,
		"previous": e.Previous,
		"reset":    e.Streak.Current == 1 && e.Previous > 0,
	}
}
