package command

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD LESSON ACTIVITY COMMAND
// Records an interaction with a lesson: attempts and time always count,
// completion is recorded once and may complete the module and unlock its
// successor.
// ══════════════════════════════════════════════════════════════════════════════

// RecordLessonActivityCommand contains the data to record lesson activity.
type RecordLessonActivityCommand struct {
	UserID   string
	ModuleID string
	LessonID string

	// Completed marks the lesson as completed by this interaction.
	Completed bool

	// TimeSpent is added to lesson, module and total time.
	TimeSpent time.Duration

	// Timestamp is when the activity occurred (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordLessonActivityCommand) Validate() error {
	if _, err := validateUser("record_lesson", c.UserID); err != nil {
		return err
	}
	if c.TimeSpent < 0 {
		return shared.ErrNegativeDuration
	}
	return nil
}

// RecordLessonActivityResult contains the result of recording lesson activity.
type RecordLessonActivityResult struct {
	Outcome

	// Lesson reports the tracker effects.
	Lesson progress.LessonOutcome

	// ModuleProgress is the module percentage after the activity.
	ModuleProgress int
}

// RecordLessonActivity executes the record lesson activity command.
func (c *Coordinator) RecordLessonActivity(ctx context.Context, cmd RecordLessonActivityCommand) (*RecordLessonActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID, _ := shared.NewUserID(cmd.UserID)

	result := &RecordLessonActivityResult{}

	out, err := c.execute(ctx, execution{
		op:            "record_lesson",
		userID:        userID,
		timestamp:     cmd.Timestamp,
		correlationID: cmd.CorrelationID,
		activity:      true,
		fields:        []logger.Field{logger.ModuleID(cmd.ModuleID), logger.LessonID(cmd.LessonID)},
	}, func(u *unitOfWork) (bool, error) {
		p := u.progress
		lo, err := p.RecordLessonActivity(c.topology, cmd.ModuleID, cmd.LessonID, cmd.Completed, cmd.TimeSpent, u.now)
		if err != nil {
			return false, err
		}
		result.Lesson = lo

		if lo.ModuleJustCompleted {
			u.emit(progress.NewModuleCompletedEvent(p, lo.ModuleID, u.now))
		}
		if lo.UnlockedModuleID != "" {
			u.emit(progress.NewModuleUnlockedEvent(p.UserID, lo.UnlockedModuleID, lo.ModuleID, u.now))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	result.Outcome = *out
	if m, ok := out.Progress.Modules[cmd.ModuleID]; ok {
		result.ModuleProgress = m.Progress
	}
	return result, nil
}
