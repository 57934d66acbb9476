package command

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOUCH STREAK COMMAND
// Counts a day of engagement without any other activity, e.g. a daily login.
// ══════════════════════════════════════════════════════════════════════════════

// TouchStreakCommand contains the data to record engagement.
type TouchStreakCommand struct {
	UserID string

	// Timestamp is when the learner was active (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c TouchStreakCommand) Validate() error {
	_, err := validateUser("touch_streak", c.UserID)
	return err
}

// TouchStreakResult contains the result of a streak touch.
type TouchStreakResult struct {
	Outcome

	Changed bool
	Streak  progress.StreakState
}

// TouchStreak executes the touch streak command.
func (c *Coordinator) TouchStreak(ctx context.Context, cmd TouchStreakCommand) (*TouchStreakResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID, _ := shared.NewUserID(cmd.UserID)

	result := &TouchStreakResult{}

	out, err := c.execute(ctx, execution{
		op:            "touch_streak",
		userID:        userID,
		timestamp:     cmd.Timestamp,
		correlationID: cmd.CorrelationID,
	}, func(u *unitOfWork) (bool, error) {
		p := u.progress
		previous := p.Streak.Current
		result.Changed = p.TouchStreak(u.now, c.loc)
		if result.Changed {
			u.emit(progress.NewStreakChangedEvent(p, previous, u.now))
		}
		return result.Changed, nil
	})
	if err != nil {
		return nil, err
	}

	result.Outcome = *out
	result.Streak = out.Progress.Streak
	return result, nil
}
